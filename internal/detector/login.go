package detector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// LoginConfig tunes the login detector.
type LoginConfig struct {
	// BruteForceThreshold is the failed-attempt count per username that qualifies.
	BruteForceThreshold int `toml:"brute_force_threshold"`
	// BruteForceWindow is the maximum span in seconds between the earliest and
	// latest qualifying failure.
	BruteForceWindow int `toml:"brute_force_window"`
	// OffHoursStart and OffHoursEnd bound the suspicious window [start,end) in
	// local hours. A start after end wraps past midnight.
	OffHoursStart       int      `toml:"off_hours_start"`
	OffHoursEnd         int      `toml:"off_hours_end"`
	PrivilegedKeywords  []string `toml:"privileged_keywords"`
	SuspiciousLocations []string `toml:"suspicious_locations"`
	// Timezone is an IANA zone name for the off-hours check; empty or "Local"
	// uses the host zone.
	Timezone string `toml:"timezone"`
}

// DefaultLoginConfig returns the stock login thresholds.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		BruteForceThreshold: 10,
		BruteForceWindow:    300,
		OffHoursStart:       0,
		OffHoursEnd:         6,
		PrivilegedKeywords:  []string{"admin", "root", "administrator", "sa"},
		SuspiciousLocations: []string{"Unknown", "Tor Exit Node"},
		Timezone:            "Local",
	}
}

// LoginDetector flags off-hours, privileged and suspicious-location access and
// brute-force bursts.
type LoginDetector struct {
	cfg LoginConfig
	loc *time.Location
}

// NewLoginDetector resolves the configured timezone.
func NewLoginDetector(cfg LoginConfig) (*LoginDetector, error) {
	loc := time.Local
	if cfg.Timezone != "" && !strings.EqualFold(cfg.Timezone, "local") {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("login detector timezone: %w", err)
		}
		loc = l
	}
	return &LoginDetector{cfg: cfg, loc: loc}, nil
}

// Detect scans the batch. Per-record indicators come first in record order,
// followed by at most one brute-force indicator.
func (d *LoginDetector) Detect(records []telemetry.LoginRecord) ([]Indicator, Summary) {
	var indicators []Indicator
	users := make(map[string]bool)
	ips := make(map[string]bool)
	failed := 0

	for _, r := range records {
		users[r.Username] = true
		ips[r.SourceIP] = true
		if !r.Success {
			failed++
		}
		indicators = append(indicators, d.recordAnomalies(r)...)
	}

	if bf, ok := d.bruteForce(records); ok {
		indicators = append(indicators, bf)
	}

	failureRatio, failureRate := ratio(failed, len(records))
	return indicators, Summary{
		Domain:         telemetry.DomainLogin,
		Total:          len(records),
		IndicatorCount: len(indicators),
		Login: &LoginStats{
			TotalAttempts:      len(records),
			FailedAttempts:     failed,
			SuccessfulAttempts: len(records) - failed,
			FailureRatio:       failureRatio,
			FailureRate:        failureRate,
			UniqueUsers:        len(users),
			UniqueIPs:          len(ips),
		},
	}
}

func (d *LoginDetector) recordAnomalies(r telemetry.LoginRecord) []Indicator {
	var out []Indicator

	hour := d.localTime(r).Hour()
	if inHourWindow(hour, d.cfg.OffHoursStart, d.cfg.OffHoursEnd) {
		out = append(out, Indicator{
			Type:     "off_hours_access",
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("Login attempt at %02d:00 (suspicious hours)", hour),
			Attributes: map[string]any{
				"username":  r.Username,
				"source_ip": r.SourceIP,
				"hour":      hour,
			},
		})
	}

	if containsFold(r.Username, d.cfg.PrivilegedKeywords) {
		out = append(out, Indicator{
			Type:     "privileged_account_access",
			Severity: SeverityHigh,
			Detail:   "Attempt on privileged account: " + r.Username,
			Attributes: map[string]any{
				"username":  r.Username,
				"source_ip": r.SourceIP,
			},
		})
	}

	if r.Location != "" && containsFold(r.Location, d.cfg.SuspiciousLocations) {
		out = append(out, Indicator{
			Type:     "suspicious_location",
			Severity: SeverityMedium,
			Detail:   "Login from flagged location: " + r.Location,
			Attributes: map[string]any{
				"username": r.Username,
				"location": r.Location,
			},
		})
	}

	return out
}

// bruteForce reports the first username, in first-appearance order, whose
// failed attempts meet the threshold within the window.
func (d *LoginDetector) bruteForce(records []telemetry.LoginRecord) (Indicator, bool) {
	if d.cfg.BruteForceThreshold <= 0 {
		return Indicator{}, false
	}

	failures := newOrderedGroup[time.Time]()
	for _, r := range records {
		if r.Success {
			failures.touch(r.Username)
			continue
		}
		failures.add(r.Username, d.localTime(r))
	}

	for _, user := range failures.keys {
		times := failures.values[user]
		if len(times) < d.cfg.BruteForceThreshold {
			continue
		}
		earliest, latest := times[0], times[0]
		for _, t := range times[1:] {
			if t.Before(earliest) {
				earliest = t
			}
			if t.After(latest) {
				latest = t
			}
		}
		span := latest.Sub(earliest).Seconds()
		if span > float64(d.cfg.BruteForceWindow) {
			continue
		}
		window := int(math.Round(span))
		return Indicator{
			Type:     "brute_force_attack",
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("%d failed attempts for %s in %ds", len(times), user, window),
			Attributes: map[string]any{
				"username":      user,
				"attempt_count": len(times),
				"time_window":   window,
			},
		}, true
	}
	return Indicator{}, false
}

// localTime returns the event time in the detector's zone. Zoneless
// timestamps keep their wall clock.
func (d *LoginDetector) localTime(r telemetry.LoginRecord) time.Time {
	t := r.Timestamp
	if r.Zoneless {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), d.loc)
	}
	return t.In(d.loc)
}

func inHourWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// containsFold reports whether s contains any needle, ignoring case.
func containsFold(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
