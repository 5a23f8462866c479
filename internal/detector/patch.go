package detector

import (
	"fmt"
	"time"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// UnknownPatchAgeDays is reported for systems without a last-patched time.
const UnknownPatchAgeDays = 999

// PatchConfig tunes the patch detector.
type PatchConfig struct {
	// CriticalAgeDays and HighAgeDays are patch-age cut points; CriticalAgeDays
	// must not be below HighAgeDays.
	CriticalAgeDays int `toml:"critical_age_days"`
	HighAgeDays     int `toml:"high_age_days"`
	// CVSS lower bounds for CRITICAL, HIGH and MEDIUM.
	CVSSCritical float64 `toml:"cvss_critical"`
	CVSSHigh     float64 `toml:"cvss_high"`
	CVSSMedium   float64 `toml:"cvss_medium"`
}

// DefaultPatchConfig returns the stock patch thresholds.
func DefaultPatchConfig() PatchConfig {
	return PatchConfig{
		CriticalAgeDays: 60,
		HighAgeDays:     30,
		CVSSCritical:    9.0,
		CVSSHigh:        7.0,
		CVSSMedium:      4.0,
	}
}

// CVSSSeverity maps a CVSS base score onto the four-level scale.
func (c PatchConfig) CVSSSeverity(score float64) Severity {
	switch {
	case score >= c.CVSSCritical:
		return SeverityCritical
	case score >= c.CVSSHigh:
		return SeverityHigh
	case score >= c.CVSSMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PatchDetector flags stale systems, scored missing patches and end-of-life
// software.
type PatchDetector struct {
	cfg PatchConfig
}

func NewPatchDetector(cfg PatchConfig) *PatchDetector {
	return &PatchDetector{cfg: cfg}
}

// PatchAgeDays returns whole days since last, or UnknownPatchAgeDays when nil.
func PatchAgeDays(last *time.Time, now time.Time) int {
	if last == nil {
		return UnknownPatchAgeDays
	}
	days := int(now.Sub(*last).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Detect scans the batch in record order. Patch ages are measured from now.
func (d *PatchDetector) Detect(records []telemetry.PatchRecord, now time.Time) ([]Indicator, Summary) {
	var indicators []Indicator

	for _, r := range records {
		age := PatchAgeDays(r.LastPatched, now)
		if sev, ok := d.ageSeverity(age); ok {
			indicators = append(indicators, Indicator{
				Type:     "outdated_patches",
				Severity: sev,
				Detail:   fmt.Sprintf("System %s not patched for %d days", r.Hostname, age),
				Attributes: map[string]any{
					"system":                r.Hostname,
					"days_since_last_patch": age,
				},
			})
		}

		for _, p := range r.MissingPatches {
			if !p.HasScore {
				continue
			}
			indicators = append(indicators, Indicator{
				Type:     "missing_critical_patch",
				Severity: d.cfg.CVSSSeverity(p.Score),
				Detail:   fmt.Sprintf("%s: missing patch %s (CVE: %s, score: %.1f)", r.Hostname, orDash(p.PatchID), orDash(p.CVEID), p.Score),
				Attributes: map[string]any{
					"system":    r.Hostname,
					"patch_id":  p.PatchID,
					"cve_id":    p.CVEID,
					"cve_score": p.Score,
				},
			})
		}

		if r.EndOfLife {
			indicators = append(indicators, Indicator{
				Type:     "end_of_life_software",
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("System %s running end-of-life software: %s", r.Hostname, orDash(r.OS)),
				Attributes: map[string]any{
					"system": r.Hostname,
					"os":     r.OS,
				},
			})
		}
	}

	stats := &PatchStats{TotalSystems: len(records), TotalVulnerabilities: len(indicators)}
	for _, ind := range indicators {
		switch ind.Severity {
		case SeverityCritical:
			stats.Critical++
		case SeverityHigh:
			stats.High++
		case SeverityMedium:
			stats.Medium++
		case SeverityLow:
			stats.Low++
		}
	}

	return indicators, Summary{
		Domain:         telemetry.DomainPatch,
		Total:          len(records),
		IndicatorCount: len(indicators),
		Patch:          stats,
	}
}

func (d *PatchDetector) ageSeverity(days int) (Severity, bool) {
	switch {
	case days > d.cfg.CriticalAgeDays:
		return SeverityCritical, true
	case days > d.cfg.HighAgeDays:
		return SeverityHigh, true
	}
	return "", false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
