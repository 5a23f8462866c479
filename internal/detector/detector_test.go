package detector

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/threatlens/internal/telemetry"
)

var base = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func utcLoginDetector(t *testing.T, mutate func(*LoginConfig)) *LoginDetector {
	t.Helper()
	cfg := DefaultLoginConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewLoginDetector(cfg)
	require.NoError(t, err)
	return d
}

func byType(indicators []Indicator, typ string) []Indicator {
	var out []Indicator
	for _, ind := range indicators {
		if ind.Type == typ {
			out = append(out, ind)
		}
	}
	return out
}

func failedLogins(user string, n int, step time.Duration) []telemetry.LoginRecord {
	recs := make([]telemetry.LoginRecord, n)
	for i := range recs {
		recs[i] = telemetry.LoginRecord{
			Username:  user,
			SourceIP:  "203.0.113.7",
			Timestamp: base.Add(time.Duration(i) * step),
		}
	}
	return recs
}

func TestLoginDetector_AdminBruteForceScenario(t *testing.T) {
	recs := failedLogins("admin", 11, 10*time.Second)
	recs = append(recs, telemetry.LoginRecord{
		Username: "admin", SourceIP: "203.0.113.7", Timestamp: base.Add(2 * time.Minute), Success: true,
	})

	indicators, summary := utcLoginDetector(t, nil).Detect(recs)

	require.NotNil(t, summary.Login)
	assert.Equal(t, 12, summary.Login.TotalAttempts)
	assert.Equal(t, 11, summary.Login.FailedAttempts)
	assert.Equal(t, "91.67%", summary.Login.FailureRate)
	assert.InDelta(t, 0.9167, summary.Login.FailureRatio, 0.0001)
	assert.Equal(t, 1, summary.Login.UniqueUsers)
	assert.Equal(t, len(indicators), summary.IndicatorCount)

	bf := byType(indicators, "brute_force_attack")
	require.Len(t, bf, 1)
	assert.Equal(t, SeverityHigh, bf[0].Severity)
	assert.Equal(t, 11, bf[0].Attributes["attempt_count"])
	assert.Equal(t, 100, bf[0].Attributes["time_window"])
	// Brute force comes after every per-record indicator.
	assert.Equal(t, "brute_force_attack", indicators[len(indicators)-1].Type)

	assert.Len(t, byType(indicators, "privileged_account_access"), 12)
}

func TestLoginDetector_BruteForceWindow(t *testing.T) {
	d := utcLoginDetector(t, nil)

	inside, _ := d.Detect(failedLogins("bob", 10, 30*time.Second)) // span 270s
	assert.Len(t, byType(inside, "brute_force_attack"), 1)

	outside, _ := d.Detect(failedLogins("bob", 10, 40*time.Second)) // span 360s
	assert.Empty(t, byType(outside, "brute_force_attack"))

	tooFew, _ := d.Detect(failedLogins("bob", 9, time.Second))
	assert.Empty(t, byType(tooFew, "brute_force_attack"))
}

func TestLoginDetector_BruteForceReportsFirstUserOnly(t *testing.T) {
	recs := append(failedLogins("carol", 10, time.Second), failedLogins("dave", 10, time.Second)...)
	recs = append([]telemetry.LoginRecord{{Username: "dave", SourceIP: "1.1.1.1", Timestamp: base, Success: true}}, recs...)

	indicators, _ := utcLoginDetector(t, nil).Detect(recs)
	bf := byType(indicators, "brute_force_attack")
	require.Len(t, bf, 1)
	assert.Equal(t, "dave", bf[0].Attributes["username"])
}

func TestLoginDetector_OffHours(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"inside default window", 0, 6, 2, true},
		{"end is exclusive", 0, 6, 6, false},
		{"afternoon", 0, 6, 14, false},
		{"wrapping window late", 22, 5, 23, true},
		{"wrapping window early", 22, 5, 3, true},
		{"wrapping window midday", 22, 5, 12, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := utcLoginDetector(t, func(c *LoginConfig) {
				c.OffHoursStart, c.OffHoursEnd = tc.start, tc.end
			})
			ts := time.Date(2025, 3, 10, tc.hour, 30, 0, 0, time.UTC)
			indicators, _ := d.Detect([]telemetry.LoginRecord{{Username: "erin", SourceIP: "1.1.1.1", Timestamp: ts, Success: true}})
			assert.Equal(t, tc.want, len(byType(indicators, "off_hours_access")) == 1)
		})
	}
}

func TestLoginDetector_LocationAndPrivilege(t *testing.T) {
	recs := []telemetry.LoginRecord{
		{Username: "ROOT", SourceIP: "1.1.1.1", Timestamp: base, Success: true, Location: "tor exit node"},
		{Username: "frank", SourceIP: "1.1.1.2", Timestamp: base, Success: true, Location: "Berlin"},
	}
	indicators, summary := utcLoginDetector(t, nil).Detect(recs)

	require.Len(t, indicators, 2)
	assert.Equal(t, "privileged_account_access", indicators[0].Type)
	assert.Equal(t, SeverityHigh, indicators[0].Severity)
	assert.Equal(t, "suspicious_location", indicators[1].Type)
	assert.Equal(t, "0.00%", summary.Login.FailureRate)
	assert.Equal(t, 2, summary.Login.UniqueIPs)
}

func TestNewLoginDetector_BadTimezone(t *testing.T) {
	cfg := DefaultLoginConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err := NewLoginDetector(cfg)
	assert.Error(t, err)
}

func portSweep(src string, n int) []telemetry.FirewallRecord {
	recs := make([]telemetry.FirewallRecord, n)
	for i := range recs {
		recs[i] = telemetry.FirewallRecord{
			SourceIP:        src,
			DestinationIP:   "10.0.0.1",
			DestinationPort: 8000 + i,
			Protocol:        "TCP",
			Action:          "allow",
			Timestamp:       base,
		}
	}
	return recs
}

func TestFirewallDetector_PortScanThreshold(t *testing.T) {
	d := NewFirewallDetector(DefaultFirewallConfig())

	below, _ := d.Detect(portSweep("198.51.100.9", 9))
	assert.Empty(t, byType(below, "port_scan"))

	at, _ := d.Detect(portSweep("198.51.100.9", 10))
	scan := byType(at, "port_scan")
	require.Len(t, scan, 1)
	assert.Equal(t, SeverityHigh, scan[0].Severity)
	assert.Equal(t, 10, scan[0].Attributes["ports_scanned"])
}

func TestFirewallDetector_DuplicatePortsCountOnce(t *testing.T) {
	recs := append(portSweep("198.51.100.9", 9), portSweep("198.51.100.9", 9)...)
	indicators, summary := NewFirewallDetector(DefaultFirewallConfig()).Detect(recs)
	assert.Empty(t, byType(indicators, "port_scan"))
	assert.Equal(t, 9, summary.Firewall.UniquePorts)
}

func TestFirewallDetector_PerRecordAndBlocks(t *testing.T) {
	var recs []telemetry.FirewallRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, telemetry.FirewallRecord{
			SourceIP: "192.0.2.1", DestinationIP: "10.0.0.2", DestinationPort: 22,
			Protocol: "tcp", Action: "block", Blocked: true, Timestamp: base,
		})
	}
	recs = append(recs,
		telemetry.FirewallRecord{SourceIP: "192.0.2.2", DestinationIP: "10.0.0.2", DestinationPort: 21, Protocol: "ftp", Action: "allow", Timestamp: base},
		telemetry.FirewallRecord{SourceIP: "192.0.2.3", DestinationIP: "10.0.0.2", Blocked: true, Action: "deny", Timestamp: base},
	)

	indicators, summary := NewFirewallDetector(DefaultFirewallConfig()).Detect(recs)

	assert.Len(t, byType(indicators, "suspicious_port_access"), 5)
	proto := byType(indicators, "high_risk_protocol")
	require.Len(t, proto, 1)
	assert.Equal(t, "FTP", proto[0].Attributes["protocol"])

	blocks := byType(indicators, "repeated_blocks")
	require.Len(t, blocks, 1)
	assert.Equal(t, "192.0.2.1", blocks[0].Attributes["source_ip"])
	assert.Equal(t, 5, blocks[0].Attributes["blocked_count"])

	require.NotNil(t, summary.Firewall)
	assert.Equal(t, 6, summary.Firewall.BlockedEvents)
	assert.Equal(t, 1, summary.Firewall.AllowedEvents)
	assert.Equal(t, "85.71%", summary.Firewall.BlockRate)
	assert.Equal(t, 3, summary.Firewall.UniqueSourceIPs)
}

func TestCVSSSeverity(t *testing.T) {
	cfg := DefaultPatchConfig()
	tests := []struct {
		score float64
		want  Severity
	}{
		{9.5, SeverityCritical},
		{9.0, SeverityCritical},
		{7.5, SeverityHigh},
		{5.0, SeverityMedium},
		{2.0, SeverityLow},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, cfg.CVSSSeverity(tc.score), "score %.1f", tc.score)
	}
}

func TestPatchDetector(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ago := func(days int) *time.Time {
		ts := now.AddDate(0, 0, -days)
		return &ts
	}
	recs := []telemetry.PatchRecord{
		{Hostname: "web-01", OS: "Ubuntu 18.04", LastPatched: ago(90), EndOfLife: true, MissingPatches: []telemetry.MissingPatch{
			{PatchID: "KB1", CVEID: "CVE-2024-0001", Score: 9.8, HasScore: true},
			{PatchID: "KB2"},
		}},
		{Hostname: "app-01", LastPatched: ago(45)},
		{Hostname: "db-01", LastPatched: ago(10), MissingPatches: []telemetry.MissingPatch{{CVEID: "CVE-2024-0002", Score: 5.0, HasScore: true}}},
		{Hostname: "legacy-01"},
	}

	indicators, summary := NewPatchDetector(DefaultPatchConfig()).Detect(recs, now)

	age := byType(indicators, "outdated_patches")
	require.Len(t, age, 3)
	assert.Equal(t, SeverityCritical, age[0].Severity)
	assert.Equal(t, 90, age[0].Attributes["days_since_last_patch"])
	assert.Equal(t, SeverityHigh, age[1].Severity)
	assert.Equal(t, UnknownPatchAgeDays, age[2].Attributes["days_since_last_patch"])

	missing := byType(indicators, "missing_critical_patch")
	require.Len(t, missing, 2)
	assert.Equal(t, SeverityCritical, missing[0].Severity)
	assert.Equal(t, SeverityMedium, missing[1].Severity)

	assert.Len(t, byType(indicators, "end_of_life_software"), 1)

	require.NotNil(t, summary.Patch)
	assert.Equal(t, 4, summary.Patch.TotalSystems)
	assert.Equal(t, 6, summary.Patch.TotalVulnerabilities)
	assert.Equal(t, 3, summary.Patch.Critical)
	assert.Equal(t, 2, summary.Patch.High)
	assert.Equal(t, 1, summary.Patch.Medium)
}

func TestIndicator_MarshalJSONFlattensAttributes(t *testing.T) {
	ind := Indicator{Type: "port_scan", Severity: SeverityHigh, Detail: "x", Attributes: map[string]any{"source_ip": "1.2.3.4"}}
	b, err := json.Marshal(ind)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"port_scan","severity":"HIGH","detail":"x","source_ip":"1.2.3.4"}`, string(b))
}

func TestSet_Dispatch(t *testing.T) {
	s, err := NewSet(DefaultConfig())
	require.NoError(t, err)

	_, sum, err := s.Detect(telemetry.Batch{Domain: telemetry.DomainFirewall}, base)
	require.NoError(t, err)
	assert.Equal(t, telemetry.DomainFirewall, sum.Domain)
	assert.NotNil(t, sum.Firewall)

	_, _, err = s.Detect(telemetry.Batch{Domain: "dns"}, base)
	assert.Error(t, err)
}

func TestLoginDetector_ZonelessTimestampIsLocalWallClock(t *testing.T) {
	raw := []any{
		map[string]any{"username": "alice", "sourceIP": "10.0.0.5", "timestamp": "2025-01-15 03:00:00", "success": true},
		map[string]any{"username": "bob", "sourceIP": "10.0.0.6", "timestamp": "2025-01-15T03:00:00Z", "success": true},
	}
	recs, err := telemetry.NormalizeLogin(raw, base)
	require.NoError(t, err)

	d := utcLoginDetector(t, func(c *LoginConfig) { c.Timezone = "America/New_York" })
	indicators, _ := d.Detect(recs)

	off := byType(indicators, "off_hours_access")
	require.Len(t, off, 1, "03:00 UTC is 22:00 in New York")
	assert.Equal(t, "alice", off[0].Attributes["username"])
	assert.Equal(t, 3, off[0].Attributes["hour"])
}

func TestSet_PatchAgesUseRunInstant(t *testing.T) {
	s, err := NewSet(DefaultConfig())
	require.NoError(t, err)

	last := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := telemetry.Batch{Domain: telemetry.DomainPatch, Patch: []telemetry.PatchRecord{{Hostname: "web-01", LastPatched: &last}}}

	fresh, _, err := s.Detect(b, last.AddDate(0, 0, 20))
	require.NoError(t, err)
	assert.Empty(t, byType(fresh, "outdated_patches"))

	stale, _, err := s.Detect(b, last.AddDate(0, 0, 45))
	require.NoError(t, err)
	require.Len(t, byType(stale, "outdated_patches"), 1)
	assert.Equal(t, 45, stale[0].Attributes["days_since_last_patch"])
}

func TestParseSeverity(t *testing.T) {
	s, ok := ParseSeverity(" critical ")
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, s)
	assert.Equal(t, 4, s.Rank())

	_, ok = ParseSeverity("severe")
	assert.False(t, ok)
}
