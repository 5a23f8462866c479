// Package detector implements the deterministic heuristic detectors that turn
// normalized telemetry batches into typed indicators and a statistical summary.
package detector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// Severity is the four-level scale shared by indicators and verdicts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities returns every severity from most to least urgent.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// Rank orders severities: LOW=1 .. CRITICAL=4. Unrecognized labels rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the four known labels.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity resolves a label case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

// Indicator is one heuristic-detected suspicious fact. Attributes hold the
// domain-specific keys and are serialized alongside type/severity/detail.
type Indicator struct {
	Type       string
	Severity   Severity
	Detail     string
	Attributes map[string]any
}

// MarshalJSON flattens Attributes into the indicator object.
func (i Indicator) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(i.Attributes)+3)
	for k, v := range i.Attributes {
		m[k] = v
	}
	m["type"] = i.Type
	m["severity"] = i.Severity
	m["detail"] = i.Detail
	return json.Marshal(m)
}

// Summary is the aggregate statistics of one domain batch. Exactly one of the
// per-domain stats pointers is set.
type Summary struct {
	Domain         telemetry.Domain `json:"domain"`
	Total          int              `json:"total"`
	IndicatorCount int              `json:"indicator_count"`
	Login          *LoginStats      `json:"login,omitempty"`
	Firewall       *FirewallStats   `json:"firewall,omitempty"`
	Patch          *PatchStats      `json:"patch,omitempty"`
}

// LoginStats summarizes authentication attempts.
type LoginStats struct {
	TotalAttempts      int     `json:"total_attempts"`
	FailedAttempts     int     `json:"failed_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	FailureRatio       float64 `json:"failure_ratio"`
	FailureRate        string  `json:"failure_rate"`
	UniqueUsers        int     `json:"unique_users"`
	UniqueIPs          int     `json:"unique_ips"`
}

// FirewallStats summarizes firewall events.
type FirewallStats struct {
	TotalEvents     int     `json:"total_events"`
	BlockedEvents   int     `json:"blocked_events"`
	AllowedEvents   int     `json:"allowed_events"`
	BlockRatio      float64 `json:"block_ratio"`
	BlockRate       string  `json:"block_rate"`
	UniqueSourceIPs int     `json:"unique_source_ips"`
	UniquePorts     int     `json:"unique_ports"`
}

// PatchStats counts vulnerabilities by severity.
type PatchStats struct {
	TotalSystems         int `json:"total_systems"`
	TotalVulnerabilities int `json:"total_vulnerabilities"`
	Critical             int `json:"critical"`
	High                 int `json:"high"`
	Medium               int `json:"medium"`
	Low                  int `json:"low"`
}

// ratio returns n/total and the same value as a two-decimal percentage string.
func ratio(n, total int) (float64, string) {
	if total == 0 {
		return 0, "0.00%"
	}
	r := float64(n) / float64(total)
	return r, fmt.Sprintf("%.2f%%", r*100)
}

// orderedGroup collects values per key while remembering first-appearance order.
type orderedGroup[V any] struct {
	keys   []string
	values map[string][]V
}

func newOrderedGroup[V any]() *orderedGroup[V] {
	return &orderedGroup[V]{values: make(map[string][]V)}
}

func (g *orderedGroup[V]) add(key string, v V) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.values[key] = append(g.values[key], v)
}

// touch registers key without adding a value.
func (g *orderedGroup[V]) touch(key string) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
		g.values[key] = nil
	}
}
