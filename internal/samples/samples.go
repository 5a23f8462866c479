// Package samples embeds a representative telemetry bundle and the indicators
// the heuristic detectors must raise over it.
package samples

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/telemetry"
)

//go:embed samples.json
var bundle []byte

// JSON returns a copy of the raw sample bundle, an object keyed by domain.
func JSON() []byte {
	out := make([]byte, len(bundle))
	copy(out, bundle)
	return out
}

// Load decodes the sample bundle into per-domain raw input.
func Load() (map[telemetry.Domain]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(bundle, &raw); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	out := make(map[telemetry.Domain]any, len(raw))
	for k, v := range raw {
		d, err := telemetry.ParseDomain(k)
		if err != nil {
			return nil, fmt.Errorf("samples: %w", err)
		}
		out[d] = v
	}
	return out, nil
}

// Expectation is a minimum count of one indicator type in one domain.
type Expectation struct {
	Domain    telemetry.Domain
	Indicator string
	Min       int
}

// Expectations lists what the detectors must find in the bundle under the
// default configuration. Patch ages only grow, so the checks stay valid as the
// clock advances.
func Expectations() []Expectation {
	return []Expectation{
		{telemetry.DomainLogin, "brute_force_attack", 1},
		{telemetry.DomainLogin, "privileged_account_access", 12},
		{telemetry.DomainLogin, "suspicious_location", 13},
		{telemetry.DomainFirewall, "port_scan", 1},
		{telemetry.DomainFirewall, "repeated_blocks", 1},
		{telemetry.DomainFirewall, "high_risk_protocol", 1},
		{telemetry.DomainFirewall, "suspicious_port_access", 6},
		{telemetry.DomainPatch, "outdated_patches", 3},
		{telemetry.DomainPatch, "missing_critical_patch", 5},
		{telemetry.DomainPatch, "end_of_life_software", 1},
	}
}

// Verify checks indicators per domain against the expectations and returns
// one message per unmet expectation.
func Verify(exp []Expectation, got map[telemetry.Domain][]detector.Indicator) []string {
	var failures []string
	for _, e := range exp {
		n := 0
		for _, ind := range got[e.Domain] {
			if ind.Type == e.Indicator {
				n++
			}
		}
		if n < e.Min {
			failures = append(failures, fmt.Sprintf("%s: expected at least %d %s, got %d", e.Domain, e.Min, e.Indicator, n))
		}
	}
	return failures
}
