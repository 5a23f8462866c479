// Package reporter ranks mitigations and assembles the final run report.
package reporter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/risk"
	"github.com/iyulab/threatlens/internal/telemetry"
)

// Mitigation is one deduplicated recommended action.
type Mitigation struct {
	Action   string            `json:"action"`
	Severity detector.Severity `json:"severity"`
	Domain   telemetry.Domain  `json:"domain"`
}

// PrioritizeMitigations collects recommendations from every verdict in domain
// order, drops case-insensitive duplicates (the first occurrence keeps its
// source severity) and sorts by descending severity, ties in first-seen order.
func PrioritizeMitigations(results []analyzer.AnalysisResult) []Mitigation {
	out := []Mitigation{}
	seen := make(map[string]bool)

	for _, r := range firstPerDomain(results) {
		for _, action := range r.Verdict.Recommendations {
			action = strings.TrimSpace(action)
			key := strings.ToLower(action)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Mitigation{Action: action, Severity: r.Verdict.Severity, Domain: r.Domain})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// firstPerDomain returns the first available result per domain in fixed
// domain order.
func firstPerDomain(results []analyzer.AnalysisResult) []analyzer.AnalysisResult {
	var out []analyzer.AnalysisResult
	for _, d := range telemetry.Domains() {
		for _, r := range results {
			if r.Domain == d && r.Available() {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Narrative is the short executive summary of an assessment.
func Narrative(a risk.Assessment) string {
	if a.Level == risk.LevelUnknown {
		return fmt.Sprintf("Overall Risk Score: %d/100 (%s). %s.", a.Score, a.Level, a.Note)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall Risk Score: %d/100 (%s).", a.Score, a.Level)

	n := len(a.Contributors)
	if n == 0 {
		b.WriteString(" No significant security threats detected.")
		return b.String()
	}
	fmt.Fprintf(&b, " Detected %d security %s.", n, plural(n, "concern", "concerns"))

	critical := 0
	for _, c := range a.Contributors {
		if c.Severity == detector.SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		fmt.Fprintf(&b, " %d CRITICAL %s requiring immediate attention.", critical, plural(critical, "threat", "threats"))
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
