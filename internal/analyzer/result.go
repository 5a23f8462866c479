package analyzer

import (
	"time"

	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/sigma"
	"github.com/iyulab/threatlens/internal/telemetry"
)

// AnalysisResult is the outcome of one domain analysis. Exactly one of
// Verdict and Error is set.
type AnalysisResult struct {
	Domain      telemetry.Domain     `json:"domain"`
	Timestamp   time.Time            `json:"timestamp"`
	Summary     detector.Summary     `json:"summary"`
	Indicators  []detector.Indicator `json:"indicators"`
	RuleMatches []sigma.Match        `json:"rule_matches,omitempty"`
	Verdict     *Verdict             `json:"verdict"`
	Error       string               `json:"error,omitempty"`
	Metadata    *Metadata            `json:"metadata,omitempty"`
}

// Available reports whether the result carries a verdict.
func (r AnalysisResult) Available() bool {
	return r.Verdict != nil && r.Error == ""
}
