package reporter

import (
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/risk"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Summary is the headline block of a report.
type Summary struct {
	OverallRisk             risk.Level `json:"overall_risk"`
	RiskScore               int        `json:"risk_score"`
	CriticalFindings        int        `json:"critical_findings"`
	HighFindings            int        `json:"high_findings"`
	TotalFindings           int        `json:"total_findings"`
	RequiresImmediateAction bool       `json:"requires_immediate_action"`
	SecurityPosture         string     `json:"security_posture"`
}

// Report is the self-contained outcome of one run.
type Report struct {
	RunID          string                    `json:"run_id"`
	GeneratedAt    time.Time                 `json:"generated_at"`
	Summary        Summary                   `json:"summary"`
	Risk           risk.Assessment           `json:"risk_assessment"`
	Analyses       []analyzer.AnalysisResult `json:"analyses"`
	Mitigations    []Mitigation              `json:"mitigations"`
	Narrative      string                    `json:"narrative"`
	AnalystContext string                    `json:"analyst_context,omitempty"`
}

// Assemble composes a report. Findings count heuristic indicators.
func Assemble(runID string, generatedAt time.Time, results []analyzer.AnalysisResult, a risk.Assessment) Report {
	if results == nil {
		results = []analyzer.AnalysisResult{}
	}

	s := Summary{
		OverallRisk:     a.Level,
		RiskScore:       a.Score,
		SecurityPosture: posture(a.Level),
	}
	for _, r := range results {
		for _, ind := range r.Indicators {
			s.TotalFindings++
			switch ind.Severity {
			case detector.SeverityCritical:
				s.CriticalFindings++
			case detector.SeverityHigh:
				s.HighFindings++
			}
		}
	}
	s.RequiresImmediateAction = a.Level == risk.LevelCritical
	for _, c := range a.Contributors {
		if c.Severity == detector.SeverityCritical {
			s.RequiresImmediateAction = true
		}
	}

	return Report{
		RunID:       runID,
		GeneratedAt: generatedAt.UTC(),
		Summary:     s,
		Risk:        a,
		Analyses:    results,
		Mitigations: PrioritizeMitigations(results),
		Narrative:   Narrative(a),
	}
}

func posture(l risk.Level) string {
	switch l {
	case risk.LevelCritical:
		return "CRITICAL - active compromise likely"
	case risk.LevelHigh:
		return "WEAK - significant exposure"
	case risk.LevelMedium:
		return "MODERATE - hardening recommended"
	case risk.LevelLow:
		return "STRONG - no significant exposure"
	}
	return "UNKNOWN - insufficient data"
}

// Reporter renders reports as plain text for terminals.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded text template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"upper": strings.ToUpper,
		"join":  strings.Join,
		"inc":   func(i int) int { return i + 1 },
		"pct": func(f float64) string {
			return fmt.Sprintf("%.0f%%", f*100)
		},
		"ts": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
	}

	tmpl, err := template.New("report.txt.tmpl").Funcs(funcMap).ParseFS(templates, "templates/report.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	return &Reporter{tmpl: tmpl}, nil
}

// RenderText writes the text report to w.
func (r *Reporter) RenderText(w io.Writer, rep Report) error {
	if err := r.tmpl.Execute(w, rep); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// RenderString renders the text report to a string.
func (r *Reporter) RenderString(rep Report) (string, error) {
	var buf strings.Builder
	if err := r.RenderText(&buf, rep); err != nil {
		return "", err
	}
	return buf.String(), nil
}
