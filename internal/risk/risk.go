// Package risk combines per-domain verdicts into one composite score.
package risk

import (
	"fmt"
	"math"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/telemetry"
)

// Level is the discrete composite risk level.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
	LevelUnknown  Level = "UNKNOWN"
)

// NoResultsNote explains an UNKNOWN assessment.
const NoResultsNote = "No analysis results available"

// DefaultBaseScore applies to unrecognized severity labels.
const DefaultBaseScore = 50

// BaseScore is the contribution of a fully confident verdict.
func BaseScore(s detector.Severity) float64 {
	switch s {
	case detector.SeverityCritical:
		return 95
	case detector.SeverityHigh:
		return 75
	case detector.SeverityMedium:
		return 50
	case detector.SeverityLow:
		return 25
	}
	return DefaultBaseScore
}

// Contribution scales the severity base score by confidence.
func Contribution(s detector.Severity, confidence float64) float64 {
	return BaseScore(s) * confidence
}

// Weights are the per-domain multipliers, expected to sum to 1.0.
type Weights struct {
	Login    float64 `toml:"login_anomalies" json:"login_anomalies"`
	Firewall float64 `toml:"firewall_threats" json:"firewall_threats"`
	Patch    float64 `toml:"patch_vulnerabilities" json:"patch_vulnerabilities"`
}

// DefaultWeights returns 0.35/0.40/0.25.
func DefaultWeights() Weights {
	return Weights{Login: 0.35, Firewall: 0.40, Patch: 0.25}
}

// For returns the weight of a domain.
func (w Weights) For(d telemetry.Domain) float64 {
	switch d {
	case telemetry.DomainLogin:
		return w.Login
	case telemetry.DomainFirewall:
		return w.Firewall
	case telemetry.DomainPatch:
		return w.Patch
	}
	return 0
}

// Sum adds all three weights.
func (w Weights) Sum() float64 { return w.Login + w.Firewall + w.Patch }

// WeightTolerance is the allowed drift of Weights.Sum from 1.0.
const WeightTolerance = 0.01

// Drift returns a non-empty message when the weights do not sum to 1.0.
func (w Weights) Drift() string {
	sum := w.Sum()
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Sprintf("risk weights sum to %.3f, expected 1.0", sum)
	}
	return ""
}

// Thresholds are the inclusive lower score bounds of each level.
type Thresholds struct {
	Critical int `toml:"critical" json:"critical"`
	High     int `toml:"high" json:"high"`
	Medium   int `toml:"medium" json:"medium"`
}

// DefaultThresholds returns 80/60/40.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 80, High: 60, Medium: 40}
}

// Validate rejects thresholds that are out of order or outside [0,100].
func (t Thresholds) Validate() error {
	if t.Medium < 0 || t.Critical > 100 {
		return fmt.Errorf("risk thresholds must lie within 0..100")
	}
	if !(t.Critical >= t.High && t.High >= t.Medium) {
		return fmt.Errorf("risk thresholds must satisfy critical >= high >= medium (got %d/%d/%d)", t.Critical, t.High, t.Medium)
	}
	return nil
}

// LevelFor maps a score onto a level.
func (t Thresholds) LevelFor(score int) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Contributor is a domain whose verdict signals an active threat.
type Contributor struct {
	Domain   telemetry.Domain  `json:"domain"`
	Severity detector.Severity `json:"severity"`
	Threat   string            `json:"threat"`
}

// Assessment is the composite outcome of one run.
type Assessment struct {
	Score            int           `json:"score"`
	Level            Level         `json:"level"`
	Contributors     []Contributor `json:"contributors"`
	AvailableDomains int           `json:"available_domains"`
	Note             string        `json:"note,omitempty"`
}

// Aggregator scores result sets. It holds configuration only.
type Aggregator struct {
	Weights    Weights
	Thresholds Thresholds
}

// NewAggregator returns an Aggregator with the given configuration.
func NewAggregator(w Weights, t Thresholds) Aggregator {
	return Aggregator{Weights: w, Thresholds: t}
}

// Score combines the results. Only results with a verdict count as
// available; failed domains are excluded rather than scored as zero. The first
// result per domain wins. With fewer than three available domains the weighted
// total is projected onto the full scale as total/available×3.
func (a Aggregator) Score(results []analyzer.AnalysisResult) Assessment {
	byDomain := make(map[telemetry.Domain]*analyzer.Verdict, len(results))
	for i := range results {
		r := &results[i]
		if !r.Available() {
			continue
		}
		if _, seen := byDomain[r.Domain]; seen {
			continue
		}
		byDomain[r.Domain] = r.Verdict
	}

	if len(byDomain) == 0 {
		return Assessment{
			Level:        LevelUnknown,
			Contributors: []Contributor{},
			Note:         NoResultsNote,
		}
	}

	var total float64
	contributors := []Contributor{}
	available := 0
	for _, d := range telemetry.Domains() {
		v, ok := byDomain[d]
		if !ok {
			continue
		}
		available++
		if !v.ThreatDetected() {
			continue
		}
		total += Contribution(v.Severity, clamp(v.Confidence, 0, 1)) * a.Weights.For(d)
		contributors = append(contributors, Contributor{
			Domain:   d,
			Severity: v.Severity,
			Threat:   v.ThreatLabel(),
		})
	}

	composite := total
	if available < len(telemetry.Domains()) {
		composite = total / float64(available) * float64(len(telemetry.Domains()))
	}
	score := int(math.Round(clamp(composite, 0, 100)))

	return Assessment{
		Score:            score,
		Level:            a.Thresholds.LevelFor(score),
		Contributors:     contributors,
		AvailableDomains: available,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
