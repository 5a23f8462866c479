package risk

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/telemetry"
)

func verdictResult(d telemetry.Domain, sev detector.Severity, conf float64) analyzer.AnalysisResult {
	return analyzer.AnalysisResult{
		Domain:    d,
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Verdict:   &analyzer.Verdict{Severity: sev, Confidence: conf, ThreatType: string(d) + " threat"},
	}
}

func failedResult(d telemetry.Domain) analyzer.AnalysisResult {
	return analyzer.AnalysisResult{Domain: d, Error: "inference failed after 3 attempt(s)"}
}

func defaultAggregator() Aggregator {
	return NewAggregator(DefaultWeights(), DefaultThresholds())
}

func TestScore_ThreeDomainScenario(t *testing.T) {
	// 95×1.0×0.35 + 75×0.9×0.40 + 50×0.8×0.25 = 33.25 + 27 + 10 = 70.25
	got := defaultAggregator().Score([]analyzer.AnalysisResult{
		verdictResult(telemetry.DomainLogin, detector.SeverityCritical, 1.0),
		verdictResult(telemetry.DomainFirewall, detector.SeverityHigh, 0.9),
		verdictResult(telemetry.DomainPatch, detector.SeverityMedium, 0.8),
	})

	assert.Equal(t, 70, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
	assert.Equal(t, 3, got.AvailableDomains)
	assert.Len(t, got.Contributors, 3)
}

func TestScore_SingleDomainRenormalized(t *testing.T) {
	// 75×0.8 = 60; ×0.40 = 24; 24/1×3 = 72
	got := defaultAggregator().Score([]analyzer.AnalysisResult{
		failedResult(telemetry.DomainLogin),
		verdictResult(telemetry.DomainFirewall, detector.SeverityHigh, 0.8),
		failedResult(telemetry.DomainPatch),
	})

	assert.Equal(t, 72, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
	assert.Equal(t, 1, got.AvailableDomains)
	assert.Equal(t, []Contributor{{Domain: telemetry.DomainFirewall, Severity: detector.SeverityHigh, Threat: "firewall threat"}}, got.Contributors)
}

func TestScore_ClampsAtHundred(t *testing.T) {
	agg := NewAggregator(Weights{Login: 1, Firewall: 1, Patch: 1}, DefaultThresholds())
	got := agg.Score([]analyzer.AnalysisResult{
		verdictResult(telemetry.DomainLogin, detector.SeverityCritical, 1),
		verdictResult(telemetry.DomainFirewall, detector.SeverityCritical, 1),
	})
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, LevelCritical, got.Level)
}

func TestScore_LevelFollowsRoundedScore(t *testing.T) {
	tests := []struct {
		weight float64
		score  int
		level  Level
	}{
		{1.59, 80, LevelCritical}, // 50×1.0×1.59 = 79.5
		{1.588, 79, LevelHigh},    // 79.4
	}
	for _, tc := range tests {
		agg := NewAggregator(Weights{Login: tc.weight}, DefaultThresholds())
		got := agg.Score([]analyzer.AnalysisResult{
			verdictResult(telemetry.DomainLogin, detector.SeverityMedium, 1.0),
			verdictResult(telemetry.DomainFirewall, detector.SeverityLow, 1.0),
			verdictResult(telemetry.DomainPatch, detector.SeverityLow, 1.0),
		})
		assert.Equal(t, tc.score, got.Score, "weight %v", tc.weight)
		assert.Equal(t, tc.level, got.Level, "weight %v", tc.weight)
	}
}

func TestScore_NoAvailableDomains(t *testing.T) {
	for _, results := range [][]analyzer.AnalysisResult{nil, {failedResult(telemetry.DomainLogin)}} {
		got := defaultAggregator().Score(results)
		assert.Equal(t, 0, got.Score)
		assert.Equal(t, LevelUnknown, got.Level)
		assert.Equal(t, NoResultsNote, got.Note)
		assert.Empty(t, got.Contributors)
		assert.Equal(t, 0, got.AvailableDomains)
	}
}

func TestScore_AnalyzedWithoutThreatCountsAsAvailable(t *testing.T) {
	clean := verdictResult(telemetry.DomainPatch, detector.SeverityMedium, 0.6)
	no := false
	clean.Verdict.Detected = &no

	got := defaultAggregator().Score([]analyzer.AnalysisResult{
		verdictResult(telemetry.DomainFirewall, detector.SeverityHigh, 0.8),
		clean,
	})

	// 24 over two available domains: 24/2×3 = 36
	assert.Equal(t, 36, got.Score)
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, 2, got.AvailableDomains)
	assert.Len(t, got.Contributors, 1)
}

func TestScore_ContributorsInDomainOrder(t *testing.T) {
	got := defaultAggregator().Score([]analyzer.AnalysisResult{
		verdictResult(telemetry.DomainPatch, detector.SeverityCritical, 1),
		verdictResult(telemetry.DomainLogin, detector.SeverityLow, 0.5),
		verdictResult(telemetry.DomainFirewall, detector.SeverityMedium, 0.5),
	})
	var order []telemetry.Domain
	for _, c := range got.Contributors {
		order = append(order, c.Domain)
	}
	assert.Equal(t, []telemetry.Domain{telemetry.DomainLogin, telemetry.DomainFirewall, telemetry.DomainPatch}, order)
}

func TestScore_FirstResultPerDomainWins(t *testing.T) {
	got := defaultAggregator().Score([]analyzer.AnalysisResult{
		verdictResult(telemetry.DomainFirewall, detector.SeverityLow, 0.4),
		verdictResult(telemetry.DomainFirewall, detector.SeverityCritical, 1),
	})
	assert.Equal(t, 1, got.AvailableDomains)
	assert.Equal(t, detector.SeverityLow, got.Contributors[0].Severity)
}

func TestScore_Idempotent(t *testing.T) {
	results := []analyzer.AnalysisResult{
		verdictResult(telemetry.DomainLogin, detector.SeverityHigh, 0.73),
		failedResult(telemetry.DomainFirewall),
		verdictResult(telemetry.DomainPatch, detector.Severity("SEVERE"), 0.5),
	}
	agg := defaultAggregator()
	first := agg.Score(results)
	second := agg.Score(results)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-scoring changed the assessment (-first +second):\n%s", diff)
	}
}

func TestContribution_Monotonic(t *testing.T) {
	sevs := []detector.Severity{detector.SeverityLow, detector.SeverityMedium, detector.SeverityHigh, detector.SeverityCritical}
	for i, s := range sevs {
		prev := -1.0
		for c := 0.0; c <= 1.0; c += 0.05 {
			got := Contribution(s, c)
			assert.GreaterOrEqual(t, got, prev, "confidence monotonicity for %s", s)
			prev = got
			if i > 0 {
				assert.GreaterOrEqual(t, got, Contribution(sevs[i-1], c), "severity monotonicity at %.2f", c)
			}
		}
	}
	assert.Equal(t, float64(DefaultBaseScore), BaseScore("SEVERE"))
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score int
		want  Level
	}{
		{100, LevelCritical}, {80, LevelCritical}, {79, LevelHigh}, {60, LevelHigh},
		{59, LevelMedium}, {40, LevelMedium}, {39, LevelLow}, {0, LevelLow},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, th.LevelFor(tc.score), "score %d", tc.score)
	}

	assert.NoError(t, th.Validate())
	assert.Error(t, Thresholds{Critical: 50, High: 60, Medium: 40}.Validate())
}

func TestWeights_Drift(t *testing.T) {
	assert.Empty(t, DefaultWeights().Drift())
	assert.NotEmpty(t, Weights{Login: 0.5, Firewall: 0.5, Patch: 0.5}.Drift())
	assert.Empty(t, Weights{Login: 0.35, Firewall: 0.4, Patch: 0.255}.Drift())
}
