// Package metrics holds the Prometheus instrumentation for analysis runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "threatlens"

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

// sanitizeLabel truncates label values and maps empty ones to "unknown".
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics owns its registry so that independent engines never share series.
type Metrics struct {
	Registry *prometheus.Registry

	llmAttempts    *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	domainAnalyses *prometheus.CounterVec
	indicators     *prometheus.CounterVec
	ruleMatches    *prometheus.CounterVec
	riskScore      prometheus.Gauge
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

// New creates a registry with process/Go collectors and the analysis series.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		llmAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "attempts_total",
				Help:      "Inference attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "request_duration_seconds",
				Help:      "Latency of successful inference calls",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"provider"},
		),
		domainAnalyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "domains_total",
				Help:      "Domain analyses by domain and outcome (verdict, error)",
			},
			[]string{"domain", "outcome"},
		),
		indicators: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "indicators_total",
				Help:      "Heuristic indicators by domain and severity",
			},
			[]string{"domain", "severity"},
		),
		ruleMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "rule_matches_total",
				Help:      "Sigma rule matches by domain and level",
			},
			[]string{"domain", "level"},
		),
		riskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "last_score",
			Help:      "Composite risk score of the most recent run",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "runs_total",
				Help:      "Completed runs by risk level",
			},
			[]string{"level"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete analysis runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.llmAttempts,
		m.llmDuration,
		m.domainAnalyses,
		m.indicators,
		m.ruleMatches,
		m.riskScore,
		m.runs,
		m.runDuration,
	)
	return m
}

// LLMAttempt records one inference attempt; latency is observed on success.
func (m *Metrics) LLMAttempt(provider string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	provider = sanitizeLabel(provider)
	if err != nil {
		m.llmAttempts.WithLabelValues(provider, "error").Inc()
		return
	}
	m.llmAttempts.WithLabelValues(provider, "success").Inc()
	m.llmDuration.WithLabelValues(provider).Observe(latency.Seconds())
}

// DomainAnalyzed records the outcome of one domain analysis.
func (m *Metrics) DomainAnalyzed(domain string, failed bool) {
	if m == nil {
		return
	}
	outcome := "verdict"
	if failed {
		outcome = "error"
	}
	m.domainAnalyses.WithLabelValues(sanitizeLabel(domain), outcome).Inc()
}

// Indicator counts one heuristic indicator.
func (m *Metrics) Indicator(domain, severity string) {
	if m == nil {
		return
	}
	m.indicators.WithLabelValues(sanitizeLabel(domain), sanitizeLabel(severity)).Inc()
}

// RuleMatch counts one Sigma rule match.
func (m *Metrics) RuleMatch(domain, level string) {
	if m == nil {
		return
	}
	m.ruleMatches.WithLabelValues(sanitizeLabel(domain), sanitizeLabel(level)).Inc()
}

// RunCompleted records the composite outcome of a run.
func (m *Metrics) RunCompleted(level string, score int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.riskScore.Set(float64(score))
	m.runs.WithLabelValues(sanitizeLabel(level)).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}
