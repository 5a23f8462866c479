// Package orchestrator coordinates the Normalize → Detect → Analyze → Report pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/config"
	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/metrics"
	"github.com/iyulab/threatlens/internal/reporter"
	"github.com/iyulab/threatlens/internal/risk"
	"github.com/iyulab/threatlens/internal/sigma"
	"github.com/iyulab/threatlens/internal/telemetry"
)

// ErrNoInput is returned by Run when no domain has input.
var ErrNoInput = errors.New("no telemetry supplied for any domain")

// Deps are the collaborators of an Engine. Zero values are usable.
type Deps struct {
	// Provider overrides the provider built from the LLM configuration.
	Provider analyzer.Provider
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Version  string
}

// Engine runs analyses for one run or request. It holds no state that
// outlives the run beyond its configuration.
type Engine struct {
	cfg        *config.Config
	gateway    *analyzer.Gateway
	detectors  *detector.Set
	rules      *sigma.Engine
	aggregator risk.Aggregator
	log        *zap.Logger
	metrics    *metrics.Metrics
	version    string

	now   func() time.Time
	newID func() string
}

// New builds an Engine from configuration.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	provider := deps.Provider
	if provider == nil {
		var err error
		provider, err = analyzer.NewProvider(analyzer.ProviderConfig{
			Provider: cfg.LLM.Provider,
			Endpoint: cfg.LLM.Endpoint,
			APIKey:   cfg.LLM.APIKey,
			JSONMode: cfg.LLM.JSONMode,
		})
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.LLM.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerSecond), 1)
	}

	detectors, err := detector.NewSet(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("create detectors: %w", err)
	}

	rules, err := sigma.NewDefault()
	if err != nil {
		log.Warn("sigma engine unavailable, continuing without rule matches", zap.Error(err))
		rules = nil
	}

	return &Engine{
		cfg: cfg,
		gateway: analyzer.NewGateway(provider, analyzer.Options{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			MaxAttempts: cfg.LLM.MaxAttempts,
			BaseDelay:   cfg.LLM.BaseDelay(),
			Timeout:     cfg.LLM.TimeoutDuration(),
			Limiter:     limiter,
			Logger:      log,
			Metrics:     deps.Metrics,
		}),
		detectors:  detectors,
		rules:      rules,
		aggregator: risk.NewAggregator(cfg.Risk.Weights, cfg.Risk.Thresholds),
		log:        log.Named("orchestrator"),
		metrics:    deps.Metrics,
		version:    deps.Version,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Gateway exposes the inference gateway, e.g. for health checks.
func (e *Engine) Gateway() *analyzer.Gateway { return e.gateway }

// AnalyzeDomain runs one domain end to end. Every failure is captured in the
// returned result.
func (e *Engine) AnalyzeDomain(ctx context.Context, domain telemetry.Domain, raw any, analystContext string) analyzer.AnalysisResult {
	ts := e.now().UTC()
	result := analyzer.AnalysisResult{
		Domain:     domain,
		Timestamp:  ts,
		Summary:    detector.Summary{Domain: domain},
		Indicators: []detector.Indicator{},
	}
	log := e.log.With(zap.String("domain", string(domain)))

	fail := func(stage string, err error) analyzer.AnalysisResult {
		result.Error = err.Error()
		log.Error("domain analysis failed", zap.String("stage", stage), zap.Error(err))
		e.metrics.DomainAnalyzed(string(domain), true)
		return result
	}

	batch, err := telemetry.Normalize(raw, domain, ts)
	if err != nil {
		return fail("normalize", err)
	}

	indicators, summary, err := e.detectors.Detect(batch, ts)
	if err != nil {
		return fail("detect", err)
	}
	result.Summary = summary
	if indicators != nil {
		result.Indicators = indicators
	}
	for _, ind := range result.Indicators {
		e.metrics.Indicator(string(domain), string(ind.Severity))
	}

	result.RuleMatches = e.rules.Match(ctx, domain, batch.Events())
	for _, m := range result.RuleMatches {
		e.metrics.RuleMatch(string(domain), m.Level)
	}

	log.Debug("detection complete",
		zap.Int("records", batch.Len()),
		zap.Int("indicators", len(result.Indicators)),
		zap.Int("rule_matches", len(result.RuleMatches)))

	template, err := analyzer.TemplateFor(domain)
	if err != nil {
		return fail("prompt", err)
	}
	prompt, err := analyzer.BuildPrompt(template, analyzer.BuildContext(summary, result.Indicators, result.RuleMatches))
	if err != nil {
		return fail("prompt", err)
	}
	prompt = analyzer.InjectAnalystContext(prompt, analystContext)

	verdict, meta, err := e.gateway.AnalyzePrompt(ctx, prompt)
	if meta.Attempts > 0 {
		result.Metadata = &meta
	}
	if err != nil {
		return fail("inference", err)
	}

	result.Verdict = &verdict
	e.metrics.DomainAnalyzed(string(domain), false)
	log.Info("domain analyzed",
		zap.String("severity", string(verdict.Severity)),
		zap.Float64("confidence", verdict.Confidence),
		zap.Bool("threat_detected", verdict.ThreatDetected()))
	return result
}

// Run analyzes every domain present in the input concurrently, then scores
// and assembles the report. Domain failures are recorded in the report; an
// error is returned only when nothing was supplied or ctx ends.
func (e *Engine) Run(ctx context.Context, in Input) (*reporter.Report, error) {
	domains := in.Domains()
	if len(domains) == 0 {
		return nil, ErrNoInput
	}

	start := time.Now()
	runID := e.newID()
	e.log.Info("run started", zap.String("run_id", runID), zap.Int("domains", len(domains)))

	results := make([]analyzer.AnalysisResult, len(domains))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range domains {
		g.Go(func() error {
			results[i] = e.AnalyzeDomain(gctx, d, in.For(d), in.AnalystContext)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	assessment := e.aggregator.Score(results)
	rep := reporter.Assemble(runID, e.now(), results, assessment)
	rep.AnalystContext = in.AnalystContext

	elapsed := time.Since(start)
	e.metrics.RunCompleted(string(assessment.Level), assessment.Score, elapsed)
	e.log.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("score", assessment.Score),
		zap.String("level", string(assessment.Level)),
		zap.Int("available_domains", assessment.AvailableDomains),
		zap.Duration("elapsed", elapsed))

	return &rep, nil
}

// Saved lists the files written for a report.
type Saved struct {
	Path    string
	SHA256  string
	Archive string
}

// Save writes the report under the configured output directory and, when
// enabled, packs that run's directory into a zip archive.
func (e *Engine) Save(rep *reporter.Report) (Saved, error) {
	dir := filepath.Join(e.cfg.Output.Dir, rep.RunID)
	path, sum, err := reporter.WriteJSON(*rep, dir)
	if err != nil {
		return Saved{}, err
	}
	saved := Saved{Path: path, SHA256: sum}
	e.log.Info("report written", zap.String("path", path), zap.String("sha256", sum))

	if e.cfg.Output.Archive {
		zipPath, err := reporter.ExportArchive(dir, rep.RunID, e.version)
		if err != nil {
			e.log.Warn("archive export failed", zap.Error(err))
			return saved, nil
		}
		saved.Archive = zipPath
	}
	return saved, nil
}
