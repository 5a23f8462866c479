package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iyulab/threatlens/internal/metrics"
)

// Options configures a Gateway.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxAttempts bounds transport retries; values below 1 mean 1.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number between attempts.
	BaseDelay time.Duration
	// Timeout applies to each attempt independently.
	Timeout time.Duration
	// Limiter paces outgoing calls; nil disables pacing.
	Limiter *rate.Limiter
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Metadata describes how a verdict was obtained.
type Metadata struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Attempts         int    `json:"attempts"`
	LatencyMS        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalDurationMS  int64  `json:"total_duration_ms,omitempty"`
}

// Outcome is the non-throwing form of a generate-then-parse call.
type Outcome struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Raw      string                 `json:"raw,omitempty"`
	Metadata Metadata               `json:"metadata"`
}

// Gateway submits prompts to a Provider with bounded retry and turns the
// output into validated verdicts.
type Gateway struct {
	provider Provider
	opts     Options
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway wraps a provider. A nil logger is replaced with a no-op one.
func NewGateway(p Provider, opts Options) *Gateway {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		provider: p,
		opts:     opts,
		log:      log.Named("gateway"),
		sleep:    sleepContext,
	}
}

// Model returns the configured model identifier.
func (g *Gateway) Model() string { return g.opts.Model }

// Generate performs one completion with retry. Attempts run strictly in
// sequence; the delay before attempt n+1 is BaseDelay×n and ends early if ctx
// is cancelled.
func (g *Gateway) Generate(ctx context.Context, prompt string) (GenerateResponse, Metadata, error) {
	req := GenerateRequest{
		Model:       g.opts.Model,
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	}
	meta := Metadata{Provider: g.provider.Name(), Model: g.opts.Model}
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		meta.Attempts = attempt

		if g.opts.Limiter != nil {
			if err := g.opts.Limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		attemptStart := time.Now()
		resp, err := g.attempt(ctx, req)
		g.opts.Metrics.LLMAttempt(meta.Provider, err, time.Since(attemptStart))
		if err == nil {
			meta.LatencyMS = time.Since(start).Milliseconds()
			if resp.Model != "" {
				meta.Model = resp.Model
			}
			meta.PromptTokens = resp.Usage.PromptTokens
			meta.CompletionTokens = resp.Usage.CompletionTokens
			meta.TotalDurationMS = resp.Usage.TotalDuration.Milliseconds()
			return resp, meta, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == g.opts.MaxAttempts {
			break
		}

		delay := g.opts.BaseDelay * time.Duration(attempt)
		g.log.Warn("inference attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.opts.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if err := g.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
			break
		}
	}

	meta.LatencyMS = time.Since(start).Milliseconds()
	return GenerateResponse{}, meta, &TransportError{Attempts: meta.Attempts, Err: lastErr}
}

func (g *Gateway) attempt(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	return g.provider.Generate(ctx, req)
}

// Analyze renders template with data, generates, extracts and validates.
// Parse and contract failures are not retried.
func (g *Gateway) Analyze(ctx context.Context, template string, data interface{}) (Verdict, Metadata, error) {
	prompt, err := BuildPrompt(template, data)
	if err != nil {
		return Verdict{}, Metadata{}, err
	}
	return g.AnalyzePrompt(ctx, prompt)
}

// AnalyzePrompt is Analyze for an already rendered prompt.
func (g *Gateway) AnalyzePrompt(ctx context.Context, prompt string) (Verdict, Metadata, error) {
	resp, meta, err := g.Generate(ctx, prompt)
	if err != nil {
		return Verdict{}, meta, err
	}

	obj, err := ExtractJSON(resp.Text)
	if err != nil {
		g.log.Debug("unparseable model output", zap.String("excerpt", excerpt(resp.Text, ExcerptLength)))
		return Verdict{}, meta, err
	}

	v, err := ValidateVerdict(obj)
	if err != nil {
		return Verdict{}, meta, err
	}
	return v, meta, nil
}

// GenerateAndParse generates and extracts a JSON object without enforcing the
// verdict contract. Failures are reported in the Outcome.
func (g *Gateway) GenerateAndParse(ctx context.Context, prompt string) Outcome {
	resp, meta, err := g.Generate(ctx, prompt)
	if err != nil {
		return Outcome{Error: err.Error(), Metadata: meta}
	}
	obj, err := ExtractJSON(resp.Text)
	if err != nil {
		return Outcome{Error: err.Error(), Raw: resp.Text, Metadata: meta}
	}
	return Outcome{Success: true, Data: obj, Raw: resp.Text, Metadata: meta}
}

// HealthCheck verifies the endpoint answers and serves the configured model.
func (g *Gateway) HealthCheck(ctx context.Context) ([]string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	models, err := g.provider.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s endpoint unreachable: %w", g.provider.Name(), err)
	}
	for _, m := range models {
		if strings.Contains(m, g.opts.Model) {
			return models, nil
		}
	}

	hint := "check the model name in the configuration"
	if g.provider.Name() == "ollama" {
		hint = "run: ollama pull " + g.opts.Model
	}
	return models, fmt.Errorf("%w: %q is not served by %s (%s)", ErrModelNotFound, g.opts.Model, g.provider.Name(), hint)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
