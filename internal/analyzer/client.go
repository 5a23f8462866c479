package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GenerateRequest is one non-streaming completion call.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage is the token and timing metadata reported by the endpoint.
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalDuration    time.Duration `json:"total_duration,omitempty"`
}

// GenerateResponse is the endpoint's answer to a GenerateRequest.
type GenerateResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Provider is the interface for inference endpoints.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	ListModels(ctx context.Context) ([]string, error)
	Name() string
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Provider string // "ollama" | "openai"
	Endpoint string
	APIKey   string
	// JSONMode asks the endpoint to constrain output to JSON.
	JSONMode bool
}

// NewProvider creates a Provider from configuration. Per-attempt timeouts are
// applied by the Gateway through the request context.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama", "":
		ep := "http://localhost:11434"
		if cfg.Endpoint != "" {
			ep = cfg.Endpoint
		}
		return &OllamaProvider{
			endpoint: strings.TrimRight(ep, "/"),
			jsonMode: cfg.JSONMode,
			client:   &http.Client{},
		}, nil
	case "openai":
		ep := "https://api.openai.com/v1"
		if cfg.Endpoint != "" {
			ep = cfg.Endpoint
		}
		return &OpenAIProvider{
			apiKey:   cfg.APIKey,
			endpoint: strings.TrimRight(ep, "/"),
			jsonMode: cfg.JSONMode,
			client:   &http.Client{},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

// --- Ollama Provider ---

// OllamaProvider talks to a local Ollama server through /api/generate.
type OllamaProvider struct {
	endpoint string
	jsonMode bool
	client   *http.Client
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body := map[string]interface{}{
		"model":  req.Model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if p.jsonMode {
		body["format"] = "json"
	}

	respBody, err := postJSON(ctx, p.client, p.Name(), p.endpoint+"/api/generate", nil, body)
	if err != nil {
		return GenerateResponse{}, err
	}

	var result struct {
		Response        string `json:"response"`
		Model           string `json:"model"`
		TotalDuration   int64  `json:"total_duration"` // nanoseconds
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return GenerateResponse{}, fmt.Errorf("parse response: %w", err)
	}

	return GenerateResponse{
		Text:  result.Response,
		Model: result.Model,
		Usage: Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalDuration:    time.Duration(result.TotalDuration),
		},
	}, nil
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	respBody, err := getJSON(ctx, p.client, p.Name(), p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse model list: %w", err)
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// --- OpenAI Provider ---

// OpenAIProvider implements Provider for OpenAI and compatible APIs (vLLM,
// LM Studio, GPUStack).
type OpenAIProvider struct {
	apiKey   string
	endpoint string
	jsonMode bool
	client   *http.Client
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"stream":      false,
	}
	if p.jsonMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := postJSON(ctx, p.client, p.Name(), p.endpoint+"/chat/completions", p.headers(), body)
	if err != nil {
		return GenerateResponse{}, err
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return GenerateResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return GenerateResponse{}, fmt.Errorf("empty response from openai")
	}

	return GenerateResponse{
		Text:  result.Choices[0].Message.Content,
		Model: result.Model,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	respBody, err := getJSON(ctx, p.client, p.Name(), p.endpoint+"/models", p.headers())
	if err != nil {
		return nil, err
	}
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse model list: %w", err)
	}
	names := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// --- HTTP helpers ---

func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, provider, req, headers)
}

func getJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return do(client, provider, req, headers)
}

func do(client *http.Client, provider string, req *http.Request, headers map[string]string) ([]byte, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: provider, Code: resp.StatusCode, Body: truncateAPIError(respBody)}
	}
	return respBody, nil
}
