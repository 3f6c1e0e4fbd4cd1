// Package llm implements the Extract Stage's LLM collaborator: schema-
// driven prompt construction against a configurable multi-provider
// chat backend, with deterministic output (temperature 0.0) and a
// JSON-object response format.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"raito/internal/config"
	"raito/internal/model"
)

// Provider represents a logical LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"

	DefaultModel      = "gpt-4o-mini"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3

	systemPrompt = "Return only valid JSON matching the requested schema. " +
		"Use null or an empty array for any field you cannot find. " +
		"Report numeric values without currency symbols. Use ISO-8601 for " +
		"dates. Never invent data that is not present in the content."
)

// ExtractRequest is the LLM-specific request for field extraction,
// built by the Extract stage from a webpage.fetched event.
type ExtractRequest struct {
	URL      string
	Markdown string
	Schema   model.Schema
	Provider Provider
	Model    string
	Timeout  time.Duration
	Retries  int
}

// ExtractResult is the structured output from the LLM.
type ExtractResult struct {
	Data  map[string]any
	Model string
	Usage map[string]any
}

// Client is the abstraction used by the pipeline's Extract stage.
type Client interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// buildUserPrompt builds the extraction prompt: a structured schema
// is embedded pretty-printed inside a fenced JSON block ahead of the
// markdown; a natural-language schema is included verbatim.
func buildUserPrompt(schema model.Schema, markdown string) (string, error) {
	var sb strings.Builder
	if schema.IsStructured() {
		pretty, err := json.MarshalIndent(schema.Structured, "", "  ")
		if err != nil {
			return "", fmt.Errorf("llm: marshal structured schema: %w", err)
		}
		sb.WriteString("Extract data matching this JSON schema:\n```json\n")
		sb.Write(pretty)
		sb.WriteString("\n```\n\n")
	} else {
		sb.WriteString(schema.Prompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Content:\n")
	sb.WriteString(markdown)
	return sb.String(), nil
}

// parseJSONFields attempts to parse a JSON object from the given content.
// It first tries the whole string, and if that fails, it attempts to
// extract the first {...} block.
func parseJSONFields(content string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err == nil {
		return fields, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in content")
	}

	snippet := content[start : end+1]
	if err := json.Unmarshal([]byte(snippet), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// withRetries calls fn up to attempts times, returning the first
// success. Each retry reuses ctx, so callers bound total wall time by
// passing a context already scoped to req.Timeout.
func withRetries(ctx context.Context, attempts int, fn func() (ExtractResult, error)) (ExtractResult, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return ExtractResult{}, lastErr
}

// NewClientFromConfig constructs a Client based on global config and an
// optional per-request model override (req.Model in the event options).
func NewClientFromConfig(cfg *config.Config, providerOverride, modelOverride string) (Client, Provider, string, error) {
	providerName := cfg.LLM.DefaultProvider
	if providerOverride != "" {
		providerName = providerOverride
	}

	prov := Provider(providerName)

	switch prov {
	case ProviderOpenAI:
		openaiCfg := cfg.LLM.OpenAI
		model := openaiCfg.Model
		if model == "" {
			model = DefaultModel
		}
		if modelOverride != "" {
			model = modelOverride
		}
		if openaiCfg.APIKey == "" {
			return nil, prov, model, errors.New("openai llm provider is not fully configured")
		}
		return &openAIClient{
			apiKey:  openaiCfg.APIKey,
			baseURL: openaiCfg.BaseURL,
			model:   model,
			http:    &http.Client{},
		}, prov, model, nil
	case ProviderAnthropic:
		anthCfg := cfg.LLM.Anthropic
		model := anthCfg.Model
		if modelOverride != "" {
			model = modelOverride
		}
		if anthCfg.APIKey == "" || model == "" {
			return nil, prov, model, errors.New("anthropic llm provider is not fully configured")
		}
		return &anthropicClient{
			apiKey: anthCfg.APIKey,
			model:  model,
			http:   &http.Client{},
		}, prov, model, nil
	case ProviderGoogle:
		googleCfg := cfg.LLM.Google
		model := googleCfg.Model
		if modelOverride != "" {
			model = modelOverride
		}
		if googleCfg.APIKey == "" || model == "" {
			return nil, prov, model, errors.New("google llm provider is not fully configured")
		}
		return &googleClient{
			apiKey: googleCfg.APIKey,
			model:  model,
			http:   &http.Client{},
		}, prov, model, nil
	default:
		return nil, prov, "", fmt.Errorf("unsupported llm provider: %s", providerName)
	}
}

// openAIClient implements Client using OpenAI-compatible Chat Completions.
type openAIClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// anthropicClient implements Client using Anthropic's Messages API.
type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

// googleClient implements Client using Google Gemini (Generative Language API).
type googleClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
	Usage   map[string]any         `json:"usage"`
}

type googleGenerateContentRequest struct {
	Contents          []googleContent          `json:"contents"`
	GenerationConfig  googleGenerationConfig    `json:"generationConfig"`
	SystemInstruction *googleContent            `json:"systemInstruction,omitempty"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (c *openAIClient) ExtractFields(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	userContent, err := buildUserPrompt(req.Schema, req.Markdown)
	if err != nil {
		return ExtractResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := req.Retries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	return withRetries(reqCtx, attempts, func() (ExtractResult, error) {
		body := openAIChatRequest{
			Model: c.model,
			Messages: []openAIChatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userContent},
			},
			Temperature:    0.0,
			ResponseFormat: &openAIResponseFormat{Type: "json_object"},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return ExtractResult{}, err
		}

		endpoint := c.baseURL
		if endpoint == "" {
			endpoint = "https://api.openai.com/v1"
		}
		endpoint += "/chat/completions"

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return ExtractResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return ExtractResult{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return ExtractResult{}, fmt.Errorf("openai chat completion failed with status %d", resp.StatusCode)
		}

		var parsed openAIChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return ExtractResult{}, err
		}
		if len(parsed.Choices) == 0 {
			return ExtractResult{}, errors.New("openai chat completion returned no choices")
		}

		content := parsed.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return ExtractResult{}, errors.New("openai chat completion returned empty content")
		}

		data, err := parseJSONFields(content)
		if err != nil {
			return ExtractResult{}, fmt.Errorf("failed to parse JSON from LLM response: %w", err)
		}

		return ExtractResult{Data: data, Model: c.model, Usage: parsed.Usage}, nil
	})
}

func (c *anthropicClient) ExtractFields(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	userContent, err := buildUserPrompt(req.Schema, req.Markdown)
	if err != nil {
		return ExtractResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := req.Retries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	return withRetries(reqCtx, attempts, func() (ExtractResult, error) {
		body := anthropicMessagesRequest{
			Model:     c.model,
			MaxTokens: 2048,
			System:    systemPrompt,
			Messages: []anthropicMessage{
				{Role: "user", Content: []anthropicTextContent{{Type: "text", Text: userContent}}},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return ExtractResult{}, err
		}

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return ExtractResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return ExtractResult{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return ExtractResult{}, fmt.Errorf("anthropic messages request failed with status %d", resp.StatusCode)
		}

		var parsed anthropicMessagesResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return ExtractResult{}, err
		}
		if len(parsed.Content) == 0 {
			return ExtractResult{}, errors.New("anthropic messages returned no content")
		}

		content := parsed.Content[0].Text
		if strings.TrimSpace(content) == "" {
			return ExtractResult{}, errors.New("anthropic messages returned empty content")
		}

		data, err := parseJSONFields(content)
		if err != nil {
			return ExtractResult{}, fmt.Errorf("failed to parse JSON from LLM response: %w", err)
		}

		return ExtractResult{Data: data, Model: c.model, Usage: parsed.Usage}, nil
	})
}

func (c *googleClient) ExtractFields(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	userContent, err := buildUserPrompt(req.Schema, req.Markdown)
	if err != nil {
		return ExtractResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := req.Retries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	return withRetries(reqCtx, attempts, func() (ExtractResult, error) {
		body := googleGenerateContentRequest{
			Contents:          []googleContent{{Parts: []googlePart{{Text: userContent}}}},
			GenerationConfig:  googleGenerationConfig{Temperature: 0.0, ResponseMIMEType: "application/json"},
			SystemInstruction: &googleContent{Parts: []googlePart{{Text: systemPrompt}}},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return ExtractResult{}, err
		}

		base := "https://generativelanguage.googleapis.com/v1beta"
		endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, c.model, url.QueryEscape(c.apiKey))

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return ExtractResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return ExtractResult{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return ExtractResult{}, fmt.Errorf("google generateContent failed with status %d", resp.StatusCode)
		}

		var parsed googleGenerateContentResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return ExtractResult{}, err
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return ExtractResult{}, errors.New("google generateContent returned no candidates")
		}

		var sb strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		content := sb.String()
		if strings.TrimSpace(content) == "" {
			return ExtractResult{}, errors.New("google generateContent returned empty content")
		}

		data, err := parseJSONFields(content)
		if err != nil {
			return ExtractResult{}, fmt.Errorf("failed to parse JSON from LLM response: %w", err)
		}

		return ExtractResult{Data: data, Model: c.model}, nil
	})
}
