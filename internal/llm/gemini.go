package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Endpoint format: /models/{model}:generateContent
const generateContentPath = "/models/%s:generateContent"

var _ Client = (*geminiClient)(nil)

type geminiClient struct {
	config Config
	http   *httpClient
}

// NewClient creates the production model client. ErrNoAPIKey is returned
// when the key is missing so callers can switch to offline fallbacks.
func NewClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &geminiClient{config: cfg, http: newHTTPClient(cfg)}, nil
}

func (c *geminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(c.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.config.BaseURL + fmt.Sprintf(generateContentPath, c.config.Model)
	raw, err := c.http.post(ctx, url, body, c.authHeaders())
	if err != nil {
		return nil, err
	}

	var resp generateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("llm: response has no candidates")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	out := &GenerateResponse{Text: text.String(), Model: c.config.Model}
	if resp.UsageMetadata != nil {
		out.TokensUsed = resp.UsageMetadata.TotalTokenCount
	}
	return out, nil
}

func (c *geminiClient) buildRequestBody(req GenerateRequest) generateContentRequest {
	out := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			// Every agent parses the answer; ask for JSON outright.
			ResponseMIMEType: "application/json",
		},
	}
	if req.System != "" {
		out.SystemInstruction = &systemInstruction{Parts: []part{{Text: req.System}}}
	}
	return out
}

func (c *geminiClient) authHeaders() map[string]string {
	return map[string]string{
		"x-goog-api-key": c.config.APIKey,
	}
}

// Wire types for the generateContent endpoint.

type generateContentRequest struct {
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	Contents          []content          `json:"contents"`
	GenerationConfig  *generationConfig  `json:"generationConfig,omitempty"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type generateContentResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      candidateContent `json:"content"`
	FinishReason string           `json:"finishReason"`
}

type candidateContent struct {
	Parts []part `json:"parts"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
