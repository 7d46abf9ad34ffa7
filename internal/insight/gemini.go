package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent"
	defaultCallTimeout    = 30 * time.Second
)

var (
	// ErrMissingAPIKey indicates that no model credential was configured.
	ErrMissingAPIKey = errors.New("insight: api key is required")
	errEmptyResponse = errors.New("insight: model returned no candidates")
)

// TextGenerator produces model text for a prompt. The nil interface is
// the "unconfigured" variant: adapters treat it as a permanent failure
// and fall back to their defaults, so call sites never notice which
// variant is active.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiConfig bundles the generative model credentials.
type GeminiConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// GeminiGenerator calls the hosted generateContent endpoint.
type GeminiGenerator struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewGeminiGenerator constructs the configured generator variant.
func NewGeminiGenerator(cfg GeminiConfig) (*GeminiGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCallTimeout}
	}
	return &GeminiGenerator{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: httpClient,
	}, nil
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateText sends the prompt and returns the first candidate's text.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("insight: encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?key="+g.apiKey, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("insight: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("insight: model call: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("insight: read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insight: model call status %d", response.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("insight: decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errEmptyResponse
	}
	return strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text), nil
}
