package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/xkilldash9x/gatewalk/internal/config"
)

// Endpoints used when oracle.endpoint is empty.
var defaultEndpoints = map[config.OracleProvider]string{
	config.ProviderOpenAI: "https://api.openai.com/v1",
	config.ProviderGroq:   "https://api.groq.com/openai/v1",
	config.ProviderOllama: "http://localhost:11434/v1",
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// HTTPVisionClient talks to an OpenAI-compatible chat completions API.
type HTTPVisionClient struct {
	client *resty.Client
	cfg    config.OracleConfig
}

var _ VisionClient = (*HTTPVisionClient)(nil)

// NewHTTPVisionClient builds a client on top of httpClient (see network.NewClient).
func NewHTTPVisionClient(cfg config.OracleConfig, httpClient *http.Client) (*HTTPVisionClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoints[cfg.Provider]
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for oracle provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("oracle.model is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	rc := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APITimeout > 0 {
		rc.SetTimeout(cfg.APITimeout)
	}
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}
	return &HTTPVisionClient{client: rc, cfg: cfg}, nil
}

// Complete sends the prompt and image as a single user message.
func (c *HTTPVisionClient) Complete(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	}

	var out chatResponse
	var apiErr apiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("oracle returned status %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}
