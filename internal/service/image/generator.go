package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/progpt/backend/internal/config"
)

var ErrNoImage = errors.New("image could not be generated")

// UpstreamError reports a non-2xx answer from the image endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("image endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("image endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// Generator calls the provider's image-generation endpoint.
type Generator struct {
	client *resty.Client
	model  string
	size   string
}

// NewGenerator configures the HTTP client from cfg.
func NewGenerator(cfg config.ImageConfig) *Generator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Generator{
		client: client,
		model:  cfg.Model,
		size:   cfg.Size,
	}
}

// Generate returns a URL for the generated image. Providers that only return
// base64 payloads get a data URL back.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model":  g.model,
			"prompt": prompt,
			"size":   g.size,
		}).
		Post("/images/generations")
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}

	body := res.Body()
	if !res.IsSuccess() {
		message := ""
		if gjson.ValidBytes(body) {
			message = gjson.GetBytes(body, "error.message").String()
		}
		slog.Error("image endpoint returned error", "component", "image", "status_code", res.StatusCode(), "message", message)
		return "", &UpstreamError{StatusCode: res.StatusCode(), Message: message}
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("image endpoint returned invalid JSON")
	}

	result := gjson.ParseBytes(body)
	if url := result.Get("data.0.url").String(); url != "" {
		return url, nil
	}
	if encoded := result.Get("data.0.b64_json").String(); encoded != "" {
		return "data:image/png;base64," + encoded, nil
	}
	return "", ErrNoImage
}
