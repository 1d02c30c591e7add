package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
)

const (
	// DefaultTimeout keeps the embedding call off the webhook's critical path budget
	DefaultTimeout = 5 * time.Second

	// maxResponseSize guards against a misbehaving provider (4MB)
	maxResponseSize = 4 * 1024 * 1024
)

// HTTPConfig holds configuration for the HTTP embedding provider
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// HTTPProvider calls an embeddings API over HTTP. The wire format follows the
// common embeddings-endpoint shape: {"model": ..., "input": ...} in,
// {"data": [{"embedding": [...]}]} out.
type HTTPProvider struct {
	client *http.Client
	config HTTPConfig
	logger ectologger.Logger
}

// NewHTTPProvider creates a new HTTP embedding provider
func NewHTTPProvider(cfg HTTPConfig, logger ectologger.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &HTTPProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for the given text
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: p.config.Model, Input: Truncate(text)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Embedding provider request failed")
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.WithContext(ctx).WithFields(map[string]any{"status": resp.StatusCode}).Warn("Embedding provider returned non-200")
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embed response: %w", err)
	}

	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}

	return parsed.Data[0].Embedding, nil
}
