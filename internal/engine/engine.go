package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"censord/internal/domain"
)

// Engine is the external censoring/inference contract. Implementations may be
// slow (model inference); callers are expected to isolate each invocation.
type Engine interface {
	Process(ctx context.Context, job *domain.Job) (*domain.ImageData, error)
}

// Options controls how the HTTP engine adapter is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPEngine invokes a censoring inference service over HTTP. The service
// receives the job's options plus whichever image reference is present and
// answers with the censored image inline.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEngine builds the adapter. BaseURL is required.
func NewHTTPEngine(opts Options) (*HTTPEngine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("engine: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPEngine{baseURL: baseURL, httpClient: client}, nil
}

type processRequest struct {
	ID           string                         `json:"id"`
	ImageDataURL string                         `json:"imageDataUrl,omitempty"`
	ImageURL     string                         `json:"imageUrl,omitempty"`
	Options      map[string]domain.CensorOption `json:"options"`
}

type processResponse struct {
	ResultImage *domain.ImageData `json:"resultImage,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Process sends one job to the inference service and returns the censored
// image. Any transport or service-side failure comes back as an error; the
// caller decides how to contain it.
func (e *HTTPEngine) Process(ctx context.Context, job *domain.Job) (*domain.ImageData, error) {
	body, err := json.Marshal(processRequest{
		ID:           job.ID,
		ImageDataURL: job.ImageDataURL,
		ImageURL:     job.ImageURL,
		Options:      job.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/censor", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: invoke: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("engine: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrEngineFailure, resp.StatusCode, truncate(payload, 200))
	}

	var out processResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("engine: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrEngineFailure, out.Error)
	}
	if out.ResultImage == nil || out.ResultImage.InlineData == "" {
		return nil, fmt.Errorf("%w: empty result", domain.ErrEngineFailure)
	}
	return out.ResultImage, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
