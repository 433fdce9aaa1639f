// Package provider wraps the model backend's HTTP line-stream API.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"studyassist/internal/domain"
)

const (
	defaultBase       = "http://localhost:8788"
	defaultModel      = "study-7b"
	maxConnectElapsed = 10 * time.Second
	maxLineBytes      = 1 << 20
)

// Backend implements domain.ModelBackend against the answering service. The
// wire format is line-delimited text where any line may instead be a JSON
// control frame carrying citations; that ambiguity is resolved here, once,
// into typed StreamEvents so downstream code never sniffs line shapes.
type Backend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type BackendConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

func NewBackend(cfg BackendConfig) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		// No client-level timeout: streams are bounded by the caller's context.
		client: &http.Client{},
		logger: cfg.Logger,
	}
}

func (b *Backend) Name() string { return b.model }

func (b *Backend) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

type completionBody struct {
	Prompt  string      `json:"prompt"`
	System  string      `json:"system"`
	Context string      `json:"context,omitempty"`
	Mode    domain.Mode `json:"mode"`
	Model   string      `json:"model"`
	Stream  bool        `json:"stream"`
}

// metadataFrame is the mid-stream control frame shape.
type metadataFrame struct {
	Citations []domain.Citation `json:"citations"`
	Grounded  *bool             `json:"grounded,omitempty"`
	Model     string            `json:"model,omitempty"`
}

// Complete posts the completion request and feeds the response stream to out
// as typed events, closing out on return. Connection-level failures before
// the first byte are retried with exponential backoff; once the stream is
// open, errors surface to the caller. Cancellation is observed at the next
// read boundary.
func (b *Backend) Complete(ctx context.Context, req domain.CompletionRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	payload, err := json.Marshal(completionBody{
		Prompt:  req.Prompt,
		System:  req.System,
		Context: req.Context,
		Mode:    req.Mode,
		Model:   b.model,
		Stream:  true,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := b.connect(ctx, payload)
	if err != nil {
		return err
	}
	if resp.Body == nil {
		return errors.New("backend response has no stream body")
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		evt := b.parseLine(scanner.Text())
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// connect issues the POST, retrying transient failures (connection errors,
// 5xx) until the stream is open. Non-5xx HTTP errors are permanent.
func (b *Backend) connect(ctx context.Context, payload []byte) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/answer", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if b.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
		}

		r, err := b.client.Do(httpReq)
		if err != nil {
			b.logger.Warn("backend connect failed, will retry", "err", err)
			return err
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			b.logger.Warn("backend server error, will retry", "status", r.StatusCode)
			return fmt.Errorf("backend returned %d: %s", r.StatusCode, strings.TrimSpace(string(body)))
		}
		if r.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("backend returned %d: %s", r.StatusCode, strings.TrimSpace(string(body))))
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxConnectElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	return resp, nil
}

// parseLine frames one raw stream line. A line that looks like a citations
// control frame is parsed as metadata; if that parse fails the failure is
// non-fatal and the line is delivered as ordinary text.
func (b *Backend) parseLine(line string) domain.StreamEvent {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"citations"`) {
		var frame metadataFrame
		err := json.Unmarshal([]byte(trimmed), &frame)
		if err == nil {
			return domain.StreamEvent{
				Type:      domain.StreamMetadata,
				Citations: frame.Citations,
				Grounded:  frame.Grounded,
				Model:     frame.Model,
			}
		}
		b.logger.Warn("metadata-shaped line failed to parse, treating as text", "err", err)
	}
	return domain.StreamEvent{Type: domain.StreamToken, Text: line}
}
