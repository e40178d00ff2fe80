package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RemoteConfig configures a hosted embedding endpoint.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	// Dimensions is the expected vector length. Zero accepts the length of the first response.
	Dimensions int
	Timeout    time.Duration
	Retry      RetryPolicy
}

// RemoteEmbedder calls a hosted embedding model over HTTP. Each text is sent as
// {"text": "..."}; the vector is read from result.data[0] (Workers AI shape) or
// data[0].embedding (OpenAI shape).
type RemoteEmbedder struct {
	cfg    RemoteConfig
	client *http.Client
	logger *zap.Logger

	mu         sync.Mutex
	dimensions int
}

// RemoteOption configures a RemoteEmbedder.
type RemoteOption func(*RemoteEmbedder)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(e *RemoteEmbedder) {
		if c != nil {
			e.client = c
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) RemoteOption {
	return func(e *RemoteEmbedder) {
		e.logger = l
	}
}

// NewRemoteEmbedder returns a client for cfg.Endpoint.
func NewRemoteEmbedder(cfg RemoteConfig, opts ...RemoteOption) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("embedding endpoint is required")
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", cfg.Dimensions)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	e := &RemoteEmbedder{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		dimensions: cfg.Dimensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type remoteRequest struct {
	Text string `json:"text"`
}

type remoteResponse struct {
	Success *bool `json:"success"`
	Result  *struct {
		Data [][]float32 `json:"data"`
	} `json:"result"`
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Embed returns the embedding for text, retrying transient failures.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	policy := e.cfg.Retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		if e.logger != nil {
			e.logger.Warn("embedding attempt failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	var vec []float32
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		v, err := e.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &EmbeddingError{Attempts: attempts, Permanent: IsPermanent(err), Err: err}
	}
	return vec, nil
}

func (e *RemoteEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Body: truncateBody(raw)}
		if serr.Retryable() {
			return nil, serr
		}
		return nil, Permanent(serr)
	}
	return e.decode(raw)
}

func (e *RemoteEmbedder) decode(raw []byte) ([]float32, error) {
	var r remoteResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if r.Success != nil && !*r.Success {
		msg := "success=false"
		if len(r.Errors) > 0 {
			msg = r.Errors[0].Message
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, msg)
	}
	var vec []float32
	switch {
	case r.Result != nil && len(r.Result.Data) > 0:
		vec = r.Result.Data[0]
	case len(r.Data) > 0:
		vec = r.Data[0].Embedding
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrMalformedResponse)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimensions == 0 {
		e.dimensions = len(vec)
	} else if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrMalformedResponse, len(vec), e.dimensions)
	}
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the configured or learned vector length.
func (e *RemoteEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const max = 256
	s := string(bytes.TrimSpace(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
