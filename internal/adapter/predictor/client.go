// Package predictor is the HTTP client for the model-serving endpoint that
// embeds rainfall sequences and classifies them into IPC phases.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/observability"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

const (
	endpointEmbed    = "embed"
	endpointClassify = "classify"

	maxResponseBytes = 4 << 20
)

// StatusError is a non-2xx response from the model server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("predictor returned %d: %s", e.Code, e.Body)
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Client calls POST {base}/v1/embed and POST {base}/v1/classify. Request
// bodies are gzip-compressed JSON.
type Client struct {
	baseURL    string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets how many times a failed call is retried and the backoff
// bounds between attempts.
func WithRetry(maxRetries int, minBackoff, maxBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.minBackoff = minBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[[]byte]) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// NewBreaker builds the circuit breaker used by the client. It opens after
// consecutiveFailures server or transport errors and half-opens after
// cooldown. Client errors (4xx) never trip it.
func NewBreaker(consecutiveFailures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "predictor",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err) && !errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// NewClient creates a Client. timeout bounds each HTTP attempt.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		breaker:    NewBreaker(5, 30*time.Second),
		logger:     logger,
		metrics:    metrics,
		maxRetries: 2,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type sequenceRequest struct {
	Sequence tensor `json:"sequence"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type classifyResponse struct {
	Phase         int       `json:"phase"`
	Probabilities []float64 `json:"probabilities"`
}

// Embed returns the model's feature vector for seq.
func (c *Client) Embed(ctx context.Context, seq *raster.Sequence) ([]float64, error) {
	body, err := c.call(ctx, endpointEmbed, seq)
	if err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("embed response has no embedding")
	}
	for i, v := range resp.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("embedding value %d is not finite", i)
		}
	}
	return resp.Embedding, nil
}

// Classify returns the model's IPC phase distribution for seq. When the
// server omits the phase, the most probable one is used.
func (c *Client) Classify(ctx context.Context, seq *raster.Sequence) (domain.Classification, error) {
	body, err := c.call(ctx, endpointClassify, seq)
	if err != nil {
		return domain.Classification{}, err
	}
	var resp classifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Classification{}, fmt.Errorf("decode classify response: %w", err)
	}
	cls := domain.Classification{Phase: domain.Phase(resp.Phase), Probabilities: resp.Probabilities}
	if resp.Phase == 0 {
		cls.Phase = argmaxPhase(resp.Probabilities)
	}
	return cls, nil
}

func argmaxPhase(probs []float64) domain.Phase {
	best := -1
	for i, p := range probs {
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	return domain.Phase(best + 1)
}

// call posts seq to endpoint, retrying server and transport failures with
// exponential backoff.
func (c *Client) call(ctx context.Context, endpoint string, seq *raster.Sequence) ([]byte, error) {
	payload, err := encodeSequence(seq)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/v1/" + endpoint

	backoff := c.minBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.post(ctx, url, payload)
		})
		switch {
		case err == nil:
			c.metrics.ObservePredictorCall(endpoint, "success", time.Since(start))
			return body, nil
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			c.metrics.ObservePredictorCall(endpoint, "rejected", time.Since(start))
			return nil, fmt.Errorf("predictor %s: %w", endpoint, err)
		}
		c.metrics.ObservePredictorCall(endpoint, "error", time.Since(start))

		if attempt >= c.maxRetries || !retryable(err) {
			return nil, fmt.Errorf("predictor %s: %w", endpoint, err)
		}
		c.logger.Warn("predictor call failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil, fmt.Errorf("predictor %s: %w", endpoint, ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, c.maxBackoff)
	}
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func encodeSequence(seq *raster.Sequence) ([]byte, error) {
	shape := seq.Shape()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(sequenceRequest{
		Sequence: tensor{Shape: shape[:], Data: seq.Data},
	}); err != nil {
		return nil, fmt.Errorf("encode sequence: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress sequence: %w", err)
	}
	return buf.Bytes(), nil
}
