package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
)

const maxErrorBody = 2048

// Client calls POST {baseURL}/chat/completions.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMetrics records one policypro_llm_requests_total sample per call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// NewClient constructs a Client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends one chat completion request. Rate limits surface as
// *RateLimitError, other failures as *APIError or a transport error.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordLLMRequest("transport_error")
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordLLMRequest(strconv.Itoa(resp.StatusCode))
	c.log.Debug().
		Str("model", req.Model).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("completion request finished")

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			RetryAfter:    resp.Header.Get("Retry-After"),
			ResetRequests: resp.Header.Get("X-Ratelimit-Reset-Requests"),
			Body:          readSnippet(resp.Body),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Message:      decoded.Choices[0].Message,
		FinishReason: decoded.Choices[0].FinishReason,
		Usage:        decoded.Usage,
	}, nil
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
