package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const (
	CodeConnection      = "connection_error"
	CodeInvalidResponse = "invalid_response"
	CodeNotConfigured   = "not_configured"

	maxResponseBytes = 1 << 20
)

// Error is a failed translation call. Code is short enough to store on the item.
type Error struct {
	Code       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("translation failed (%s)", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	URL            string
	Token          string
	From           string
	To             string
	Domain         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retries        int
	Rate           float64
}

type Client struct {
	endpoint   string
	token      string
	from       string
	to         string
	domain     string
	retries    int
	retryDelay time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

type request struct {
	Text   string `json:"text"`
	From   string `json:"from"`
	To     string `json:"to"`
	Domain string `json:"domain,omitempty"`
}

type response struct {
	Translated *string        `json:"translated"`
	Meta       map[string]any `json:"meta"`
}

func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext

	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}

	return &Client{
		endpoint:   config.URL,
		token:      config.Token,
		from:       config.From,
		to:         config.To,
		domain:     config.Domain,
		retries:    max(config.Retries, 0),
		retryDelay: time.Second,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Translate returns the translation of text. Empty text is returned as is.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if c.endpoint == "" {
		return "", &Error{Code: CodeNotConfigured, Err: errors.New("translation service URL is not set")}
	}

	body, err := json.Marshal(request{Text: text, From: c.from, To: c.to, Domain: c.domain})
	if err != nil {
		return "", &Error{Code: CodeInvalidResponse, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	policy := retrypolicy.NewBuilder[string]().
		WithBackoff(c.retryDelay, 8*c.retryDelay).
		WithMaxRetries(c.retries).
		WithJitterFactor(0.1).
		HandleIf(func(_ string, err error) bool {
			return isRetryable(err)
		}).
		Build()

	translated, err := failsafe.With(policy).WithContext(ctx).Get(func() (string, error) {
		return c.attempt(ctx, body)
	})
	if err == nil {
		return translated, nil
	}

	var translateErr *Error
	if errors.As(err, &translateErr) {
		return "", translateErr
	}
	return "", &Error{Code: CodeConnection, Err: err}
}

func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &Error{Code: CodeConnection, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Code: CodeConnection, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: CodeConnection, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Code: CodeConnection, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Code:       fmt.Sprintf("http_%d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var parsed response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &Error{Code: CodeInvalidResponse, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Translated == nil {
		return "", &Error{Code: CodeInvalidResponse, Err: errors.New("response has no translated field")}
	}

	return *parsed.Translated, nil
}

func isRetryable(err error) bool {
	var translateErr *Error
	if !errors.As(err, &translateErr) {
		return false
	}
	switch {
	case translateErr.Code == CodeConnection:
		return true
	case translateErr.StatusCode >= 500, translateErr.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}
