package feed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const acceptHeader = "application/rss+xml, application/xml, text/xml, application/atom+xml"

type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
}

func NewFetcher(httpClient *http.Client, parser *Parser, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
	}
}

// Fetch downloads and parses a source, retrying transient failures, and caps
// the newest-first entries at the configured max items.
func (f *Fetcher) Fetch(ctx context.Context, feedConfig *Config) (*FetchResult, error) {
	client, err := f.clientFor(feedConfig)
	if err != nil {
		return nil, err
	}

	data, err := f.download(ctx, client, feedConfig)
	if err != nil {
		return nil, err
	}

	metadata, entries, err := f.parser.Run(data)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{
		Metadata: metadata,
		Entries:  entries,
		Total:    len(entries),
	}

	maxItems := feedConfig.Settings.MaxItems
	if maxItems > 0 && len(entries) > maxItems {
		result.Entries = entries[:maxItems]
		result.Truncated = true
	}

	return result, nil
}

func (f *Fetcher) download(ctx context.Context, client *http.Client, feedConfig *Config) ([]byte, error) {
	settings := feedConfig.Settings
	builder := retrypolicy.NewBuilder[[]byte]().
		WithMaxRetries(max(settings.Retries, 0)).
		HandleIf(func(_ []byte, err error) bool {
			return isRetryable(err)
		})
	// A zero retry sleep retries immediately.
	if settings.RetrySleep > 0 {
		baseDelay := time.Duration(settings.RetrySleep) * time.Second
		builder = builder.WithBackoff(baseDelay, 8*baseDelay).WithJitterFactor(0.1)
	}
	policy := builder.Build()

	data, err := failsafe.With(policy).WithContext(ctx).Get(func() ([]byte, error) {
		return f.attempt(ctx, client, feedConfig)
	})
	if err == nil {
		return data, nil
	}

	var connErr *ConnectionError
	var httpErr *HTTPError
	var parseErr *ParseError
	switch {
	case errors.As(err, &connErr):
		return nil, connErr
	case errors.As(err, &httpErr):
		return nil, httpErr
	case errors.As(err, &parseErr):
		return nil, parseErr
	}

	return nil, &ConnectionError{URL: feedConfig.URL, Err: err}
}

func (f *Fetcher) attempt(ctx context.Context, client *http.Client, feedConfig *Config) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(feedConfig.Settings.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, feedConfig.URL, nil)
	if err != nil {
		return nil, &ConnectionError{URL: feedConfig.URL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Accept", acceptHeader)
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: feedConfig.URL, TLS: isTLSError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: feedConfig.URL, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	maxBytes := feedConfig.Settings.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &ConnectionError{URL: feedConfig.URL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if int64(len(data)) > maxBytes {
		return nil, &ParseError{Errs: []error{fmt.Errorf("payload exceeds %d bytes", maxBytes)}}
	}

	return data, nil
}

func (f *Fetcher) clientFor(feedConfig *Config) (*http.Client, error) {
	bundle := feedConfig.Settings.CABundle
	if bundle == "" {
		return f.httpClient, nil
	}

	pem, err := os.ReadFile(bundle)
	if err != nil {
		return nil, &ConnectionError{URL: feedConfig.URL, TLS: true, Err: fmt.Errorf("failed to read CA bundle: %w", err)}
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, &ConnectionError{URL: feedConfig.URL, TLS: true, Err: fmt.Errorf("no certificates found in CA bundle %s", bundle)}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}

	return &http.Client{
		Transport:     transport,
		CheckRedirect: f.httpClient.CheckRedirect,
		Jar:           f.httpClient.Jar,
	}, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return !connErr.TLS
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}
