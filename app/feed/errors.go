package feed

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// ConnectionError reports a network or TLS failure reaching the feed.
type ConnectionError struct {
	URL string
	TLS bool
	Err error
}

func (e *ConnectionError) Error() string {
	if e.TLS {
		return fmt.Sprintf("connection to %s failed (TLS-related, check the ca_bundle setting): %v", e.URL, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-2xx feed response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error from %s: %d %s", e.URL, e.StatusCode, e.Status)
}

// ParseError carries every problem found while parsing; Error surfaces the first.
type ParseError struct {
	Errs []error
}

func (e *ParseError) Error() string {
	if len(e.Errs) == 0 {
		return "failed to parse feed"
	}
	if len(e.Errs) == 1 {
		return fmt.Sprintf("failed to parse feed: %v", e.Errs[0])
	}
	return fmt.Sprintf("failed to parse feed: %v (and %d more)", e.Errs[0], len(e.Errs)-1)
}

func (e *ParseError) Unwrap() []error {
	return e.Errs
}

func isTLSError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var invalidCert x509.CertificateInvalidError
	var hostname x509.HostnameError
	var verification *tls.CertificateVerificationError
	var recordHeader tls.RecordHeaderError

	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &invalidCert),
		errors.As(err, &hostname),
		errors.As(err, &verification),
		errors.As(err, &recordHeader):
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") || strings.Contains(msg, "certificate")
}
