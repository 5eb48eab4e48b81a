// Package sources produces the snapshot documents the dashboard renders.
//
// Each Source fetches one kind of data (time, air quality, weather,
// calendar) and writes it to the snapshot store. Sources do not decide when
// they run; the dashboard gates them through the freshness scheduler and the
// rate-limit guard.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Source is a producer of one snapshot document.
type Source interface {
	// Name is the freshness/rate-limit key, one of models.AllSources.
	Name() string
	// Fetch retrieves fresh data and writes it to the store. A nil error
	// means the snapshot was written.
	Fetch(ctx context.Context, now time.Time) error
}

var (
	// ErrNotConfigured is returned when a source lacks credentials or ids.
	ErrNotConfigured = errors.New("sources: not configured")
	// ErrAuth is returned when the calendar token cannot be used.
	ErrAuth = errors.New("sources: calendar authorization failed")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.Code, e.Body)
}

// RateLimitError reports that an upstream rejected a call because of quota.
// The dashboard reacts by recording a rate-limit hit for Source.
type RateLimitError struct {
	Source  string
	Code    int
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rate limited (HTTP %d)", e.Source, e.Code)
	}
	return fmt.Sprintf("%s: rate limited (HTTP %d): %s", e.Source, e.Code, e.Message)
}

// DecodeError wraps a response body that could not be parsed.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode: %v", e.URL, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }
