package scraper

import (
	"errors"
	"fmt"
)

// ErrNetwork is matched by every NetworkError.
var ErrNetwork = errors.New("network error")

// NetworkError reports that the search page could not be fetched. Err is one
// of the classified errors below, or the raw cause when none applies.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// labeled is implemented by every classified fetch error; the label doubles
// as the error_type metric value.
type labeled interface {
	error
	Label() string
}

// ErrTimeout indicates the request did not complete in time.
type ErrTimeout struct{ Err error }

func (e ErrTimeout) Label() string { return "timeout" }
func (e ErrTimeout) Error() string { return describe(e, e.Err) }
func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrConnection indicates the transport failed before a response arrived.
type ErrConnection struct{ Err error }

func (e ErrConnection) Label() string { return "connection" }
func (e ErrConnection) Error() string { return describe(e, e.Err) }
func (e ErrConnection) Unwrap() error { return e.Err }

// ErrForbidden indicates HTTP 403, usually a bot wall.
type ErrForbidden struct{ Err error }

func (e ErrForbidden) Label() string { return "forbidden" }
func (e ErrForbidden) Error() string { return describe(e, e.Err) }
func (e ErrForbidden) Unwrap() error { return e.Err }

// ErrNotFound indicates HTTP 404.
type ErrNotFound struct{ Err error }

func (e ErrNotFound) Label() string { return "not_found" }
func (e ErrNotFound) Error() string { return describe(e, e.Err) }
func (e ErrNotFound) Unwrap() error { return e.Err }

// ErrRateLimited indicates HTTP 429.
type ErrRateLimited struct{ Err error }

func (e ErrRateLimited) Label() string { return "rate_limited" }
func (e ErrRateLimited) Error() string { return describe(e, e.Err) }
func (e ErrRateLimited) Unwrap() error { return e.Err }

// ErrHTTPStatus covers any other non-success status.
type ErrHTTPStatus struct {
	StatusCode int
	Err        error
}

func (e ErrHTTPStatus) Label() string { return "http_status" }
func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Label(), e.StatusCode, e.Err)
}
func (e ErrHTTPStatus) Unwrap() error { return e.Err }

func describe(l labeled, cause error) string {
	return fmt.Sprintf("%s: %v", l.Label(), cause)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var l labeled
	if errors.As(err, &l) {
		return l.Label()
	}
	return "other"
}
