package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed backend call.
type ErrorKind int

const (
	KindRateLimited ErrorKind = iota + 1
	KindServerError
	KindTimeout
	KindNetworkError
	KindInvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindNetworkError:
		return "network_error"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Complete and by transports for every failed call.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status when the backend answered, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// FromStatus maps an HTTP status of a rejected call to an Error.
// 429 is rate limiting, 5xx is a server failure and every other status
// is treated as a rejection of the request itself.
func FromStatus(status int, err error) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Err: err}
	case status >= http.StatusInternalServerError:
		return &Error{Kind: KindServerError, Status: status, Err: err}
	default:
		return &Error{Kind: KindInvalidResponse, Status: status, Err: err}
	}
}

// classify turns whatever a transport returned into an *Error.
func classify(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindNetworkError, Err: err}
	}
	return &Error{Kind: KindInvalidResponse, Err: err}
}
