package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failed relay call. User-facing replies and metrics
// labels are derived from the kind, never from matching error text.
type Kind string

const (
	KindTimeout     Kind = "timeout"     // no response within the configured timeout
	KindUnreachable Kind = "unreachable" // endpoint not reachable (refused, DNS, ...)
	KindStatus      Kind = "status"      // backend answered with a non-2xx status
	KindUnknown     Kind = "unknown"     // anything else
)

// Error is the tagged failure type returned by Client.Relay.
type Error struct {
	Kind   Kind
	Status int    // HTTP status for KindStatus, 0 otherwise
	Body   string // truncated response body for KindStatus
	Err    error  // underlying cause, if any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Body)
	case KindTimeout:
		return fmt.Sprintf("backend timed out: %v", e.Err)
	case KindUnreachable:
		return fmt.Sprintf("backend unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("backend error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from any error returned by the client.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// classifyTransport maps an http.Client.Do error to a failure kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindUnreachable
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return KindUnreachable
	}
	return KindUnknown
}
