package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies relay failures. The same kinds are reconstructed on the client side
// from the HTTP status so both ends speak one taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindStreamParse
	KindCancelled
)

// StatusClientClosedRequest is logged for sessions the client abandoned; it is never written.
const StatusClientClosedRequest = 499

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindStreamParse:
		return "stream_parse"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StatusCode maps a kind to the HTTP status of the error response.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindUpstreamUnavailable, KindStreamParse:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is the inverse of StatusCode for statuses the relay emits.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindUpstreamUnavailable
	case http.StatusGatewayTimeout:
		return KindUpstreamTimeout
	default:
		return KindUnknown
	}
}

// Error is a classified relay failure. Detail is safe to show to the client.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("relay %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindAuth}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// NewError builds an Error with a formatted detail.
func NewError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Detail returns the client-facing text of err.
func Detail(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Detail
	}
	return "internal error"
}
