// Package apperror defines the gateway's fixed error taxonomy and its
// rendering to the Anthropic error envelope.
package apperror

import "net/http"

// Kind is one of the fixed Anthropic error types.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request_error"
	KindAuthentication Kind = "authentication_error"
	KindPermission     Kind = "permission_error"
	KindNotFound       Kind = "not_found_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindAPIError       Kind = "api_error"
	KindOverloaded     Kind = "overloaded_error"
)

// canonicalStatus is the HTTP status a Kind maps to when the error
// originates inside the gateway itself (request validation, translation).
var canonicalStatus = map[Kind]int{
	KindInvalidRequest: http.StatusBadRequest,
	KindAuthentication: http.StatusUnauthorized,
	KindPermission:     http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindRateLimit:      http.StatusTooManyRequests,
	KindAPIError:       http.StatusInternalServerError,
	KindOverloaded:     http.StatusBadGateway,
}

// Error is the gateway's internal error representation. It carries both
// the fixed Kind used for metrics/span tagging and the HTTP status to
// respond with, which for downstream-origin errors differs from the
// Kind's canonical status (see Downstream).
type Error struct {
	Status  int
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an error whose HTTP status is the Kind's canonical status.
func New(kind Kind, message string) *Error {
	return &Error{Status: canonicalStatus[kind], Kind: kind, Message: message}
}

func InvalidRequest(message string) *Error { return New(KindInvalidRequest, message) }
func RateLimited(message string) *Error    { return New(KindRateLimit, message) }
func APIError(message string) *Error       { return New(KindAPIError, message) }

// Downstream builds an error whose body carries the status-mapped Kind
// but whose HTTP status is always 502, per spec: "downstream-origin
// errors are always returned with status 502 and the mapped kind in
// the body" (translate mode only; pass-through echoes upstream verbatim
// and never constructs one of these).
func Downstream(upstreamStatus int, body string) *Error {
	kind := mapUpstreamStatus(upstreamStatus)
	msg := body
	if msg == "" {
		msg = http.StatusText(upstreamStatus)
	}
	return &Error{Status: http.StatusBadGateway, Kind: kind, Message: msg}
}

func mapUpstreamStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindInvalidRequest
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindOverloaded
	default:
		return KindAPIError
	}
}

// Body is the wire shape of an Anthropic error response.
type Body struct {
	Type  string `json:"type"`
	Error Detail `json:"error"`
}

type Detail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Render builds the {"type":"error","error":{...}} envelope for e.
func (e *Error) Render() Body {
	return Body{
		Type: "error",
		Error: Detail{
			Type:    string(e.Kind),
			Message: e.Message,
		},
	}
}
