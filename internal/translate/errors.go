package translate

import (
	"fmt"

	"github.com/Luji7/llm-gateway/internal/apperror"
)

// Error is a translator failure. It carries the same Kind vocabulary
// apperror does so the pipeline can convert it with apperror.New
// without a second mapping table.
type Error struct {
	Kind    apperror.Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: apperror.KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func apiError(format string, args ...any) *Error {
	return &Error{Kind: apperror.KindAPIError, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest and APIError are the exported forms of invalidRequest and
// apiError, for packages outside translate (the stream transcoder) that
// need to build the same Error shape without duplicating the Kind wiring.
func InvalidRequest(format string, args ...any) *Error { return invalidRequest(format, args...) }
func APIError(format string, args ...any) *Error       { return apiError(format, args...) }

// ToAppError converts a translator Error into the pipeline-wide
// apperror.Error, using the Kind's canonical HTTP status.
func (e *Error) ToAppError() *apperror.Error {
	return apperror.New(e.Kind, e.Message)
}
