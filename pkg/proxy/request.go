package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"mercator-hq/relay/pkg/proxy/types"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxRequestBodySize is the default request body limit (1MB).
	MaxRequestBodySize = 1 << 20

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"

	// SessionTokenHeader optionally scopes the conversation key to a client
	// session.
	SessionTokenHeader = "X-Session-Token"

	// ProtocolParam is the query parameter selecting the stream protocol.
	ProtocolParam = "protocol"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseChatRequest decodes and validates a chat request body of at most
// maxBytes bytes (MaxRequestBodySize when maxBytes <= 0). Failures are
// returned as *RequestError. An empty message list is not rejected here;
// the relay reports it.
func ParseChatRequest(r *http.Request, maxBytes int64) (*types.ChatRequest, error) {
	if maxBytes <= 0 {
		maxBytes = MaxRequestBodySize
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, &RequestError{
			Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBytes),
			Code:    types.CodeRequestTooLarge,
			Param:   "body",
		}
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}

	if err := validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}
	return &req, nil
}

// validationError reports the first failed field.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	e := fieldErrs[0]
	field := strings.TrimPrefix(e.Namespace(), "ChatRequest.")

	switch e.Tag() {
	case "required":
		return &RequestError{
			Message: fmt.Sprintf("%s is required", field),
			Code:    types.CodeMissingField,
			Param:   field,
		}
	case "oneof":
		return &RequestError{
			Message: fmt.Sprintf("%s must be one of: %s", field, e.Param()),
			Code:    types.CodeInvalidValue,
			Param:   field,
		}
	default:
		return &RequestError{
			Message: fmt.Sprintf("%s failed validation: %s", field, e.Tag()),
			Code:    types.CodeInvalidValue,
			Param:   field,
		}
	}
}

// RequestError represents a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts a RequestError to an error response.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	return types.NewInvalidRequestError(e.Message, e.Param, e.Code)
}
