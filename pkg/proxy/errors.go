package proxy

import (
	"errors"

	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/relay"
)

// NoMessagesMessage is the error message for a request without turns.
const NoMessagesMessage = "No messages provided"

// HandleError converts an error raised before streaming starts into an
// error response. Unknown errors become a generic server error so that
// internal details never reach the client.
//
// Example usage:
//
//	if err != nil {
//	    WriteErrorResponse(w, HandleError(err))
//	    return
//	}
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	if errors.Is(err, relay.ErrNoTurns) {
		return types.NewInvalidRequestError(NoMessagesMessage, "messages", types.CodeMissingField)
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}
