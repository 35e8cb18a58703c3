package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"mercator-hq/relay/pkg/datastream"
	"mercator-hq/relay/pkg/proxy/types"
)

// Stream response headers.
const (
	DataStreamHeader = "X-Vercel-AI-Data-Stream"
	ThreadIDHeader   = "X-Thread-Id"
)

// WriteJSONResponse writes a JSON response to the HTTP response writer.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// WriteErrorResponse writes errResp with the status matching its type.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

// SetStreamHeaders sets the headers of a relayed stream. Buffering by
// intermediaries is disabled so that each frame reaches the client as it is
// written.
func SetStreamHeaders(w http.ResponseWriter, threadID string) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "close")
	h.Set("X-Accel-Buffering", "no")
	h.Set(DataStreamHeader, datastream.ProtocolVersion)
	if threadID != "" {
		h.Set(ThreadIDHeader, threadID)
	}
}

// WriteFrame writes one frame and flushes it.
func WriteFrame(w http.ResponseWriter, frame datastream.Frame) error {
	if _, err := w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
