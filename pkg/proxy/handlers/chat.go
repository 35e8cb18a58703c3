package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/relay/pkg/datastream"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/relay"
)

// Relay starts relayed streams. *relay.Relay implements it.
type Relay interface {
	Start(ctx context.Context, req relay.ChatRequest) (*relay.Stream, error)
}

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	relay        Relay
	maxBodyBytes int64
}

// NewChatHandler creates a chat handler. maxBodyBytes <= 0 selects
// proxy.MaxRequestBodySize.
func NewChatHandler(r Relay, maxBodyBytes int64) *ChatHandler {
	return &ChatHandler{relay: r, maxBodyBytes: maxBodyBytes}
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(ctx, w, types.NewErrorResponse(
			"Method "+r.Method+" not allowed. Use POST instead.",
			types.ErrorTypeInvalidRequest, "method", "method_not_allowed",
		))
		return
	}

	chatReq, err := proxy.ParseChatRequest(r, h.maxBodyBytes)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse request", "error", err)
		h.writeError(ctx, w, proxy.HandleError(err))
		return
	}

	protocol := datastream.ParseProtocol(r.URL.Query().Get(proxy.ProtocolParam))
	stream, err := h.relay.Start(ctx, toRelayRequest(chatReq, r.Header.Get(proxy.SessionTokenHeader), protocol))
	if err != nil {
		slog.ErrorContext(ctx, "failed to start relay", "error", err)
		h.writeError(ctx, w, proxy.HandleError(err))
		return
	}
	defer stream.Close()

	proxy.SetStreamHeaders(w, string(stream.ThreadID()))
	if protocol == datastream.ProtocolText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	frames := 0
	for frame := range stream.Frames() {
		if err := proxy.WriteFrame(w, frame); err != nil {
			slog.WarnContext(ctx, "client disconnected during streaming",
				"frames_sent", frames,
				"error", err,
			)
			break
		}
		frames++
	}
	stream.Close()

	slog.InfoContext(ctx, "chat stream finished",
		"thread_id", stream.ThreadID(),
		"protocol", protocol,
		"outcome", stream.Outcome(),
		"frames_sent", frames,
		"total_latency_ms", time.Since(start).Milliseconds(),
	)
}

func (h *ChatHandler) writeError(ctx context.Context, w http.ResponseWriter, errResp *types.ErrorResponse) {
	if err := proxy.WriteErrorResponse(w, errResp); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

func toRelayRequest(req *types.ChatRequest, sessionToken string, protocol datastream.Protocol) relay.ChatRequest {
	msgs := make([]relay.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = relay.Message{Role: m.Role, Content: m.Content, ThreadID: m.Thread()}
	}
	return relay.ChatRequest{
		Messages:     msgs,
		SessionToken: sessionToken,
		Protocol:     protocol,
	}
}
