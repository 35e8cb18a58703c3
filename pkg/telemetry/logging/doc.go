// Package logging builds the relay's structured logger.
//
// # Overview
//
// New wraps log/slog's JSON or text handler with:
//   - base attributes "service" and "environment" on every record
//   - request_id and thread_id taken from the context
//   - masking of sensitive keys (api_key, authorization, session_token, ...)
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:       "info",
//	    Format:      "json",
//	    Service:     "chat-relay",
//	    Environment: "production",
//	})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "stream completed", "frames", 12)
//	// {"time":...,"level":"INFO","msg":"stream completed","service":"chat-relay",
//	//  "environment":"production","frames":12,"request_id":"req-123"}
package logging
