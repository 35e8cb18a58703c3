// Package proxy holds the HTTP boundary of the chat relay.
//
// It parses and validates client requests, maps errors raised before a
// stream starts onto JSON error responses, and writes relayed frames with
// the stream headers clients expect.
//
// # Layout
//
//   - proxy: request parsing, error mapping and response writers
//   - handlers: the chat handler serving POST /api/chat
//   - middleware: request id, logging, recovery, CORS and trace extraction
//   - types: request and error bodies
//
// # Request
//
//	POST /api/chat?protocol=data
//	X-Session-Token: optional
//
//	{"messages":[{"role":"user","content":"hi"}]}
//
// # Response
//
// A successful request is answered with a streamed body:
//
//	Content-Type: text/event-stream
//	Cache-Control: no-cache, no-transform
//	X-Accel-Buffering: no
//	X-Vercel-AI-Data-Stream: v1
//	X-Thread-Id: 3f1c...
//
//	0:"He"
//	0:"llo"
//	e:{"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0},"isContinued":false}
//
// Errors detected before the stream starts are JSON:
//
//	{"error":{"message":"No messages provided","type":"invalid_request_error"}}
package proxy
