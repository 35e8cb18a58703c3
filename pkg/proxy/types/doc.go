// Package types defines the JSON bodies exchanged with chat clients.
//
// Request types:
//   - ChatRequest: body of POST /api/chat
//   - Message: one conversation turn
//
// Error types:
//   - ErrorResponse: {"error":{"message":..,"type":..}} returned for every
//     non-streaming failure
//   - ErrorDetail: message, type and optional param and code
//
// Messages accept the thread id as either "threadId" or "thread_id"; the
// camelCase form wins when both are present. Roles are validated with
// go-playground/validator struct tags.
package types
