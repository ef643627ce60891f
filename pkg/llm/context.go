package llm

import (
	"context"
)

type contextKey string

const (
	requestIDKey    contextKey = "llm_request_id"
	jsonResponseKey contextKey = "llm_json_response"
)

// requestIDHeader carries the request id so gateway logs can be correlated
// with pipeline logs.
const requestIDHeader = "X-Request-Id"

// WithRequestID returns a context whose LLM calls are tagged with id,
// for example "cat.sch.orders/relationships".
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id attached to ctx, if any.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithJSONResponse asks the client to constrain the next completions to a JSON object
// when the provider supports a response format.
func WithJSONResponse(ctx context.Context) context.Context {
	return context.WithValue(ctx, jsonResponseKey, true)
}

// WantsJSONResponse reports whether WithJSONResponse was applied to ctx.
func WantsJSONResponse(ctx context.Context) bool {
	v, _ := ctx.Value(jsonResponseKey).(bool)
	return v
}
