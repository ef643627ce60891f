package llm

import (
	"context"
	"testing"
)

func TestWithRequestID_AddsIDToContext(t *testing.T) {
	ctx := context.Background()

	newCtx := WithRequestID(ctx, "cat.sch.t1/relationships")

	if GetRequestID(ctx) != "" {
		t.Error("original context should not have a request id")
	}
	if got := GetRequestID(newCtx); got != "cat.sch.t1/relationships" {
		t.Errorf("expected request id, got %q", got)
	}
}

func TestWithRequestID_CanBeOverwritten(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")

	if got := GetRequestID(ctx); got != "second" {
		t.Errorf("expected second id, got %q", got)
	}
}

func TestWithJSONResponse(t *testing.T) {
	ctx := context.Background()
	if WantsJSONResponse(ctx) {
		t.Error("plain context should not request JSON")
	}
	if !WantsJSONResponse(WithJSONResponse(ctx)) {
		t.Error("expected JSON response to be requested")
	}
}
