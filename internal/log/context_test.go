// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromContext_NilReturnsBase(t *testing.T) {
	if FromContext(nil) == nil {
		t.Fatal("FromContext(nil) returned nil logger")
	}
	if RequestIDFromContext(nil) != "" {
		t.Fatal("expected empty request id for nil context")
	}
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "r1")
	ctx = ContextWithSessionID(ctx, "s1")
	l := WithContext(ctx, base)
	l.Info().Msg("x")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m[FieldRequestID] != "r1" || m[FieldSessionID] != "s1" {
		t.Errorf("missing correlation fields: %v", m)
	}
	if _, ok := m[FieldCorrelationID]; ok {
		t.Errorf("unexpected correlation id: %v", m)
	}
}
