// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ServiceName: "zmdc"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if provider.Enabled() {
		t.Error("Expected noop provider")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	if span.IsRecording() {
		t.Error("Expected noop tracer span to be non-recording")
	}
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on noop provider: %v", err)
	}
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "zmdc", ExporterType: "invalid"})
	if err == nil {
		t.Fatal("Expected error for invalid exporter type")
	}
	expected := "unsupported exporter type: invalid (supported: grpc, http)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestNewProvider_HTTPExporter(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "zmdc",
		ExporterType: "http",
		Endpoint:     "localhost:4318",
		SamplingRate: 0.5,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if !provider.Enabled() {
		t.Fatal("expected sdk provider")
	}
	_ = provider.Shutdown(context.Background())
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func findAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDaemonAttributes(t *testing.T) {
	attrs := DaemonAttributes("zmc -m 1", 0)
	if len(attrs) != 1 {
		t.Fatalf("pid 0 should be omitted, got %d attrs", len(attrs))
	}
	attrs = DaemonAttributes("zmc -m 1", 4242)
	v, ok := findAttr(attrs, DaemonPIDKey)
	if !ok || v.AsInt64() != 4242 {
		t.Errorf("pid attribute = %v, %v", v, ok)
	}
}

func TestLiveAttributes(t *testing.T) {
	attrs := LiveAttributes(3, "hls", "")
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	v, _ := findAttr(attrs, ProtocolKey)
	if v.AsString() != "hls" {
		t.Errorf("protocol = %q", v.AsString())
	}
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/daemons", "/api/v1/daemons", 200)
	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}
	v, _ := findAttr(attrs, HTTPStatusCodeKey)
	if v.AsInt64() != 200 {
		t.Errorf("status = %d", v.AsInt64())
	}
}
