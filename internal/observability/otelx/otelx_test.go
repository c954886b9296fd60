package otelx

import (
	"context"
	"errors"
	"testing"

	"github.com/bakkerme/culler/internal/config"
)

func TestSettingsDefaults(t *testing.T) {
	cases := []struct {
		cfg          config.OTelEnvConfig
		wantProtocol string
		wantEndpoint string
	}{
		{cfg: config.OTelEnvConfig{}, wantProtocol: "grpc", wantEndpoint: "localhost:4317"},
		{cfg: config.OTelEnvConfig{Protocol: "http"}, wantProtocol: "http/protobuf", wantEndpoint: "localhost:4318"},
		{cfg: config.OTelEnvConfig{Protocol: " GRPC ", Endpoint: "collector:4317"}, wantProtocol: "grpc", wantEndpoint: "collector:4317"},
	}
	for _, tc := range cases {
		got := settingsFrom(tc.cfg)
		if got.protocol != tc.wantProtocol {
			t.Fatalf("protocol for %+v = %q, want %q", tc.cfg, got.protocol, tc.wantProtocol)
		}
		if got.endpoint != tc.wantEndpoint {
			t.Fatalf("endpoint for %+v = %q, want %q", tc.cfg, got.endpoint, tc.wantEndpoint)
		}
	}
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), nil, config.OTelEnvConfig{Enabled: false})
	if err != nil || shutdown != nil {
		t.Fatalf("expected no-op init, got %v, %v", shutdown != nil, err)
	}
}

func TestInitRejectsUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), nil, config.OTelEnvConfig{Enabled: true, Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatalf("expected unsupported protocol error")
	}
}

func TestPhaseSpansWithoutInit(t *testing.T) {
	ctx, span := StartPhase(context.Background(), "plan")
	if ctx == nil {
		t.Fatalf("expected a context")
	}
	EndSpan(span, errors.New("boom"))
	_, span = StartPhase(ctx, "remove")
	EndSpan(span, nil)
}
