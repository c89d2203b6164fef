package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestConfigureAndWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "sipevd-test", Version: "v0.0.0-test"})

	logger := WithComponent("worker")
	logger.Info().Str("event", "worker.started").Int("index", 3).Msg("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "worker" {
		t.Errorf("component = %v, want worker", entry["component"])
	}
	if entry["service"] != "sipevd-test" {
		t.Errorf("service = %v, want sipevd-test", entry["service"])
	}
	if entry["event"] != "worker.started" {
		t.Errorf("event = %v, want worker.started", entry["event"])
	}
}

func TestSetLevel(t *testing.T) {
	if !SetLevel("warn") {
		t.Error("SetLevel(warn) should succeed")
	}
	if SetLevel("not-a-level") {
		t.Error("SetLevel with garbage should fail")
	}
	SetLevel("debug")
}

func TestContextCorrelation(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		dialog string
		tenant string
	}{
		{name: "nil context", ctx: nil, dialog: "abc;ft=1;tt=2", tenant: "t.com"},
		{name: "background", ctx: context.Background(), dialog: "xyz", tenant: "other"},
		{name: "empty values", ctx: context.Background(), dialog: "", tenant: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithDialogID(tt.ctx, tt.dialog)
			ctx = ContextWithTenantID(ctx, tt.tenant)
			if got := DialogIDFromContext(ctx); got != tt.dialog {
				t.Errorf("DialogIDFromContext = %q, want %q", got, tt.dialog)
			}
			if got := TenantIDFromContext(ctx); got != tt.tenant {
				t.Errorf("TenantIDFromContext = %q, want %q", got, tt.tenant)
			}
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "sipevd-test"})

	ctx := ContextWithDialogID(context.Background(), "call-1;ft=a;tt=b")
	ctx = ContextWithTenantID(ctx, "tenant.example")

	logger := WithContext(ctx, WithComponent("dispatch"))
	logger.Info().Msg("routed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["dialog_id"] != "call-1;ft=a;tt=b" {
		t.Errorf("dialog_id = %v", entry["dialog_id"])
	}
	if entry["tenant_id"] != "tenant.example" {
		t.Errorf("tenant_id = %v", entry["tenant_id"])
	}
}
