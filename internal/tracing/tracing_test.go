package tracing

import (
	"context"
	"testing"
)

func TestNew_Disabled_ReturnsNoopProvider(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on a disabled provider should be a no-op, got: %v", err)
	}
}

func TestNoop_ShutdownIsSafe(t *testing.T) {
	p := Noop()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on Noop() should be a no-op, got: %v", err)
	}
}
