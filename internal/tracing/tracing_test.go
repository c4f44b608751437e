package tracing

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	closer, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := closer(context.Background()); err != nil {
		t.Errorf("closer failed: %v", err)
	}
}
