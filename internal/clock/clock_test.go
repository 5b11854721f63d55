package clock

import (
	"context"
	"testing"
	"time"
)

func TestSystemSleepCompletes(t *testing.T) {
	clk := System()
	if err := clk.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSystemSleepCancelled(t *testing.T) {
	clk := System()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := clk.Sleep(ctx, time.Minute); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSystemSleepZeroReturnsImmediately(t *testing.T) {
	clk := System()

	start := time.Now()
	if err := clk.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("zero sleep took %v", elapsed)
	}
}
