package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)

	var order []string
	for _, name := range []string{"catalog", "sink", "metrics"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"metrics", "sink", "catalog"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("close order = %v, want %v", order, want)
	}
}

func TestShutdown_JoinsErrorsAndRunsOnce(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)

	calls := 0
	sm.RegisterCloser("a", CloserFunc(func() error { calls++; return errors.New("a failed") }))
	sm.RegisterCloser("b", CloserFunc(func() error { calls++; return errors.New("b failed") }))

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a failed") || !strings.Contains(err.Error(), "b failed") {
		t.Errorf("error should mention both closers: %v", err)
	}

	if again := sm.Shutdown(context.Background(), "again"); again != err {
		t.Errorf("second shutdown returned %v", again)
	}
	if calls != 2 {
		t.Errorf("closers called %d times, want 2", calls)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{Timeout: 20 * time.Millisecond}, nil)

	release := make(chan struct{})
	defer close(release)
	sm.RegisterCloser("stuck", CloserFunc(func() error {
		<-release
		return nil
	}))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
