package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunnerSuccessFirstAttempt(t *testing.T) {
	runner := NewRunner(DefaultConfig())
	calls := 0
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call, got %d", calls)
	}
}

func TestRunnerRetryOnFailure(t *testing.T) {
	config := Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	runner := NewRunner(config)

	calls := 0
	start := time.Now()
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != config.MaxAttempts {
		t.Errorf("expected %d calls, got %d", config.MaxAttempts, calls)
	}

	minExpected := 10*time.Millisecond + 20*time.Millisecond // first retry + second retry
	if elapsed < minExpected {
		t.Errorf("expected at least %v for retries, got %v", minExpected, elapsed)
	}
}

func TestRunnerSucceedsAfterTransientFailure(t *testing.T) {
	runner := NewRunner(Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})
	calls := 0
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRunnerContextCancellation(t *testing.T) {
	config := Config{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
	}
	runner := NewRunner(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := runner.Do(ctx, func(ctx context.Context) error {
		return errors.New("always fails")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error from context cancellation")
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("took too long: %v", elapsed)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", config.InitialDelay)
	}
}
