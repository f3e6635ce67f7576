package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffGrows(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	if d := eb.NextDelay(0); d != 0 {
		t.Errorf("Expected no delay before the first attempt, got %v", d)
	}
	if d := eb.NextDelay(1); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms for attempt 1, got %v", d)
	}
	if d := eb.NextDelay(2); d != 200*time.Millisecond {
		t.Errorf("Expected 200ms for attempt 2, got %v", d)
	}
	if d := eb.NextDelay(10); d != 1*time.Second {
		t.Errorf("Expected delay capped at 1s, got %v", d)
	}
}

func TestConstantBackoff(t *testing.T) {
	cb := &ConstantBackoff{Delay: 50 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		if d := cb.NextDelay(attempt); d != 50*time.Millisecond {
			t.Errorf("Expected constant 50ms, got %v for attempt %d", d, attempt)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Expected zero delay to return immediately, got %v", err)
	}
}

func TestDo(t *testing.T) {
	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), 3, &ConstantBackoff{Delay: time.Millisecond}, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("ReturnsLastError", func(t *testing.T) {
		want := errors.New("still broken")
		err := Do(context.Background(), 2, &ConstantBackoff{Delay: time.Millisecond}, func() error {
			return want
		})
		if !errors.Is(err, want) {
			t.Errorf("Expected last error, got %v", err)
		}
	})

	t.Run("StopsOnCancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts := 0
		err := Do(ctx, 5, &ConstantBackoff{Delay: time.Minute}, func() error {
			attempts++
			return errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected a single attempt, got %d", attempts)
		}
	})
}
