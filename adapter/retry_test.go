package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	cause := errors.New("unavailable")
	calls := 0
	err := Retry(t.Context(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if calls != 3 || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestRetry_PermanentStops(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	err := Retry(t.Context(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, cause) || !strings.Contains(err.Error(), "non-retriable") {
		t.Errorf("err = %v", err)
	}
}

func TestRetry_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := Retry(ctx, 3, time.Hour, func(context.Context) error {
		return errors.New("unavailable")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
