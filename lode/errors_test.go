package lode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		errMsg   string
		wantKind error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"connection timeout after 30s", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"permission denied for /data/journal", ErrPermissionDenied},
		{"open /tmp/file: EACCES", ErrPermissionDenied},
		{"write /data/journal: no space left on device", ErrDiskFull},
		{"quota exceeded for user", ErrDiskFull},
		{"no such file or directory", ErrNotFound},
		{"NoSuchKey: The specified key does not exist", ErrNotFound},
		{"received status 429", ErrThrottled},
		{"SlowDown: please reduce request rate", ErrThrottled},
		{"NoCredentialProviders: no valid credential providers", ErrAuth},
		{"ExpiredToken: the security token has expired", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"DNS lookup failed for bucket.s3.amazonaws.com", ErrNetwork},
		{"something completely unexpected happened", ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			got := classifyError(errors.New(tt.errMsg))
			if got != tt.wantKind {
				t.Errorf("classifyError(%q) = %v, want %v", tt.errMsg, got, tt.wantKind)
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "slow" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError_TypedTimeout(t *testing.T) {
	if got := classifyError(fmt.Errorf("put: %w", timeoutError{})); got != ErrTimeout {
		t.Errorf("classifyError = %v, want ErrTimeout", got)
	}
	if got := classifyError(context.DeadlineExceeded); got != ErrTimeout {
		t.Errorf("classifyError(DeadlineExceeded) = %v, want ErrTimeout", got)
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

func TestWrapWriteError(t *testing.T) {
	if WrapWriteError(nil, "gloss") != nil {
		t.Error("WrapWriteError(nil) should be nil")
	}

	cause := errors.New("SlowDown: reduce rate")
	err := WrapWriteError(cause, "gloss/sync/run-1")

	if !errors.Is(err, ErrThrottled) {
		t.Errorf("expected ErrThrottled, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved in chain")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("expected *StorageError")
	}
	if se.Op != "write" || se.Path != "gloss/sync/run-1" {
		t.Errorf("Op=%q Path=%q", se.Op, se.Path)
	}
	if !se.Retryable() {
		t.Error("throttled write should be retryable")
	}
	if want := "journal write gloss/sync/run-1: rate limited: SlowDown: reduce rate"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := WrapReadError(errors.New("no such file"), "gloss")
	outer := WrapReadError(fmt.Errorf("scan: %w", inner), "gloss/other")

	var se *StorageError
	if !errors.As(outer, &se) || se.Path != "gloss" {
		t.Errorf("expected the original StorageError, got %v", outer)
	}
	if se.Retryable() {
		t.Error("not found should not be retryable")
	}
}
