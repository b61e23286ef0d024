package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Must return without exiting.
	exitErrHandler(nil, nil)
}

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"findings no message", cli.Exit("", 1), 1, ""},
		{"usage with message", cli.Exit("dataset root is required", 2), 2, "dataset root is required\n"},
		{"wrapped exit coder", fmt.Errorf("sync: %w", cli.Exit("inner", 1)), 1, "inner\n"},
		{"joined exit coder", errors.Join(errors.New("context"), cli.Exit("boom", 2)), 2, "boom\n"},
		{"regular error", errors.New("unexpected"), 1, "Error: unexpected\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if code := report(&buf, tt.err); code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}
