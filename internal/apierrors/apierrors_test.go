package apierrors

import (
	"database/sql"
	"errors"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
	if !IsRetryable(sql.ErrConnDone) {
		t.Fatal("bare driver errors should be treated as transient")
	}
	if IsRetryable(New(CodeValidation, "bad input")) {
		t.Fatal("validation errors are deterministic, not retryable")
	}
	if !IsRetryable(New(CodeUpstream, "llm 503")) {
		t.Fatal("upstream errors are retryable")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("unique violation")
	err := Wrap(CodeConflict, "duplicate entity source", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Wrap must preserve the underlying cause for errors.Is")
	}
	if CodeOf(err) != CodeConflict {
		t.Fatalf("CodeOf = %s, want CONFLICT", CodeOf(err))
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatal("untyped errors must map to INTERNAL_ERROR")
	}
}
