package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "inventory service unavailable")

	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %q", err.Code())
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
}

func TestAsUnwrapsThroughFmt(t *testing.T) {
	inner := New(CodeRejected, "payment declined")
	wrapped := fmt.Errorf("handling step: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatalf("expected typed error")
	}
	if typed.Code() != CodeRejected {
		t.Fatalf("unexpected code %q", typed.Code())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{New(CodeDependency, "down"), true},
		{New(CodeTimeout, "slow"), true},
		{New(CodeStateConflict, "stale row"), true},
		{New(CodeRejected, "declined"), false},
		{New(CodeValidation, "bad payload"), false},
		{stdErrors.New("untyped"), true},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestMetadataForUnknownCode(t *testing.T) {
	meta := MetadataFor(Code("nope"))
	if meta.PublicMessage != "internal server error" {
		t.Fatalf("expected internal fallback, got %+v", meta)
	}
}
