package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestError_IsByCode(t *testing.T) {
	err := Precondition("fetch headers", "working set is empty")
	if !Is(err, ErrPrecondition) {
		t.Error("Expected precondition error to match ErrPrecondition")
	}
	if Is(err, ErrTransfer) {
		t.Error("Precondition error must not match ErrTransfer")
	}

	wrapped := fmt.Errorf("outer: %w", Transfer(fmt.Errorf("boom"), "https://x/y.gz", "/tmp/y.gz"))
	if !Is(wrapped, ErrTransfer) {
		t.Error("Expected wrapped transfer error to match ErrTransfer")
	}
	if GetCode(wrapped) != CodeTransfer {
		t.Errorf("GetCode = %s, want %s", GetCode(wrapped), CodeTransfer)
	}
}

func TestError_MessageIncludesSortedContext(t *testing.T) {
	err := New(CodeConfig, "bad value").
		WithContext("z", 1).
		WithContext("a", "x")
	got := err.Error()
	want := "[E102] bad value (a=x, z=1)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeTransfer, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Transfer(fmt.Errorf("reset"), "u", "p"), true},
		{New(CodeStatus, "503"), true},
		{Precondition("x", "y"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("Expected nil for empty MultiError")
	}
	m.Add(nil)
	m.Add(Transfer(fmt.Errorf("a"), "u1", "p1"))
	if m.Combined() != m.Errors[0] {
		t.Error("Expected single error to be returned as-is")
	}
	m.Add(fmt.Errorf("b"))
	combined := m.Combined()
	if !strings.Contains(combined.Error(), "2 errors occurred") {
		t.Errorf("Unexpected message: %s", combined.Error())
	}
	if !Is(combined, ErrTransfer) {
		t.Error("Expected MultiError to unwrap to the transfer error")
	}
}
