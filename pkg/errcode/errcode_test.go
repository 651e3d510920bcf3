package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestLastDefaultsToSuccess(t *testing.T) {
	if got := Last(999999); got != Success {
		t.Fatalf("expected Success for an untouched thread id, got %v", got)
	}
}

func TestSetLastRoundTrips(t *testing.T) {
	SetLast(42, OutOfResources)
	if got := Last(42); got != OutOfResources {
		t.Fatalf("got %v, want OutOfResources", got)
	}
	SetLast(42, Success)
	if got := Last(42); got != Success {
		t.Fatalf("got %v, want Success after reset", got)
	}
}

func TestClearRemovesSlot(t *testing.T) {
	SetLast(7, SystemCall)
	Clear(7)
	if got := Last(7); got != Success {
		t.Fatalf("expected Success after Clear, got %v", got)
	}
}

// TestCodeRecoverableThroughWrapChain exercises the wrapping pattern
// public entry points use: a Code wrapped alongside an underlying OS
// error with two %w verbs must still be recoverable with errors.As.
func TestCodeRecoverableThroughWrapChain(t *testing.T) {
	underlying := errors.New("CreateFileMapping failed")
	err := fmt.Errorf("ring: create shared region %q: %w: %w", "brtrace", NotEnoughMemory, underlying)

	var code Code
	if !errors.As(err, &code) {
		t.Fatalf("errors.As could not recover a Code from the wrapped error")
	}
	if code != NotEnoughMemory {
		t.Fatalf("got code %v, want NotEnoughMemory", code)
	}
	if !errors.Is(err, underlying) {
		t.Fatalf("wrapping a Code alongside the OS error lost the original error")
	}
}

func TestStringKnownAndUnknown(t *testing.T) {
	if OutOfResources.String() == "unknown error" {
		t.Fatalf("OutOfResources should have a specific message")
	}
	unknown := Code(999)
	if unknown.String() != "unknown error" {
		t.Fatalf("unmapped code should render as unknown error, got %q", unknown.String())
	}
}
