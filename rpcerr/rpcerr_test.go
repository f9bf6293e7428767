package rpcerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeRoundTrip(t *testing.T) {
	kinds := []error{
		ErrUnknownInterface, ErrUnknownMethod, ErrArgumentDecode, ErrUnknownType,
		ErrInvocation, ErrNotReady, ErrCancelled, ErrRateLimited, ErrReservedInterface,
	}
	for _, kind := range kinds {
		wrapped := fmt.Errorf("context: %w", kind)
		if got := FromCode(Code(wrapped)); got != kind {
			t.Errorf("round trip of %v gave %v", kind, got)
		}
	}
}

func TestCodeUnclassified(t *testing.T) {
	if got := Code(errors.New("boom")); got != "InvocationFailure" {
		t.Fatalf("expect InvocationFailure, got %s", got)
	}
	if got := FromCode("nonsense"); got != ErrInvocation {
		t.Fatalf("expect ErrInvocation, got %v", got)
	}
}

// An argument decode failure caused by an unknown type reports the outer kind.
func TestCodePrefersArgumentDecode(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrArgumentDecode, ErrUnknownType)
	if got := Code(err); got != "ArgumentDecodeError" {
		t.Fatalf("expect ArgumentDecodeError, got %s", got)
	}
}

func TestCallError(t *testing.T) {
	cause := errors.New("disk on fire")
	err := &CallError{
		Kind:      ErrInvocation,
		Interface: "IRemoteCall1",
		Method:    "Foo",
		ClientID:  "c1",
		RequestID: "r1",
		Err:       cause,
	}

	if !errors.Is(err, ErrInvocation) {
		t.Fatal("expect errors.Is to match the kind")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expect errors.Is to match the cause")
	}
	msg := err.Error()
	for _, want := range []string{"IRemoteCall1.Foo", "client c1", "request r1", "disk on fire"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not contain %q", msg, want)
		}
	}
	if err.Message() != "disk on fire" {
		t.Fatalf("unexpected wire message %q", err.Message())
	}
}
