package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeUnknownComponent, "unknown component tag %q", "colour")

	if err.Code != ErrCodeUnknownComponent {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeUnknownComponent)
	}
	if want := `UNKNOWN_COMPONENT: unknown component tag "colour"`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", err.Unwrap())
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Wrap(ErrCodeTransport, cause, "read frame from %s", "10.0.0.7:51200")

	if want := "TRANSPORT_FAILURE: read frame from 10.0.0.7:51200: connection reset by peer"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestCodeLookup(t *testing.T) {
	inner := New(ErrCodeParentCycle, "bin 4 would contain itself")

	tests := []struct {
		name    string
		err     error
		code    Code
		message string
	}{
		{"direct", inner, ErrCodeParentCycle, "bin 4 would contain itself"},
		{"fmt wrapped", fmt.Errorf("apply batch: %w", inner), ErrCodeParentCycle, "bin 4 would contain itself"},
		{"outermost code wins", Wrap(ErrCodeTimeout, inner, "sync"), ErrCodeTimeout, "sync"},
		{"plain", errors.New("boom"), "", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.code {
				t.Errorf("GetCode() = %q, want %q", got, tt.code)
			}
			if tt.code != "" && !Is(tt.err, tt.code) {
				t.Errorf("Is(%q) = false", tt.code)
			}
			if Is(tt.err, ErrCodeNotFound) {
				t.Error("Is(NOT_FOUND) = true for an unrelated error")
			}
			if got := UserMessage(tt.err); got != tt.message {
				t.Errorf("UserMessage() = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestIsProtocolViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown component", New(ErrCodeUnknownComponent, "x"), true},
		{"parent cycle", New(ErrCodeParentCycle, "x"), true},
		{"derived write", New(ErrCodeDerivedComponent, "x"), true},
		{"invalid entity", New(ErrCodeInvalidEntity, "x"), true},
		{"wrapped malformed", Wrap(ErrCodeMalformedMessage, errors.New("eof"), "decode"), true},
		{"transport", New(ErrCodeTransport, "x"), false},
		{"layout", New(ErrCodeLayoutInvariant, "x"), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProtocolViolation(tt.err); got != tt.want {
				t.Errorf("IsProtocolViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
