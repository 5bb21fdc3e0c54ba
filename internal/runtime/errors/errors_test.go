package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrUnknownManager", ErrUnknownManager, "callflow: unknown connection manager"},
		{"ErrUnknownConnection", ErrUnknownConnection, "callflow: unknown connection"},
		{"ErrUnknownEndpoint", ErrUnknownEndpoint, "callflow: unknown endpoint"},
		{"ErrDuplicateEndpoint", ErrDuplicateEndpoint, "callflow: endpoint already registered"},
		{"ErrCorrelatorClosed", ErrCorrelatorClosed, "callflow: correlator is closed"},
		{"ErrConfigRequired", ErrConfigRequired, "callflow: configuration is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		wantMsg  string
	}{
		{"unknown manager", &UnknownManagerError{Key: "main"}, ErrUnknownManager, "callflow: no manager registered at key main"},
		{"unknown connection", &UnknownConnectionError{Key: "chat"}, ErrUnknownConnection, "callflow: no connection registered at key chat"},
		{"unknown endpoint", &UnknownEndpointError{Name: "getUser"}, ErrUnknownEndpoint, "callflow: no endpoint registered at key getUser"},
		{"duplicate endpoint", &DuplicateEndpointError{Name: "getUser"}, ErrDuplicateEndpoint, "callflow: getUser endpoint already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypedErrorsCarryKey(t *testing.T) {
	var err error = &UnknownEndpointError{Name: "getUser"}

	var target *UnknownEndpointError
	if !errors.As(err, &target) {
		t.Fatalf("expected UnknownEndpointError, got %T", err)
	}
	if target.Name != "getUser" {
		t.Errorf("Name = %q, want %q", target.Name, "getUser")
	}
	if got := err.Error(); got != "callflow: no endpoint registered at key getUser" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "callflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestRemoteError(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantMessage string
		wantError   string
	}{
		{"object", `{"error":"boom"}`, "boom", "callflow: testError failed: boom"},
		{"array", `["bad",{"code":1}]`, `["bad",{"code":1}]`, `callflow: testError failed: ["bad",{"code":1}]`},
		{"empty", ``, "", "callflow: testError failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &RemoteError{Endpoint: "testError", CorrelationIDs: []string{"id"}, Payload: []byte(tt.payload)}
			if got := err.Message(); got != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", got, tt.wantMessage)
			}
			if got := err.Error(); got != tt.wantError {
				t.Errorf("Error() = %q, want %q", got, tt.wantError)
			}
			if !errors.Is(err, ErrRemote) {
				t.Error("RemoteError should unwrap to ErrRemote")
			}
		})
	}
}
