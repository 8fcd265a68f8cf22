package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "validation error",
			err:  Validation("expectedDigest must be a 64-character lowercase hex SHA-256 digest."),
			want: KindValidation,
		},
		{
			name: "conflict error",
			err:  Conflict("upload session is not in a committable state"),
			want: KindConflict,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("failed to commit upload: %w", NotFound("upload session not found")),
			want: KindNotFound,
		},
		{
			name: "double wrapped",
			err:  fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", Forbidden("promote role required"))),
			want: KindForbidden,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: KindInternal,
		},
		{
			name: "nil cause wrap",
			err:  Transient("serialization failure", errors.New("SQLSTATE 40001")),
			want: KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "bad request", err: Validation("x"), want: "bad_request"},
		{name: "custom locked code", err: Locked("quarantined_blob", "blob is quarantined"), want: "quarantined_blob"},
		{name: "custom unavailable code", err: Unavailable("policy_timeout", "policy evaluation timed out"), want: "policy_timeout"},
		{name: "unclassified", err: errors.New("boom"), want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDependencyUnavailable, "dependency_unavailable", "postgres unreachable", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestWithContext(t *testing.T) {
	err := Unavailable("policy_timeout", "policy evaluation timed out").
		With("action", "publish").
		With("failClosed", true).
		With("timeoutMs", 2000)

	if err.Context["action"] != "publish" {
		t.Errorf("expected action context, got %v", err.Context["action"])
	}
	if err.Context["failClosed"] != true {
		t.Errorf("expected failClosed context, got %v", err.Context["failClosed"])
	}
	if len(err.Context) != 3 {
		t.Errorf("expected 3 context entries, got %d", len(err.Context))
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("route: %w", Conflict("already published"))
	if !IsKind(err, KindConflict) {
		t.Error("expected KindConflict")
	}
	if IsKind(err, KindNotFound) {
		t.Error("did not expect KindNotFound")
	}
}
