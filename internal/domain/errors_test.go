package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "Unknown"},
		{"direct", ErrProviderAuthExpired, "ProviderAuthExpired"},
		{"wrapped", fmt.Errorf("plaid: sync: %w", ErrProviderRateLimited), "ProviderRateLimited"},
		{"double wrapped", fmt.Errorf("merge: %w", fmt.Errorf("append: %w", ErrSinkWriteConflict)), "SinkWriteConflict"},
		{"config", fmt.Errorf("load: %w", ErrConfigCorrupt), "ConfigCorrupt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFatalConfig(t *testing.T) {
	if !IsFatalConfig(fmt.Errorf("x: %w", ErrMigrationChainBroken)) {
		t.Error("expected migration chain error to be fatal")
	}
	if IsFatalConfig(ErrProviderData) {
		t.Error("provider data errors must not be fatal")
	}
}

func TestIsRunFatal(t *testing.T) {
	if !IsRunFatal(fmt.Errorf("x: %w", ErrSinkUnavailable)) {
		t.Error("expected sink unavailable to stop the run")
	}
	if IsRunFatal(ErrProviderAuthExpired) {
		t.Error("auth expiry is per-account")
	}
}
