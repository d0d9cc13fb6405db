package errors_test

import (
	"fmt"
	"testing"

	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
)

func TestKindString(t *testing.T) {
	cases := map[fluxerrors.Kind]string{
		fluxerrors.Config:      "ConfigError",
		fluxerrors.Build:       "BuildError",
		fluxerrors.User:        "UserError",
		fluxerrors.Runtime:     "RuntimeError",
		fluxerrors.Interrupted: "Interrupted",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(kind), got, want)
		}
	}
}

func TestErrorfRoundTripsKind(t *testing.T) {
	err := fluxerrors.Errorf(fluxerrors.Config, "step-a", "bad option %d", 7)
	if err == nil {
		t.Fatal("Errorf returned nil")
	}
	if !fluxerrors.Is(fluxerrors.Config, err) {
		t.Errorf("Is(Config, err) = false, want true for %v", err)
	}
	if fluxerrors.Is(fluxerrors.Runtime, err) {
		t.Errorf("Is(Runtime, err) = true, want false for %v", err)
	}
	kind, ok := fluxerrors.KindOf(err)
	if !ok || kind != fluxerrors.Config {
		t.Errorf("KindOf(err) = (%v, %v), want (Config, true)", kind, ok)
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := fluxerrors.Errorf(fluxerrors.Runtime, "", "peer dropped")
	wrapped := fmt.Errorf("retrying: %w", inner)
	kind, ok := fluxerrors.KindOf(wrapped)
	if !ok || kind != fluxerrors.Runtime {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (Runtime, true)", kind, ok)
	}
}

func TestKindOfUntaggedError(t *testing.T) {
	_, ok := fluxerrors.KindOf(fmt.Errorf("plain error"))
	if ok {
		t.Error("KindOf(plain error) reported a kind, want false")
	}
}
