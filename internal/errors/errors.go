// Package errors implements the execution core's error taxonomy (spec.md
// §7) on top of github.com/grailbio/base/errors, the teacher's own error
// package. The teacher tags its task errors with kinds such as
// errors.Fatal, errors.Net and errors.Unavailable and later switches on
// errors.Match/errors.Is (exec/bigmachine.go); fluxrun does the same thing
// with a closed set of kinds lifted straight from spec.md's taxonomy
// instead of inventing a parallel error type.
package errors

import (
	"fmt"

	grerrors "github.com/grailbio/base/errors"
)

// Kind classifies why an operation failed, matching spec.md §7 exactly.
type Kind int

const (
	// Config is raised for blueprint/launcher configuration problems:
	// missing inputs/outputs, unrecognized source/sink shapes, conflicting
	// spawn_cluster-equivalent options. Surfaced synchronously at build time.
	Config Kind = iota
	// Build is raised when an operator builder (clock, windower,
	// partitioned source/sink) fails. Always annotated with a step id.
	Build
	// User wraps a panic originating in a user-supplied operator function.
	User
	// Runtime covers scheduler/communication failures, e.g. a dropped TCP
	// peer in the cluster fabric.
	Runtime
	// Interrupted marks a graceful shutdown request.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "ConfigError"
	case Build:
		return "BuildError"
	case User:
		return "UserError"
	case Runtime:
		return "RuntimeError"
	case Interrupted:
		return "Interrupted"
	default:
		return "UnknownError"
	}
}

// grailKind maps a taxonomy Kind onto the closest grailbio/base/errors
// kind so callers that only know about the teacher's error package (e.g.
// a cluster fabric dialing into bigmachine) can still classify fluxrun
// errors with errors.Is / errors.Match.
func grailKind(k Kind) grerrors.Kind {
	switch k {
	case Config, Build:
		return grerrors.Fatal
	case Interrupted:
		return grerrors.Canceled
	case Runtime:
		return grerrors.Unavailable
	default:
		return grerrors.Unknown
	}
}

// E constructs a Kind-tagged error annotated with step, the step id the
// failure occurred at, if any. Pass "" when the error isn't step-scoped
// (e.g. launcher conflicts).
func E(kind Kind, step string, err error) error {
	if step == "" {
		return grerrors.E(grailKind(kind), &taggedError{kind: kind, err: err})
	}
	return grerrors.E(grailKind(kind), fmt.Sprintf("step %q", step), &taggedError{kind: kind, err: err})
}

// Errorf is the formatting convenience form of E.
func Errorf(kind Kind, step, format string, args ...any) error {
	return E(kind, step, fmt.Errorf(format, args...))
}

type taggedError struct {
	kind Kind
	err  error
}

func (t *taggedError) Error() string { return t.kind.String() + ": " + t.err.Error() }
func (t *taggedError) Unwrap() error { return t.err }

// KindOf extracts the Kind tagged onto err by E/Errorf, if any, along with
// whether one was found.
func KindOf(err error) (Kind, bool) {
	var t *taggedError
	for err != nil {
		if te, ok := err.(*taggedError); ok {
			t = te
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if t == nil {
		return 0, false
	}
	return t.kind, true
}

// Is reports whether err (or anything it wraps) was tagged with kind.
func Is(kind Kind, err error) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
