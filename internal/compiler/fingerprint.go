package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fluxrun/fluxrun/internal/dataflow"
)

// Fingerprint hashes a Blueprint's step order and kinds into a short hex
// digest, letting a worker runner confirm the symmetric-graph invariant
// (spec.md §4.D invariant 1: every worker must build the literal same
// sequence of steps) cheaply over the wire instead of shipping the whole
// Blueprint for comparison. Closures aren't comparable, so the
// fingerprint only covers what every worker's copy of the Blueprint must
// share by construction: each step's id and Go type, in order.
//
// This is a supplemented feature (SPEC_FULL.md §7): the original source
// enforces the invariant implicitly, by all workers literally running the
// same Python/dataflow-builder closure; fluxrun's workers are separate
// OS processes that only share a Blueprint if the launcher marshaled it
// to all of them identically, so a cheap cross-check is worth having.
func Fingerprint(bp *dataflow.Blueprint) string {
	h := sha256.New()
	for _, step := range bp.Steps {
		fmt.Fprintf(h, "%s:%T\n", stepID(step), step)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// stepID extracts a step's id by type-switching over the closed set of
// blueprint steps. Every concrete step embeds dataflow's unexported base
// struct, but base.ID is itself exported and so is promoted onto each
// step type regardless, which is why s.ID reads cleanly below without
// this package ever naming base.
func stepID(step dataflow.Step) string {
	switch s := step.(type) {
	case dataflow.Input:
		return string(s.ID)
	case dataflow.Map:
		return string(s.ID)
	case dataflow.FlatMap:
		return string(s.ID)
	case dataflow.Filter:
		return string(s.ID)
	case dataflow.FilterMap:
		return string(s.ID)
	case dataflow.Inspect:
		return string(s.ID)
	case dataflow.InspectEpoch:
		return string(s.ID)
	case dataflow.Reduce:
		return string(s.ID)
	case dataflow.StatefulMap:
		return string(s.ID)
	case dataflow.CollectWindow:
		return string(s.ID)
	case dataflow.FoldWindow:
		return string(s.ID)
	case dataflow.ReduceWindow:
		return string(s.ID)
	case dataflow.Output:
		return string(s.ID)
	default:
		return "?"
	}
}
