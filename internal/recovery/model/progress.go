package model

import "github.com/fluxrun/fluxrun/internal/id"

// ProgressMsg is either the once-per-generation Init message a worker
// writes at startup, or a Frontier advance written on every epoch close
// (spec.md §3 "Progress log entry").
type ProgressMsg struct {
	// Kind distinguishes Init from Frontier; exactly one of the fields
	// below is meaningful depending on Kind.
	Kind ProgressMsgKind

	// Init fields.
	WorkerCount id.WorkerCount
	ResumeEpoch id.Epoch

	// Frontier fields.
	Frontier id.Epoch
}

type ProgressMsgKind int

const (
	Init ProgressMsgKind = iota
	Frontier
)

// InitMsg constructs the startup Init message a worker writes once per
// generation.
func InitMsg(count id.WorkerCount, resumeEpoch id.Epoch) ProgressMsg {
	return ProgressMsg{Kind: Init, WorkerCount: count, ResumeEpoch: resumeEpoch}
}

// FrontierMsg constructs a frontier-advance message.
func FrontierMsg(epoch id.Epoch) ProgressMsg {
	return ProgressMsg{Kind: Frontier, Frontier: epoch}
}

// ResumeFrom is the pair recovery replay produces: the execution
// generation this run belongs to, and the earliest epoch whose outputs
// must be re-derived (spec.md §3).
type ResumeFrom struct {
	Generation  id.Generation
	ResumeEpoch id.Epoch
}
