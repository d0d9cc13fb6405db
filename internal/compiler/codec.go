package compiler

import (
	"bytes"
	"encoding/gob"
)

func init() {
	// Registered so gobEncode/gobDecode can round-trip the per-step
	// state-map shape the worker runner assembles from the recovery
	// store's per-key entries (compiler.go's decodeStateMap). Any custom
	// accumulator type a Reduce/StatefulMap/window operator keeps as its
	// own state must likewise be registered by the caller that builds the
	// Blueprint, the same obligation the teacher places on callers who
	// put custom row types through sliceio's gob-encoded partition files.
	gob.Register(map[string][]byte{})
}

// gobEncode/gobDecode serialize stateful operator accumulators and
// logical keys for the recovery store, the same codec the teacher uses
// to spill and reload task partitions over the wire (exec/bigmachine.go
// imports encoding/gob for exactly this "opaque blob across a restart"
// case).
func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeStateMap gob-encodes a step's logical-key -> accumulator-blob map,
// the shape internal/runner assembles from a store.StateReader replay
// before handing ResumeState to Compile.
func EncodeStateMap(m map[string][]byte) ([]byte, error) { return gobEncode(m) }

func gobDecode(data []byte) (any, error) {
	var v any
	if len(data) == 0 {
		return nil, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
