package compiler

import (
	"testing"

	fuzz "github.com/google/gofuzz"
)

// TestEncodeStateMapRoundTrip fuzzes EncodeStateMap/decodeStateMap the way
// the teacher's sliceio/reader_test.go fuzzes frame encode/decode: generate
// many random shapes, assert decode(encode(x)) == x for each.
func TestEncodeStateMapRoundTrip(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for i := 0; i < 200; i++ {
		var keys []string
		fz.NilChance(0).NumElements(0, 8).Fuzz(&keys)
		m := make(map[string][]byte, len(keys))
		for _, k := range keys {
			var v []byte
			fz.NilChance(0).NumElements(0, 32).Fuzz(&v)
			m[k] = v
		}

		encoded, err := EncodeStateMap(m)
		if err != nil {
			t.Fatalf("EncodeStateMap(%v): %v", m, err)
		}
		decoded, err := decodeStateMap(encoded)
		if err != nil {
			t.Fatalf("decodeStateMap: %v", err)
		}
		if len(decoded) != len(m) {
			t.Fatalf("round trip changed key count: got %d, want %d", len(decoded), len(m))
		}
		for k, want := range m {
			got, ok := decoded[k]
			if !ok {
				t.Fatalf("round trip lost key %q", k)
			}
			if len(got) != len(want) {
				t.Fatalf("round trip changed value for key %q: got %v, want %v", k, got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("round trip changed value for key %q: got %v, want %v", k, got, want)
				}
			}
		}
	}
}

func TestEncodeStateMapEmpty(t *testing.T) {
	encoded, err := EncodeStateMap(map[string][]byte{})
	if err != nil {
		t.Fatalf("EncodeStateMap(empty): %v", err)
	}
	decoded, err := decodeStateMap(encoded)
	if err != nil {
		t.Fatalf("decodeStateMap: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("decodeStateMap(encode(empty)) = %v, want empty", decoded)
	}
}

func TestDecodeStateMapNilInput(t *testing.T) {
	decoded, err := decodeStateMap(nil)
	if err != nil {
		t.Fatalf("decodeStateMap(nil): %v", err)
	}
	if decoded != nil {
		t.Fatalf("decodeStateMap(nil) = %v, want nil", decoded)
	}
}
