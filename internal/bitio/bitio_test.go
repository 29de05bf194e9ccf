package bitio

import (
	"math/rand"
	"testing"
)

func TestPackUnpackBooleansRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 8, 16, 800} {
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = r.Intn(2) == 1
		}
		packed, err := PackBooleans(nil, bits, 0)
		if err != nil {
			t.Fatalf("n=%d: PackBooleans: %v", n, err)
		}
		got, err := UnpackBooleans(packed, n, 0)
		if err != nil {
			t.Fatalf("n=%d: UnpackBooleans: %v", n, err)
		}
		if len(got) != len(bits) {
			t.Fatalf("n=%d: length mismatch: got %d want %d", n, len(got), len(bits))
		}
		for i := range bits {
			if got[i] != bits[i] {
				t.Fatalf("n=%d: bit %d mismatch: got %v want %v", n, i, got[i], bits[i])
			}
		}
	}
}

func TestPackBooleansOffset(t *testing.T) {
	bits := []bool{true, false, true, false, true, false, true, false}
	dest := make([]byte, 3)
	dest[0] = 0xff
	dest[2] = 0xaa
	packed, err := PackBooleans(dest, bits, 1)
	if err != nil {
		t.Fatalf("PackBooleans: %v", err)
	}
	if packed[0] != 0xff || packed[2] != 0xaa {
		t.Fatalf("PackBooleans at offset clobbered neighboring bytes: %v", packed)
	}
	if packed[1] != 0xaa {
		t.Fatalf("expected 0xaa (10101010) at offset byte, got %#x", packed[1])
	}
}

func TestPackBooleansRejectsNonMultipleOf8(t *testing.T) {
	if _, err := PackBooleans(nil, []bool{true, false, true}, 0); err != ErrBitLengthNotMultipleOf8 {
		t.Errorf("expected ErrBitLengthNotMultipleOf8, got %v", err)
	}
}

func TestUnpackBooleansShortBuffer(t *testing.T) {
	if _, err := UnpackBooleans([]byte{0xff}, 16, 0); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestPackByteFastMatchesBitwiseReference(t *testing.T) {
	for v := 0; v < 256; v++ {
		var bits [8]bool
		for i := 0; i < 8; i++ {
			bits[i] = (v>>(7-i))&1 != 0
		}
		got := packByteFast(bits)
		if int(got) != v {
			t.Fatalf("packByteFast mismatch for %#x: got %#x", v, got)
		}
	}
}

func TestUnpackByteFastMatchesBitwiseReference(t *testing.T) {
	for v := 0; v < 256; v++ {
		got := unpackByteFast(byte(v))
		for i := 0; i < 8; i++ {
			want := (v>>(7-i))&1 != 0
			if got[i] != want {
				t.Fatalf("unpackByteFast mismatch for %#x bit %d: got %v want %v", v, i, got[i], want)
			}
		}
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	w := NewWriter()
	const n = 1000
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = r.Intn(2) == 1
		if err := w.PushBit(bits[i]); err != nil {
			t.Fatalf("PushBit: %v", err)
		}
	}
	if w.Len() != n {
		t.Fatalf("Len: got %d want %d", w.Len(), n)
	}

	reader := NewReader(w.Bytes(), w.Len())
	for i, want := range bits {
		got, ok := reader.PopBit()
		if !ok {
			t.Fatalf("PopBit: unexpected exhaustion at bit %d", i)
		}
		if got != want {
			t.Fatalf("bit %d mismatch: got %v want %v", i, got, want)
		}
	}
	if _, ok := reader.PopBit(); ok {
		t.Fatal("expected reader exhaustion after consuming all bits")
	}
}

func TestWriterBudgetEnforced(t *testing.T) {
	w := NewWriterWithBudget(4)
	for i := 0; i < 4; i++ {
		if err := w.PushBit(true); err != nil {
			t.Fatalf("PushBit %d: %v", i, err)
		}
	}
	if err := w.PushBit(true); err != ErrBudgetExceeded {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
	if rem := w.Remaining(); rem != 0 {
		t.Errorf("expected 0 bits remaining, got %d", rem)
	}
}

func TestWriterUnboundedRemaining(t *testing.T) {
	w := NewWriter()
	if w.Remaining() != -1 {
		t.Errorf("expected -1 for unbounded writer, got %d", w.Remaining())
	}
}

func TestPushBitsHelper(t *testing.T) {
	w := NewWriter()
	if err := w.PushBits(true, false, true, true, false, false, true, false); err != nil {
		t.Fatalf("PushBits: %v", err)
	}
	reader := NewReader(w.Bytes(), w.Len())
	want := []bool{true, false, true, true, false, false, true, false}
	for i, wantBit := range want {
		got, ok := reader.PopBit()
		if !ok || got != wantBit {
			t.Fatalf("bit %d: got %v,%v want %v", i, got, ok, wantBit)
		}
	}
}
