package zstdframe

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("a"),
		bytes.Repeat([]byte{0x00}, 4096),
		bytes.Repeat([]byte("sperr chunk body "), 500),
	}

	for i, src := range cases {
		compressed, err := Compress(src)
		if err != nil {
			t.Fatalf("case %d: Compress: %v", i, err)
		}
		got, err := Decompress(compressed, len(src))
		if err != nil {
			t.Fatalf("case %d: Decompress: %v", i, err)
		}
		if !bytes.Equal(got, src) {
			t.Errorf("case %d: round trip mismatch: got %d bytes, want %d", i, len(got), len(src))
		}
	}
}

func TestCompressLevels(t *testing.T) {
	src := bytes.Repeat([]byte("abcabcabc"), 1000)
	for _, level := range []Level{LevelFastest, LevelDefault, LevelBetter, LevelBest} {
		compressed, err := CompressLevel(src, level)
		if err != nil {
			t.Fatalf("level %d: Compress: %v", level, err)
		}
		got, err := Decompress(compressed, len(src))
		if err != nil {
			t.Fatalf("level %d: Decompress: %v", level, err)
		}
		if !bytes.Equal(got, src) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	src := bytes.Repeat([]byte{0x42}, 1000)
	compressed, err := Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(compressed, len(src)-1); err != ErrSizeOverflow {
		t.Errorf("expected ErrSizeOverflow, got %v", err)
	}
}

func TestDecompressCorrupted(t *testing.T) {
	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if _, err := Decompress(garbage, 100); err != ErrCorrupted {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}

func TestDecompressEmptyExpectsEmpty(t *testing.T) {
	if _, err := Decompress(nil, 5); err != ErrCorrupted {
		t.Errorf("expected ErrCorrupted for empty input with nonzero expected size, got %v", err)
	}
	got, err := Decompress(nil, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d bytes", len(got))
	}
}

func TestDecompressTo(t *testing.T) {
	src := bytes.Repeat([]byte("xyz"), 200)
	compressed, err := Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	dst := make([]byte, len(src))
	if err := DecompressTo(dst, compressed); err != nil {
		t.Fatalf("DecompressTo: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Error("DecompressTo produced mismatched data")
	}
}

func TestIsZSTDFrame(t *testing.T) {
	src := bytes.Repeat([]byte("sperr"), 50)
	compressed, err := Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !IsZSTDFrame(compressed) {
		t.Error("expected IsZSTDFrame to recognize a compressed frame")
	}
	if IsZSTDFrame([]byte{0x00, 0x01, 0x02}) {
		t.Error("expected IsZSTDFrame to reject non-ZSTD data")
	}
	if IsZSTDFrame(nil) {
		t.Error("expected IsZSTDFrame to reject short data")
	}
}
