// Package zstdframe provides optional ZSTD compression of a packed
// sperr frame body.
//
// A chunk's body (conditioner meta + SPECK stream + optional SPERR stream,
// see the sperr package's framing) is, when the multi_chunk "zstd enabled"
// flag is set, replaced by its ZSTD-compressed form. This package isolates
// that one concern so the framing code never imports klauspost/compress
// directly.
package zstdframe

import (
	"bytes"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Errors returned by this package.
var (
	// ErrCorrupted is returned when a ZSTD-framed body fails to decode.
	ErrCorrupted = errors.New("zstdframe: corrupted ZSTD data")
	// ErrSizeOverflow is returned when the decompressed body does not
	// match the size the caller expected.
	ErrSizeOverflow = errors.New("zstdframe: decompressed size mismatch")
)

// Level selects a ZSTD compression level.
type Level int

// Standard compression levels, matching zstd.EncoderLevel's tiers.
const (
	LevelFastest Level = iota + 1
	LevelDefault
	LevelBetter
	LevelBest
)

func (l Level) toEncoderLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

type encoderPoolItem struct {
	enc   *zstd.Encoder
	level zstd.EncoderLevel
}

var encoderPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return &encoderPoolItem{enc: enc, level: zstd.SpeedDefault}
	},
}

// Compress returns the ZSTD-compressed form of src at the default level.
func Compress(src []byte) ([]byte, error) {
	return CompressLevel(src, LevelDefault)
}

// CompressLevel returns the ZSTD-compressed form of src at the given level.
func CompressLevel(src []byte, level Level) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	item := encoderPool.Get().(*encoderPoolItem)
	defer encoderPool.Put(item)

	want := level.toEncoderLevel()
	if item.level != want {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(want))
		if err != nil {
			return nil, err
		}
		item.enc = enc
		item.level = want
	}

	return item.enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

var decoderPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

// DecompressAuto decompresses ZSTD-encoded data whose original size the
// caller does not track out of band, relying on the content-size field
// zstd.Encoder.EncodeAll embeds in the frame header by default.
func DecompressAuto(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	dst, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, ErrCorrupted
	}
	return dst, nil
}

// Decompress decompresses ZSTD-encoded data. expectedSize is the expected
// decompressed size; the caller typically knows it from the frame header.
func Decompress(src []byte, expectedSize int) ([]byte, error) {
	if len(src) == 0 {
		if expectedSize != 0 {
			return nil, ErrCorrupted
		}
		return nil, nil
	}

	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	dst, err := dec.DecodeAll(src, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, ErrCorrupted
	}
	if len(dst) != expectedSize {
		return nil, ErrSizeOverflow
	}
	return dst, nil
}

// DecompressTo decompresses src into dst, which must be exactly sized.
func DecompressTo(dst, src []byte) error {
	out, err := Decompress(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, out)
	return nil
}

// IsZSTDFrame reports whether data begins with a valid ZSTD magic number.
func IsZSTDFrame(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return bytes.Equal(data[:4], []byte{0x28, 0xb5, 0x2f, 0xfd})
}
