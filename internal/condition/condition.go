// Package condition implements affine preconditioning of a coefficient
// buffer ahead of the wavelet transform: optional mean subtraction and
// RMS normalization, computed with a stride-based accumulation scheme
// that bounds catastrophic cancellation on large buffers.
package condition

import (
	"errors"
	"math"

	"github.com/mrjoshuak/go-sperr/internal/xdr"
)

// MetaSize is the fixed size in bytes of the descriptor emitted by
// Condition and consumed by Inverse.
const MetaSize = 17

// Flag bits within the descriptor's first byte.
const (
	FlagMeanSubtracted = 1 << 0
	FlagRMSDivided     = 1 << 1
)

// Errors returned by this package.
var (
	// ErrAllZero is returned when RMS normalization is requested but
	// every sample in the buffer is zero.
	ErrAllZero = errors.New("condition: rms division requested but all samples are zero")
	// ErrShortMeta is returned when a descriptor shorter than MetaSize
	// is supplied to Inverse.
	ErrShortMeta = errors.New("condition: descriptor too short")
)

// Options selects which preconditioning operations to apply.
type Options struct {
	SubtractMean bool
	DivideByRMS  bool
}

// kSearchStart is where the partial-sum stride count search begins.
const (
	kSearchStart = 2048
	kSearchMax   = 16384
)

// chooseK picks a partial-sum count K dividing length evenly, searching
// monotonically upward from kSearchStart to kSearchMax, then downward
// from kSearchStart to 1 if no evenly-dividing K was found going up.
func chooseK(length int) int {
	if length == 0 {
		return 1
	}
	for k := kSearchStart; k <= kSearchMax; k++ {
		if length%k == 0 {
			return k
		}
	}
	for k := kSearchStart; k >= 1; k-- {
		if length%k == 0 {
			return k
		}
	}
	return 1
}

// stridedSum computes sum(buf) via K partial sums over equal-length
// contiguous strides, reducing catastrophic cancellation versus a single
// running accumulator.
func stridedSum(buf []float64) float64 {
	n := len(buf)
	if n == 0 {
		return 0
	}
	k := chooseK(n)
	strideLen := n / k
	partials := make([]float64, k)
	for s := 0; s < k; s++ {
		var acc float64
		base := s * strideLen
		for i := 0; i < strideLen; i++ {
			acc += buf[base+i]
		}
		partials[s] = acc
	}
	var total float64
	for _, p := range partials {
		total += p
	}
	return total
}

// Condition mutates buf in place according to opts, returning the
// 17-byte descriptor needed to invert the operation.
func Condition(buf []float64, opts Options) ([MetaSize]byte, error) {
	var meta [MetaSize]byte
	n := len(buf)

	var mean, rms float64
	var flags byte

	if opts.SubtractMean && n > 0 {
		mean = stridedSum(buf) / float64(n)
		for i := range buf {
			buf[i] -= mean
		}
		flags |= FlagMeanSubtracted
	}

	if opts.DivideByRMS {
		if n == 0 {
			return meta, ErrAllZero
		}
		sq := make([]float64, n)
		for i, v := range buf {
			sq[i] = v * v
		}
		meanSq := stridedSum(sq) / float64(n)
		rms = math.Sqrt(meanSq)
		if rms == 0 {
			return meta, ErrAllZero
		}
		for i := range buf {
			buf[i] /= rms
		}
		flags |= FlagRMSDivided
	}

	w := xdr.NewBufferWriter(MetaSize)
	w.WriteByte(flags)
	w.WriteFloat64(mean)
	w.WriteFloat64(rms)
	copy(meta[:], w.Bytes())
	return meta, nil
}

// Inverse reverses Condition given the original descriptor.
func Inverse(buf []float64, meta []byte) error {
	if len(meta) < MetaSize {
		return ErrShortMeta
	}
	r := xdr.NewReader(meta[:MetaSize])
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	mean, err := r.ReadFloat64()
	if err != nil {
		return err
	}
	rms, err := r.ReadFloat64()
	if err != nil {
		return err
	}

	if flags&FlagRMSDivided != 0 {
		for i := range buf {
			buf[i] *= rms
		}
	}
	if flags&FlagMeanSubtracted != 0 {
		for i := range buf {
			buf[i] += mean
		}
	}
	return nil
}
