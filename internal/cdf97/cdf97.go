// Package cdf97 implements the biorthogonal CDF 9/7 wavelet transform via
// a fixed five-step lifting scheme, with 1-D, separable 2-D, and separable
// 3-D multi-level drivers.
//
// The lifting coefficients and the step order below are fixed points of
// the format: any deviation changes the numerical result of every
// downstream stage, so they are declared once here and never
// recomputed.
package cdf97

import (
	"errors"
	"math"
	"sync"
)

// Lifting constants for the forward and inverse five-step scheme.
const (
	Alpha   = -1.58615986717275
	Beta    = -0.05297864003258
	Gamma   = 0.88293362717904
	Delta   = 0.44350482244527
	Epsilon = 1.14960430535816
)

// Boundary selects how edge samples missing a neighbor are synthesized.
type Boundary int

const (
	// Symmetric mirrors the one present neighbor across the edge. This
	// is the default boundary mode.
	Symmetric Boundary = iota
	// Periodic wraps edge sums around the buffer; the buffer length
	// must be even.
	Periodic
	// BoundaryWavelet uses 3-point linear extrapolation at each edge,
	// falling back to Symmetric when the buffer is too short (L < 4).
	BoundaryWavelet
)

// Phase records whether a length-1 buffer represents an even-indexed
// (approximation) or odd-indexed (detail) sample from its parent signal.
// Multi-level drivers always recurse on the approximation half, so
// PhaseEven is the only phase that arises in practice; Phase exists so
// the single-sample edge case is expressed exactly as specified rather
// than hard-coded.
type Phase int

const (
	PhaseEven Phase = iota
	PhaseOdd
)

// Errors returned by this package.
var (
	// ErrOddLengthPeriodic is returned when Periodic boundary handling
	// is requested on an odd-length buffer.
	ErrOddLengthPeriodic = errors.New("cdf97: periodic boundary requires even length")
	// ErrTooShortForLevels is returned by Forward1DLevels when levels > 0
	// is requested on an empty buffer. Level counts above MaxLevels are
	// not rejected by any driver.
	ErrTooShortForLevels = errors.New("cdf97: buffer too short for requested levels")
)

var floatBufPool = sync.Pool{
	New: func() any {
		buf := make([]float64, 4096)
		return &buf
	},
}

func getBuf(n int) []float64 {
	bp := floatBufPool.Get().(*[]float64)
	buf := *bp
	if cap(buf) < n {
		buf = make([]float64, n)
	}
	*bp = buf
	return buf[:n]
}

func putBuf(buf []float64) {
	floatBufPool.Put(&buf)
}

// missingSample returns the virtual neighbor value substituted for an
// out-of-range sample at the left (index -1) or right (index L) edge.
func missingSample(data []float64, boundary Boundary, right bool) float64 {
	L := len(data)
	switch boundary {
	case Periodic:
		if right {
			return data[0]
		}
		return data[L-1]
	case BoundaryWavelet:
		if right {
			return 3*data[L-2] - data[L-4]
		}
		return 3*data[1] - data[3]
	default: // Symmetric
		if right {
			return data[L-2]
		}
		return data[1]
	}
}

func effectiveBoundary(boundary Boundary, L int) Boundary {
	if boundary == BoundaryWavelet && L < 4 {
		return Symmetric
	}
	return boundary
}

// Forward1D performs one level of the forward CDF 9/7 analysis transform
// on data in place, gathering low-pass results into the first half and
// high-pass results into the second half.
func Forward1D(data []float64, boundary Boundary) error {
	return forward1DPhase(data, boundary, PhaseEven)
}

func forward1DPhase(data []float64, boundary Boundary, phase Phase) error {
	L := len(data)
	if L == 0 {
		return nil
	}
	if L == 1 {
		if phase == PhaseEven {
			data[0] *= math.Sqrt2
		} else {
			data[0] /= math.Sqrt2
		}
		return nil
	}
	if boundary == Periodic && L%2 != 0 {
		return ErrOddLengthPeriodic
	}
	b := effectiveBoundary(boundary, L)

	// Step 1: predict odd samples with alpha.
	for i := 1; i < L-1; i += 2 {
		data[i] += Alpha * (data[i-1] + data[i+1])
	}
	if L%2 == 0 {
		i := L - 1
		data[i] += Alpha * (data[i-1] + missingSample(data, b, true))
	}

	// Step 2: update even samples with beta.
	data[0] += Beta * (data[1] + missingSample(data, b, false))
	for i := 2; i < L-1; i += 2 {
		data[i] += Beta * (data[i-1] + data[i+1])
	}
	if L%2 != 0 {
		i := L - 1
		data[i] += Beta * (data[i-1] + missingSample(data, b, true))
	}

	// Step 3: predict odd samples with gamma.
	for i := 1; i < L-1; i += 2 {
		data[i] += Gamma * (data[i-1] + data[i+1])
	}
	if L%2 == 0 {
		i := L - 1
		data[i] += Gamma * (data[i-1] + missingSample(data, b, true))
	}

	// Step 4: update and scale even samples with delta/epsilon.
	data[0] = Epsilon * (data[0] + Delta*(data[1]+missingSample(data, b, false)))
	for i := 2; i < L-1; i += 2 {
		data[i] = Epsilon * (data[i] + Delta*(data[i-1]+data[i+1]))
	}
	if L%2 != 0 {
		i := L - 1
		data[i] = Epsilon * (data[i] + Delta*(data[i-1]+missingSample(data, b, true)))
	}

	// Step 5: scale odd samples.
	for i := 1; i < L; i += 2 {
		data[i] /= -Epsilon
	}

	deinterleave(data)
	return nil
}

// Inverse1D reverses Forward1D.
func Inverse1D(data []float64, boundary Boundary) error {
	return inverse1DPhase(data, boundary, PhaseEven)
}

func inverse1DPhase(data []float64, boundary Boundary, phase Phase) error {
	L := len(data)
	if L == 0 {
		return nil
	}
	if L == 1 {
		if phase == PhaseEven {
			data[0] /= math.Sqrt2
		} else {
			data[0] *= math.Sqrt2
		}
		return nil
	}
	if boundary == Periodic && L%2 != 0 {
		return ErrOddLengthPeriodic
	}
	b := effectiveBoundary(boundary, L)

	interleave(data)

	// Undo step 5.
	for i := 1; i < L; i += 2 {
		data[i] *= -Epsilon
	}

	// Undo step 4: even samples, reads odd neighbors (untouched by this step).
	data[0] = data[0]/Epsilon - Delta*(data[1]+missingSample(data, b, false))
	for i := 2; i < L-1; i += 2 {
		data[i] = data[i]/Epsilon - Delta*(data[i-1]+data[i+1])
	}
	if L%2 != 0 {
		i := L - 1
		data[i] = data[i]/Epsilon - Delta*(data[i-1]+missingSample(data, b, true))
	}

	// Undo step 3: odd samples, reads even neighbors (untouched by this step).
	for i := 1; i < L-1; i += 2 {
		data[i] -= Gamma * (data[i-1] + data[i+1])
	}
	if L%2 == 0 {
		i := L - 1
		data[i] -= Gamma * (data[i-1] + missingSample(data, b, true))
	}

	// Undo step 2: even samples, reads odd neighbors (untouched by this step).
	data[0] -= Beta * (data[1] + missingSample(data, b, false))
	for i := 2; i < L-1; i += 2 {
		data[i] -= Beta * (data[i-1] + data[i+1])
	}
	if L%2 != 0 {
		i := L - 1
		data[i] -= Beta * (data[i-1] + missingSample(data, b, true))
	}

	// Undo step 1: odd samples, reads even neighbors (untouched by this step).
	for i := 1; i < L-1; i += 2 {
		data[i] -= Alpha * (data[i-1] + data[i+1])
	}
	if L%2 == 0 {
		i := L - 1
		data[i] -= Alpha * (data[i-1] + missingSample(data, b, true))
	}

	return nil
}

// deinterleave rearranges data in place from interleaved (even, odd,
// even, odd, ...) order to separated (all even, then all odd) order.
func deinterleave(data []float64) {
	L := len(data)
	if L < 2 {
		return
	}
	tmp := getBuf(L)
	defer putBuf(tmp)
	half := (L + 1) / 2
	for i, j := 0, 0; i < L; i, j = i+2, j+1 {
		tmp[j] = data[i]
	}
	for i, j := 1, half; i < L; i, j = i+2, j+1 {
		tmp[j] = data[i]
	}
	copy(data, tmp)
}

// interleave reverses deinterleave.
func interleave(data []float64) {
	L := len(data)
	if L < 2 {
		return
	}
	tmp := getBuf(L)
	defer putBuf(tmp)
	copy(tmp, data)
	half := (L + 1) / 2
	for i, j := 0, 0; j < half; i, j = i+2, j+1 {
		data[i] = tmp[j]
	}
	for i, j := 1, half; j < L; i, j = i+2, j+1 {
		data[i] = tmp[j]
	}
}

// MaxLevels returns the maximum number of decomposition levels supported
// by a dimension of length minDim: floor(log2(minDim/8))+1 when
// minDim >= 8, else 0.
func MaxLevels(minDim int) int {
	if minDim < 8 {
		return 0
	}
	return int(math.Floor(math.Log2(float64(minDim)/8.0))) + 1
}

// ApproxLen returns the approximation-subband length at level after
// decomposing a signal of the given original length.
func ApproxLen(length, level int) int {
	n := length
	for i := 0; i < level; i++ {
		n = (n + 1) / 2
	}
	return n
}
