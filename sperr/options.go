package sperr

import (
	"github.com/mrjoshuak/go-sperr/internal/cdf97"
	"github.com/mrjoshuak/go-sperr/internal/zstdframe"
)

// EncodeOptions configures a single Compress call. Exactly one of
// BitBudget, QZLevel, TargetPWE, or TargetPSNR should select a
// termination mode; BitBudget is the default (a hard cap) when none of
// the others are set.
type EncodeOptions struct {
	// Dims is the sample buffer's (Nx, Ny, Nz) extent; Nz=1 for 2-D,
	// Ny=Nz=1 for 1-D.
	Dims [3]int

	// ChunkDims splits Dims into independently compressed chunks when
	// non-zero; the zero value compresses the whole buffer as one chunk.
	ChunkDims [3]int

	// Boundary selects the CDF97 edge-handling mode.
	Boundary cdf97.Boundary

	// Levels overrides the auto-computed CDF97 decomposition level count
	// (chooseLevels's cdf97.MaxLevels result) when positive.
	Levels int

	// BitBudget caps the SPECK stream's length, per chunk, when non-zero
	// and no QZ-style termination is requested.
	BitBudget uint64

	// QZLevel, if non-nil, selects QZ-termination at threshold 2^*QZLevel
	// directly, bypassing the TargetPWE/TargetPSNR search.
	QZLevel *int

	// TargetPWE, if positive, resolves the smallest-effort QZ level whose
	// point-wise error bound meets this tolerance, via ResolveQZ.
	TargetPWE float64

	// TargetPSNR, if positive (and TargetPWE is not set), resolves the
	// smallest-effort QZ level whose reconstruction PSNR meets this
	// target, via ResolveQZ.
	TargetPSNR float64

	// OutlierTolerance (tau) is the error threshold of the SPERR
	// outlier-correction pass, which runs in every QZ-termination mode;
	// it defaults to 2^QZLevel when zero.
	OutlierTolerance float64

	// UseZSTD wraps each chunk's packed body in a ZSTD frame.
	UseZSTD   bool
	ZSTDLevel zstdframe.Level

	// NumWorkers bounds the chunk fan-out concurrency; 0 means
	// runtime.GOMAXPROCS(0).
	NumWorkers int
}

// qzActive reports whether this call uses any QZ-style termination
// (direct level, or a target resolved to one), which additionally enables
// the SPERR outlier-correction pass.
func (o EncodeOptions) qzActive() bool {
	return o.QZLevel != nil || o.TargetPWE > 0 || o.TargetPSNR > 0
}

// DecodeOptions configures a single Decompress call.
type DecodeOptions struct {
	// F32Output requests the caller receive float32 samples; currently
	// advisory only, since the public API returns float64 throughout
	// (conversion is the caller's responsibility, as cmd/sperrd does for
	// its --f32/--f64 flags).
	F32Output bool
}

// ResolveQZ searches the integer QZ-level range [qMin, qMax] for the
// largest (cheapest) level whose achieved metric still meets target,
// exploiting the SPECK monotone fidelity property: decreasing q can only
// improve (or hold) the metric, so the feasible levels form a contiguous
// range and a bisection suffices instead of a linear scan. metric(q)
// should run encode+decode at that QZ level and report the achieved
// point-wise error (lowerIsBetter=true) or PSNR (lowerIsBetter=false).
func ResolveQZ(qMin, qMax int, metric func(q int) (float64, error), target float64, lowerIsBetter bool) (int, error) {
	if qMin > qMax {
		return 0, newErr(InvalidParam, "ResolveQZ: qMin %d > qMax %d", qMin, qMax)
	}
	lo, hi := qMin, qMax
	best := qMax
	found := false
	for lo <= hi {
		mid := lo + (hi-lo)/2
		val, err := metric(mid)
		if err != nil {
			return 0, wrapErr(ErrInternal, err, "ResolveQZ: metric(%d) failed", mid)
		}
		meets := val <= target
		if !lowerIsBetter {
			meets = val >= target
		}
		if meets {
			best = mid
			found = true
			lo = mid + 1 // try an even cheaper (larger) q that still meets target
		} else {
			hi = mid - 1
		}
	}
	if !found {
		return 0, newErr(InvalidParam, "ResolveQZ: no level in [%d, %d] meets target %g", qMin, qMax, target)
	}
	return best, nil
}
