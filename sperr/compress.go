package sperr

import (
	"math"
	"runtime"
	"sync"

	"github.com/mrjoshuak/go-sperr/internal/cdf97"
	"github.com/mrjoshuak/go-sperr/internal/condition"
	"github.com/mrjoshuak/go-sperr/internal/speck"
	outlier "github.com/mrjoshuak/go-sperr/internal/sperr"
	"github.com/mrjoshuak/go-sperr/internal/xdr"
	"github.com/mrjoshuak/go-sperr/internal/zstdframe"
)

// conditionerMean extracts the mean field condition.Condition wrote into
// meta, regardless of whether mean subtraction was actually applied —
// used only to populate the SPECK sub-stream's informational "image
// mean" header field.
func conditionerMean(meta [condition.MetaSize]byte) float64 {
	r := xdr.NewReader(meta[:])
	r.Skip(1)
	mean, _ := r.ReadFloat64()
	return mean
}

// effectiveWorkers mirrors the teacher's exr.effectiveWorkers: 0 or
// negative means "use every available CPU".
func effectiveWorkers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// parallelForWithError runs fn(i) for i in [0, n) across numWorkers
// goroutines, one contiguous span per worker, and returns the first
// error encountered. This is the chunk fan-out shape the teacher's
// exr.ParallelForWithError uses for per-part OpenEXR work: a
// sync.WaitGroup join plus a sync.Once-guarded first-error capture, with
// no shared mutable state between goroutines beyond the result slice
// each is given a disjoint slice of to write into.
func parallelForWithError(n, numWorkers int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	numWorkers = effectiveWorkers(numWorkers)
	if n == 1 || numWorkers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	chunkSize := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				if err := fn(i); err != nil {
					once.Do(func() { firstErr = err })
					return
				}
			}
		}(start, end)
	}
	wg.Wait()
	return firstErr
}

func dimsProduct(d [3]int) int { return d[0] * d[1] * d[2] }

func validateDims(d [3]int) *Error {
	for _, v := range d {
		if v <= 0 {
			return newErr(InvalidParam, "dims must be positive, got %v", d)
		}
	}
	return nil
}

// chooseLevels picks the dyadic decomposition level count for a region:
// the caller's override if set, else the deepest level every active
// (length > 1) axis supports, per cdf97.MaxLevels. Forcing one uniform
// level count across axes keeps the 3-D path on Forward3DDyadic rather
// than needing the packet transform's independent per-axis level counts
// wired through internal/speck's single `levels` parameter — a
// deliberate scope reduction recorded in DESIGN.md.
func chooseLevels(extent [3]int, override int) int {
	if override > 0 {
		return override
	}
	minActive := -1
	for _, d := range extent {
		if d > 1 && (minActive < 0 || d < minActive) {
			minActive = d
		}
	}
	if minActive < 0 {
		return 0
	}
	return cdf97.MaxLevels(minActive)
}

// forwardTransform applies the forward CDF97 transform in place, picking
// the 1-D, 2-D, or 3-D driver from how many axes of extent are active.
func forwardTransform(buf []float64, extent [3]int, levels int, boundary cdf97.Boundary) error {
	switch {
	case extent[1] <= 1 && extent[2] <= 1:
		return cdf97.Forward1DLevels(buf, levels, boundary)
	case extent[2] <= 1:
		return cdf97.Forward2D(buf, extent[0], extent[1], levels, boundary)
	default:
		return cdf97.Forward3DDyadic(buf, extent[0], extent[1], extent[2], levels, boundary)
	}
}

func inverseTransform(buf []float64, extent [3]int, levels int, boundary cdf97.Boundary) error {
	switch {
	case extent[1] <= 1 && extent[2] <= 1:
		return cdf97.Inverse1DLevels(buf, levels, boundary)
	case extent[2] <= 1:
		return cdf97.Inverse2D(buf, extent[0], extent[1], levels, boundary)
	default:
		return cdf97.Inverse3DDyadic(buf, extent[0], extent[1], extent[2], levels, boundary)
	}
}

// Compress runs the conditioner -> CDF97 -> SPECK (-> SPERR) pipeline
// over samples (a row-major, X-fastest buffer of opts.Dims extent),
// splitting into independent chunks per opts.ChunkDims and fanning the
// per-chunk work out across goroutines.
func Compress(samples []float64, opts EncodeOptions) ([]byte, error) {
	if err := validateDims(opts.Dims); err != nil {
		return nil, err
	}
	if len(samples) != dimsProduct(opts.Dims) {
		return nil, newErr(WrongSize, "samples has %d elements, dims imply %d", len(samples), dimsProduct(opts.Dims))
	}

	chunkDims := opts.ChunkDims
	multi := chunkDims != [3]int{} && chunkDims != opts.Dims
	if chunkDims == ([3]int{}) {
		chunkDims = opts.Dims
	}

	var qzLevel *int
	if opts.QZLevel != nil {
		qzLevel = opts.QZLevel
	} else if opts.TargetPWE > 0 || opts.TargetPSNR > 0 {
		lvl, rerr := resolveGlobalQZ(samples, opts)
		if rerr != nil {
			return nil, rerr
		}
		qzLevel = &lvl
	}

	grid := chunkGrid(opts.Dims, chunkDims)
	bodies := make([][]byte, len(grid))

	ferr := parallelForWithError(len(grid), opts.NumWorkers, func(i int) error {
		region := grid[i]
		chunkSamples := extractChunk(samples, opts.Dims, region)
		body, err := compressChunk(chunkSamples, region.len, opts, qzLevel)
		if err != nil {
			return err
		}
		bodies[i] = body
		return nil
	})
	if ferr != nil {
		if e, ok := ferr.(*Error); ok {
			return nil, e
		}
		return nil, wrapErr(ErrInternal, ferr, "chunk compression failed")
	}

	var flags byte
	if opts.Dims[2] > 1 {
		flags |= flagIs3D
	}
	if multi {
		flags |= flagMultiChunk
	}
	if opts.UseZSTD {
		flags |= flagZSTD
	}
	if qzLevel != nil {
		flags |= flagHasSPERR
	}
	flags = withBoundary(flags, opts.Boundary)

	lengths := make([]uint32, len(bodies))
	total := 0
	for i, b := range bodies {
		lengths[i] = uint32(len(b))
		total += len(b)
	}

	header := encodeHeader(frameHeader{flags: flags, dims: opts.Dims, chunkDims: chunkDims, chunkLengths: lengths})
	out := make([]byte, 0, len(header)+total)
	out = append(out, header...)
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out, nil
}

// compressChunk runs the single-chunk pipeline: precondition, forward
// transform, SPECK encode, and — in QZ termination modes — a decode/
// inverse-transform probe to find and encode outliers via SPERR.
func compressChunk(samples []float64, extent [3]int, opts EncodeOptions, qzLevel *int) ([]byte, error) {
	n := len(samples)
	original := append([]float64(nil), samples...)

	condOpts := condition.Options{SubtractMean: true, DivideByRMS: false}
	meta, err := condition.Condition(samples, condOpts)
	if err != nil {
		return nil, wrapErr(InvalidParam, err, "conditioning chunk failed")
	}
	speckMean := conditionerMean(meta)

	levels := chooseLevels(extent, opts.Levels)
	if err := forwardTransform(samples, extent, levels, opts.Boundary); err != nil {
		return nil, wrapErr(ErrInternal, err, "forward transform failed")
	}

	sdims := speck.Dims{extent[0], extent[1], extent[2]}
	sres, err := speck.Encode(samples, sdims, levels, opts.BitBudget, qzLevel)
	if err != nil {
		return nil, wrapErr(ErrInternal, err, "SPECK encode failed")
	}

	cs := chunkStream{
		condMeta:     meta,
		speckDims:    extent,
		speckMean:    speckMean,
		speckLevels:  levels,
		maxCoeffBits: sres.MaxCoeffBits,
		speckNumBits: sres.NumBits,
		speckBits:    sres.Bits,
	}

	if qzLevel != nil {
		recon, err := speck.Decode(sres.Bits, sres.NumBits, sdims, levels, sres.MaxCoeffBits)
		if err != nil {
			return nil, wrapErr(ErrInternal, err, "SPECK probe decode failed")
		}
		if err := inverseTransform(recon, extent, levels, opts.Boundary); err != nil {
			return nil, wrapErr(ErrInternal, err, "inverse transform failed")
		}
		if err := condition.Inverse(recon, meta[:]); err != nil {
			return nil, wrapErr(ErrInternal, err, "inverse conditioning failed")
		}

		tol := opts.OutlierTolerance
		if tol <= 0 {
			tol = thresholdBit(*qzLevel)
		}
		outliers := outlier.FindOutliers(original, recon, tol)
		ores, err := outlier.Encode(outliers, uint64(n), tol, 0)
		if err != nil {
			return nil, wrapErr(ErrInternal, err, "SPERR encode failed")
		}
		cs.hasSPERR = true
		cs.sperrN = ores.N
		cs.sperrMaxBit = ores.MaxBit
		cs.sperrNumBits = ores.NumBits
		cs.sperrBits = ores.Bits
	}

	body := encodeChunkStream(cs)
	if opts.UseZSTD {
		level := opts.ZSTDLevel
		if level == 0 {
			level = zstdframe.LevelDefault
		}
		compressed, zerr := zstdframe.CompressLevel(body, level)
		if zerr != nil {
			return nil, wrapErr(ZSTDError, zerr, "chunk ZSTD compression failed")
		}
		return compressed, nil
	}
	return body, nil
}

func thresholdBit(m int) float64 {
	return math.Ldexp(1, m)
}

// resolveGlobalQZ picks a single QZ level for the whole buffer (applied
// uniformly to every chunk) that meets opts.TargetPWE or opts.TargetPSNR,
// by running the single-chunk pipeline at trial levels and bisecting via
// ResolveQZ. Resolving once globally, rather than per chunk, is a scope
// reduction: per-chunk adaptive QZ levels would let flatter chunks cost
// fewer bits, but a single shared level needs one bisection over the
// candidate levels (and the probe decodes it requires) rather than one
// bisection per chunk.
func resolveGlobalQZ(samples []float64, opts EncodeOptions) (int, error) {
	probe := append([]float64(nil), samples...)
	condOpts := condition.Options{SubtractMean: true}
	if _, err := condition.Condition(probe, condOpts); err != nil {
		return 0, wrapErr(InvalidParam, err, "conditioning probe failed")
	}
	levels := chooseLevels(opts.Dims, opts.Levels)
	if err := forwardTransform(probe, opts.Dims, levels, opts.Boundary); err != nil {
		return 0, wrapErr(ErrInternal, err, "probe transform failed")
	}
	maxBits := speck.MaxCoefficientBits(probe)
	qMin, qMax := maxBits-60, maxBits

	metric := func(q int) (float64, error) {
		trialOpts := opts
		trialOpts.QZLevel = nil
		trialOpts.TargetPWE = 0
		trialOpts.TargetPSNR = 0
		trialOpts.ChunkDims = opts.Dims // single chunk for the probe
		level := q
		trialOpts.QZLevel = &level
		frame, cerr := Compress(samples, trialOpts)
		if cerr != nil {
			return 0, cerr
		}
		recon, derr := Decompress(frame, DecodeOptions{})
		if derr != nil {
			return 0, derr
		}
		if opts.TargetPWE > 0 {
			return maxAbsDiff(samples, recon), nil
		}
		return psnr(samples, recon), nil
	}

	if opts.TargetPWE > 0 {
		return ResolveQZ(qMin, qMax, metric, opts.TargetPWE, true)
	}
	return ResolveQZ(qMin, qMax, metric, opts.TargetPSNR, false)
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

func psnr(original, recon []float64) float64 {
	var sumSq, maxVal float64
	for _, v := range original {
		av := v
		if av < 0 {
			av = -av
		}
		if av > maxVal {
			maxVal = av
		}
	}
	for i := range original {
		d := original[i] - recon[i]
		sumSq += d * d
	}
	if sumSq == 0 {
		return 1e9
	}
	mse := sumSq / float64(len(original))
	if maxVal == 0 {
		maxVal = 1
	}
	return 10 * math.Log10(maxVal*maxVal/mse)
}
