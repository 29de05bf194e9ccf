package speck

import (
	"errors"
	"math"

	"github.com/mrjoshuak/go-sperr/internal/bitio"
)

// ErrBudgetReached is the internal sentinel used to unwind the encode
// recursion cleanly once the bit writer's budget is exhausted; Encode
// converts it back into a successful, truncated result.
var ErrBudgetReached = errors.New("speck: bit budget reached")

// errExhausted is the decode-side mirror of ErrBudgetReached: it unwinds
// the decode recursion once the input bit reader runs dry, leaving the
// coefficient buffer as a valid partial reconstruction.
var errExhausted = errors.New("speck: input bits exhausted")

// minBitplane bounds the bitplane loop so a caller-supplied budget that
// is never exhausted (e.g. 0 meaning unbounded) cannot spin forever; no
// float64 magnitude needs more refinement bits than its exponent range.
const minBitplane = -1100

// mantissaBits comfortably exceeds float64's 52-bit mantissa: once the
// threshold has halved this many times below the top bitplane, every
// coefficient's remaining residual is indistinguishable from zero, so
// continuing the bitplane loop past that point can never change the
// reconstruction.
const mantissaBits = 64

// bitplaneFloor returns the lowest bitplane worth visiting for a given
// starting (maximum-coefficient-bits) exponent.
func bitplaneFloor(maxBits int) int {
	floor := maxBits - mantissaBits
	if floor < minBitplane {
		floor = minBitplane
	}
	return floor
}

// approxChild returns the approximation-corner child of s — the one
// whose origin coincides with s's own origin — without relying on
// canonical child order, which differs between the 2-D and 3-D splits.
func approxChild(children []Set, parent Set) (Set, bool) {
	for _, c := range children {
		if c.Start == parent.Start {
			return c, true
		}
	}
	return Set{}, false
}

// buildInitialPartition seeds the LIS for a coding run. True 2-D volumes
// (handled instead by a lazily-growing I-set, see buildInitialISet) get
// only their single coarsest approximation S-set; every other detail
// region is discovered later by the I-set, never pre-populated here, to
// avoid representing the same coefficients in two places at once. 3-D
// and degenerate (1-D) volumes have no I-set, so the full pyramid of
// detail children at every level is pushed eagerly here instead.
func buildInitialPartition(dims Dims, levels int, rootOnly bool) *LIS {
	lis := NewLIS(levels)
	if rootOnly {
		aw := cdf97ApproxLen(dims[0], levels)
		ah := cdf97ApproxLen(dims[1], levels)
		lis.PushBack(Set{Start: Dims{0, 0, 0}, Len: Dims{aw, ah, 1}, Level: levels, Kind: TypeS})
		return lis
	}
	if levels == 0 {
		lis.PushBack(Set{Start: Dims{0, 0, 0}, Len: dims, Level: 0, Kind: TypeS})
		return lis
	}

	cur := Set{Start: Dims{0, 0, 0}, Len: dims, Level: 0, Kind: TypeS}
	for l := 1; l <= levels; l++ {
		children := splitChildren(cur)
		approx, ok := approxChild(children, cur)
		if !ok {
			break
		}
		for _, c := range children {
			if c.Start == approx.Start {
				continue
			}
			c.Level = l
			lis.PushBack(c)
		}
		approx.Level = l
		cur = approx
	}
	lis.PushFront(cur)
	return lis
}

// buildInitialISet reports whether a true 2-D volume (Z extent 1, Y
// extent greater than 1) needs an I-set covering the L-shaped remainder
// outside the coarsest approximation square, and if so returns it.
// Degenerate "2-D" shapes with Y extent 1 are really 1-D and have no
// I-shaped remainder at all.
func buildInitialISet(dims Dims, levels int) (ISet, bool) {
	if dims[2] != 1 || dims[1] <= 1 || levels <= 0 {
		return ISet{}, false
	}
	aw := cdf97ApproxLen(dims[0], levels)
	ah := cdf97ApproxLen(dims[1], levels)
	if aw >= dims[0] && ah >= dims[1] {
		return ISet{}, false
	}
	return ISet{W: dims[0], H: dims[1], PartLevel: levels}, true
}

// cdf97ApproxLen mirrors cdf97.ApproxLen without importing the cdf97
// package, which this package's callers (the public sperr API) already
// depend on directly; duplicating the tiny halving loop avoids a
// dependency cycle risk between coefficient-domain and coding-domain
// packages.
func cdf97ApproxLen(length, levels int) int {
	n := length
	for i := 0; i < levels; i++ {
		n = (n + 1) / 2
	}
	return n
}

// thresholdBit returns the bit value 1<<m as a float64.
func thresholdBit(m int) float64 {
	return math.Ldexp(1, m)
}

// pushBitChecked writes a single bit, converting a budget overrun into
// the sentinel ErrBudgetReached so callers can stop cleanly.
func pushBitChecked(w *bitio.Writer, bit bool) error {
	if err := w.PushBit(bit); err != nil {
		return ErrBudgetReached
	}
	return nil
}

// forEachIndex calls fn with the flat coefficient-buffer index of every
// position covered by set, within a volume of the given dims.
func forEachIndex(set Set, volDims Dims, fn func(idx int)) {
	planeSize := volDims[0] * volDims[1]
	for z := set.Start[2]; z < set.Start[2]+set.Len[2]; z++ {
		for y := set.Start[1]; y < set.Start[1]+set.Len[1]; y++ {
			base := z*planeSize + y*volDims[0] + set.Start[0]
			for x := 0; x < set.Len[0]; x++ {
				fn(base + x)
			}
		}
	}
}

// setSignificant reports whether any coefficient magnitude covered by
// set meets or exceeds threshold.
func setSignificant(mag []float64, volDims Dims, set Set, threshold float64) bool {
	sig := false
	forEachIndex(set, volDims, func(idx int) {
		if mag[idx] >= threshold {
			sig = true
		}
	})
	return sig
}

// Result is the outcome of a single Encode call: the packed bit
// sequence, its exact bit length (the final byte may be zero-padded),
// and the maximum-coefficient-bits value the decoder needs to replay
// the same bitplane sequence.
type Result struct {
	Bits         []byte
	NumBits      uint64
	MaxCoeffBits int
}

// encoder holds the mutable state of a single encode() call: the
// magnitude/sign split of the coefficient buffer, the working lists,
// and the bit writer. It is the sole owner of the coefficient buffer
// for the duration of the call.
type encoder struct {
	dims      Dims
	mag       []float64
	signs     []bool
	lis       *LIS
	lsp       *LSP
	iset      ISet
	hasISet   bool
	threshold float64
	w         *bitio.Writer
}

// Encode runs the SPECK bitplane coder over coeffs (a signed coefficient
// buffer already produced by the forward CDF97 transform), pre-
// partitioned assuming `levels` total dyadic decomposition levels.
//
// Exactly one of budgetBits (a hard bit-budget termination) or qzLevel
// (QZ-termination: stop once the threshold reaches 2^Q) should be set;
// if qzLevel is non-nil it takes precedence and budgetBits, if nonzero,
// still caps the output as a safety bound.
func Encode(coeffs []float64, dims Dims, levels int, budgetBits uint64, qzLevel *int) (*Result, error) {
	n := len(coeffs)
	if n != dims[0]*dims[1]*dims[2] {
		return nil, ErrDimMismatch
	}

	mag := make([]float64, n)
	signs := make([]bool, n)
	for i, v := range coeffs {
		signs[i] = v < 0
		mag[i] = math.Abs(v)
	}

	maxBits := MaxCoefficientBits(mag)

	// An all-zero buffer has nothing to code: emit no bits and let the
	// decoder's exhaustion path reconstruct zeros in the first bitplane.
	allZero := true
	for _, v := range mag {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return &Result{MaxCoeffBits: maxBits}, nil
	}

	iset, hasISet := buildInitialISet(dims, levels)

	e := &encoder{
		dims:    dims,
		mag:     mag,
		signs:   signs,
		lis:     buildInitialPartition(dims, levels, hasISet),
		lsp:     NewLSP(),
		iset:    iset,
		hasISet: hasISet,
		w:       bitio.NewWriterWithBudget(budgetBits),
	}

	floor := bitplaneFloor(maxBits)
	m := maxBits
	for ; m >= floor; m-- {
		if qzLevel != nil && m <= *qzLevel {
			break
		}
		e.threshold = thresholdBit(m)
		if err := e.bitplane(); err != nil {
			if errors.Is(err, ErrBudgetReached) {
				break
			}
			return nil, err
		}
		e.lsp.ClearNewlySig()
		e.lis.Clean()
	}

	return &Result{Bits: e.w.Bytes(), NumBits: e.w.Len(), MaxCoeffBits: maxBits}, nil
}

// bitplane runs one sorting pass followed by one refinement pass at the
// encoder's current threshold.
func (e *encoder) bitplane() error {
	for level := e.lis.MaxLevel(); level >= 0; level-- {
		bucket := e.lis.Bucket(level)
		for idx := range bucket {
			if bucket[idx].Kind == TypeGarbage {
				continue
			}
			if err := e.processSFromLIS(level, idx); err != nil {
				return err
			}
		}
	}
	if e.hasISet {
		if err := e.processI(); err != nil {
			return err
		}
	}
	return e.refinementPass()
}

func (e *encoder) emitBit(bit bool) error {
	return pushBitChecked(e.w, bit)
}

// processSFromLIS tests the LIS entry at (level, idx); an insignificant
// set is left in place for a future bitplane, a significant one is
// marked Garbage and recursively coded.
func (e *encoder) processSFromLIS(level, idx int) error {
	set := e.lis.Bucket(level)[idx]
	sig := setSignificant(e.mag, e.dims, set, e.threshold)
	if err := e.emitBit(sig); err != nil {
		return err
	}
	if !sig {
		return nil
	}
	e.lis.MarkGarbage(level, idx)
	return e.handleSignificantSet(set)
}

// processSNew tests a set freshly produced by a split this bitplane,
// reporting its significance; an insignificant one is newly inserted
// into the LIS for future testing.
func (e *encoder) processSNew(set Set) (bool, error) {
	sig := setSignificant(e.mag, e.dims, set, e.threshold)
	if err := e.emitBit(sig); err != nil {
		return false, err
	}
	if !sig {
		e.lis.PushBack(set)
		return false, nil
	}
	return true, e.handleSignificantSet(set)
}

// handleSignificantSet applies the "NewlySig" pixel quantization or
// recursively partitions a non-pixel significant set.
func (e *encoder) handleSignificantSet(set Set) error {
	if set.IsPixel() {
		idx := set.FlatIndex(e.dims)
		if err := e.emitBit(e.signs[idx]); err != nil {
			return err
		}
		e.mag[idx] -= e.threshold
		e.lsp.Add(idx)
		return nil
	}
	return e.codeS(set)
}

// codeS partitions set into its canonical-order children and recurses
// into each, inferring the last child's significance (no bit emitted)
// when every earlier sibling tested insignificant.
func (e *encoder) codeS(set Set) error {
	children := splitChildren(set)
	anySig := false
	for i, c := range children {
		last := i == len(children)-1
		if last && !anySig {
			if err := e.handleSignificantSet(c); err != nil {
				return err
			}
			continue
		}
		sig := setSignificant(e.mag, e.dims, c, e.threshold)
		if err := e.emitBit(sig); err != nil {
			return err
		}
		if sig {
			anySig = true
			if err := e.handleSignificantSet(c); err != nil {
				return err
			}
		} else {
			e.lis.PushBack(c)
		}
	}
	return nil
}

// setSignificantI reports whether any coefficient in the full L-shaped
// region covered by i — everything outside the current approximation
// corner, including what later peels would hand to the residual — is
// significant. Two rectangles tile the L-shape: the right band at full
// height, and the bottom band under the corner.
func setSignificantI(mag []float64, volDims Dims, i ISet, threshold float64) bool {
	aw := cdf97ApproxLen(i.W, i.PartLevel)
	ah := cdf97ApproxLen(i.H, i.PartLevel)
	right := Set{Start: Dims{aw, 0, 0}, Len: Dims{i.W - aw, i.H, 1}}
	bottom := Set{Start: Dims{0, ah, 0}, Len: Dims{aw, i.H - ah, 1}}
	return setSignificant(mag, volDims, right, threshold) ||
		setSignificant(mag, volDims, bottom, threshold)
}

// processI tests and, if significant, codes the encoder's single
// persistent 2-D I-set, recursing on the residual until it is either
// insignificant this bitplane or fully consumed.
func (e *encoder) processI() error {
	if e.iset.Empty() {
		return nil
	}
	sig := setSignificantI(e.mag, e.dims, e.iset, e.threshold)
	if err := e.emitBit(sig); err != nil {
		return err
	}
	if !sig {
		return nil
	}
	return e.codeI()
}

// codeI partitions the I-set into BR, TR, BL S-children plus the
// residual I-set and recurses into the residual. The last sibling's
// significance is inferred without a bit when every earlier one tested
// insignificant: the residual when it is non-empty, else the final ring
// child.
func (e *encoder) codeI() error {
	br, tr, bl, residual := splitIOnce(e.iset, 0)
	var children []Set
	for _, c := range []Set{br, tr, bl} {
		if !c.IsEmpty() {
			children = append(children, c)
		}
	}
	anySig := false
	for i, c := range children {
		if i == len(children)-1 && residual.Empty() && !anySig {
			if err := e.handleSignificantSet(c); err != nil {
				return err
			}
			continue
		}
		sig, err := e.processSNew(c)
		if err != nil {
			return err
		}
		if sig {
			anySig = true
		}
	}
	e.iset = residual
	if residual.Empty() {
		return nil
	}
	if !anySig {
		return e.codeI()
	}
	return e.processI()
}

// refinementPass emits one bit per LSP pixel that was not born this
// bitplane, shrinking its residual magnitude on a "1" bit.
func (e *encoder) refinementPass() error {
	entries := e.lsp.Entries()
	for _, entry := range entries {
		if entry.NewlySig {
			continue
		}
		idx := entry.Index
		bit := e.mag[idx] >= e.threshold
		if err := e.emitBit(bit); err != nil {
			return err
		}
		if bit {
			e.mag[idx] -= e.threshold
		}
	}
	return nil
}

// decoder mirrors encoder for the inverse direction: it owns the
// reconstructed coefficient buffer, rebuilding it bitplane by bitplane
// from the packed bit sequence until the reader runs dry.
type decoder struct {
	dims      Dims
	mag       []float64
	signs     []bool
	lis       *LIS
	lsp       *LSP
	iset      ISet
	hasISet   bool
	threshold float64
	r         *bitio.Reader
}

// Decode reconstructs a coefficient buffer from a SPECK bit sequence
// produced by Encode, given the same dims, levels, and maxCoeffBits the
// encoder used. It tolerates truncation at any bit: decoding stops
// cleanly once the reader is exhausted, leaving a valid partial
// reconstruction at the threshold reached so far.
func Decode(bits []byte, numBits uint64, dims Dims, levels int, maxCoeffBits int) ([]float64, error) {
	n := dims[0] * dims[1] * dims[2]
	iset, hasISet := buildInitialISet(dims, levels)

	d := &decoder{
		dims:    dims,
		mag:     make([]float64, n),
		signs:   make([]bool, n),
		lis:     buildInitialPartition(dims, levels, hasISet),
		lsp:     NewLSP(),
		iset:    iset,
		hasISet: hasISet,
		r:       bitio.NewReader(bits, numBits),
	}

	floor := bitplaneFloor(maxCoeffBits)
	for m := maxCoeffBits; m >= floor; m-- {
		d.threshold = thresholdBit(m)
		if err := d.bitplane(); err != nil {
			if errors.Is(err, errExhausted) {
				break
			}
			return nil, err
		}
		d.lsp.ClearNewlySig()
		d.lis.Clean()
	}

	out := make([]float64, n)
	for i, v := range d.mag {
		if d.signs[i] {
			out[i] = -v
		} else {
			out[i] = v
		}
	}
	return out, nil
}

func (d *decoder) bitplane() error {
	for level := d.lis.MaxLevel(); level >= 0; level-- {
		bucket := d.lis.Bucket(level)
		for idx := range bucket {
			if bucket[idx].Kind == TypeGarbage {
				continue
			}
			if err := d.processSFromLIS(level, idx); err != nil {
				return err
			}
		}
	}
	if d.hasISet {
		if err := d.processI(); err != nil {
			return err
		}
	}
	return d.refinementPass()
}

func (d *decoder) popBit() (bool, error) {
	bit, ok := d.r.PopBit()
	if !ok {
		return false, errExhausted
	}
	return bit, nil
}

func (d *decoder) processSFromLIS(level, idx int) error {
	set := d.lis.Bucket(level)[idx]
	sig, err := d.popBit()
	if err != nil {
		return err
	}
	if !sig {
		return nil
	}
	d.lis.MarkGarbage(level, idx)
	return d.handleSignificantSet(set)
}

func (d *decoder) processSNew(set Set) (bool, error) {
	sig, err := d.popBit()
	if err != nil {
		return false, err
	}
	if !sig {
		d.lis.PushBack(set)
		return false, nil
	}
	return true, d.handleSignificantSet(set)
}

func (d *decoder) handleSignificantSet(set Set) error {
	if set.IsPixel() {
		idx := set.FlatIndex(d.dims)
		sign, err := d.popBit()
		if err != nil {
			return err
		}
		d.signs[idx] = sign
		d.mag[idx] = 1.5 * d.threshold
		d.lsp.Add(idx)
		return nil
	}
	return d.codeS(set)
}

func (d *decoder) codeS(set Set) error {
	children := splitChildren(set)
	anySig := false
	for i, c := range children {
		last := i == len(children)-1
		if last && !anySig {
			if err := d.handleSignificantSet(c); err != nil {
				return err
			}
			continue
		}
		sig, err := d.popBit()
		if err != nil {
			return err
		}
		if sig {
			anySig = true
			if err := d.handleSignificantSet(c); err != nil {
				return err
			}
		} else {
			d.lis.PushBack(c)
		}
	}
	return nil
}

func (d *decoder) processI() error {
	if d.iset.Empty() {
		return nil
	}
	sig, err := d.popBit()
	if err != nil {
		return err
	}
	if !sig {
		return nil
	}
	return d.codeI()
}

func (d *decoder) codeI() error {
	br, tr, bl, residual := splitIOnce(d.iset, 0)
	var children []Set
	for _, c := range []Set{br, tr, bl} {
		if !c.IsEmpty() {
			children = append(children, c)
		}
	}
	anySig := false
	for i, c := range children {
		if i == len(children)-1 && residual.Empty() && !anySig {
			if err := d.handleSignificantSet(c); err != nil {
				return err
			}
			continue
		}
		sig, err := d.processSNew(c)
		if err != nil {
			return err
		}
		if sig {
			anySig = true
		}
	}
	d.iset = residual
	if residual.Empty() {
		return nil
	}
	if !anySig {
		return d.codeI()
	}
	return d.processI()
}

// refinementPass consumes one bit per previously significant pixel and
// nudges its reconstruction by half the current threshold, keeping the
// estimate at the midpoint of the interval the bit narrowed it to.
func (d *decoder) refinementPass() error {
	entries := d.lsp.Entries()
	for _, entry := range entries {
		if entry.NewlySig {
			continue
		}
		bit, err := d.popBit()
		if err != nil {
			return err
		}
		if bit {
			d.mag[entry.Index] += 0.5 * d.threshold
		} else {
			d.mag[entry.Index] -= 0.5 * d.threshold
		}
	}
	return nil
}
