// Package sperr implements the outlier corrector: a 1-D SPECK variant that
// encodes a sparse list of (location, error) pairs over the flat index
// space of a QZ-terminated reconstruction, rather than a dense coefficient
// volume. It shares speck.MaxCoefficientBits and speck.OutlierLocation with
// the main bitplane coder (internal/speck/helper.go).
package sperr

import (
	"errors"
	"math"
	"sort"

	"github.com/mrjoshuak/go-sperr/internal/bitio"
	"github.com/mrjoshuak/go-sperr/internal/speck"
)

// Outlier is one corrected location: an index into the flat sample buffer
// together with the signed residual a QZ-mode decode left behind there.
type Outlier struct {
	Location uint64
	Error    float64
}

// ErrBudgetReached mirrors speck.ErrBudgetReached for the 1-D outlier coder.
var ErrBudgetReached = errors.New("sperr: bit budget reached")

var errExhausted = errors.New("sperr: input bits exhausted")

// ErrInvalidTolerance is returned when tau is not strictly positive.
var ErrInvalidTolerance = errors.New("sperr: tolerance must be positive")

// sperrMantissaBits/minBitplane bound the decode bitplane loop exactly as
// internal/speck bounds its own, so a frame that only records maxBit (not
// the encoder's private stopping bitplane) still decodes correctly:
// Decode runs until either the budget floor or errExhausted, whichever
// comes first, and a correctly framed stream always hits the latter at
// the same bitplane the encoder stopped on.
const (
	sperrMantissaBits = 64
	sperrMinBitplane  = -1100
)

func decodeFloor(maxBit int) int {
	floor := maxBit - sperrMantissaBits
	if floor < sperrMinBitplane {
		floor = sperrMinBitplane
	}
	return floor
}

// FindOutliers scans a QZ-mode reconstruction against the original buffer
// and returns every index whose residual error meets or exceeds tol, in
// ascending location order (already sorted, since it walks the buffer in
// order).
func FindOutliers(original, reconstructed []float64, tol float64) []Outlier {
	var out []Outlier
	for i := range original {
		e := original[i] - reconstructed[i]
		if math.Abs(e) >= tol {
			out = append(out, Outlier{Location: uint64(i), Error: e})
		}
	}
	return out
}

// ApplyCorrections adds each outlier's error back into buf at its location.
func ApplyCorrections(buf []float64, outliers []Outlier) {
	for _, o := range outliers {
		buf[o.Location] += o.Error
	}
}

// Result is the outcome of Encode: the packed outlier bitstream plus the
// fields a decoder needs to replay the same bitplane sequence.
type Result struct {
	Bits    []byte
	NumBits uint64
	N       uint64 // flat index space size
	MaxBit  int    // starting bitplane exponent
	TauBit  int    // final coded bitplane exponent
	Count   int    // number of outliers encoded
}

// segment is a contiguous, not-yet-resolved range of the flat index space.
type segment struct {
	start, length uint64
}

func (s segment) isPixel() bool { return s.length == 1 }

func (s segment) split() (lo, hi segment) {
	loLen := (s.length + 1) / 2
	lo = segment{start: s.start, length: loLen}
	hi = segment{start: s.start + loLen, length: s.length - loLen}
	return
}

// lspEntry is an outlier already confirmed significant: its sign plus a
// bisection estimate of its magnitude that narrows by half the current
// threshold on every subsequent refinement bit, converging toward the true
// |error| from 1.5x its birth threshold.
type lspEntry struct {
	location uint64
	sign     bool
	estimate float64
	newlySig bool
}

func thresholdBit(m int) float64 { return math.Ldexp(1, m) }

// significantInRange reports whether any outlier within [start, start+len)
// of the sorted list has magnitude at least threshold.
func significantInRange(outliers []Outlier, start, length uint64, threshold float64) bool {
	end := start + length
	lo := sort.Search(len(outliers), func(i int) bool { return outliers[i].Location >= start })
	for i := lo; i < len(outliers) && outliers[i].Location < end; i++ {
		if math.Abs(outliers[i].Error) >= threshold {
			return true
		}
	}
	return false
}

// encoder holds the mutable state of one Encode call.
type encoder struct {
	outliers []Outlier
	locs     []uint64
	lis      []segment
	lsp      []lspEntry
	threshold float64
	w        *bitio.Writer
}

// Encode runs the 1-D outlier SPECK coder over a sorted, deduplicated list
// of outliers (locations in [0, n)), starting at the top bitplane implied
// by the largest |error|. The last coded plane is the highest power of two
// not exceeding tau: every outlier has |error| >= tau, so every one
// becomes significant by that plane and its decoded estimate lands within
// half of it.
func Encode(outliers []Outlier, n uint64, tau float64, budgetBits uint64) (*Result, error) {
	if tau <= 0 {
		return nil, ErrInvalidTolerance
	}
	if len(outliers) == 0 {
		return &Result{N: n, TauBit: speck.MaxCoefficientBits([]float64{tau})}, nil
	}
	mags := make([]float64, len(outliers))
	locs := make([]uint64, len(outliers))
	for i, o := range outliers {
		mags[i] = math.Abs(o.Error)
		locs[i] = o.Location
	}

	maxBit := speck.MaxCoefficientBits(mags)
	tauBit := speck.MaxCoefficientBits([]float64{tau})

	e := &encoder{
		outliers: outliers,
		locs:     locs,
		lis:      []segment{{start: 0, length: n}},
		w:        bitio.NewWriterWithBudget(budgetBits),
	}

	for m := maxBit; m >= tauBit; m-- {
		e.threshold = thresholdBit(m)
		if err := e.bitplane(); err != nil {
			if errors.Is(err, ErrBudgetReached) {
				break
			}
			return nil, err
		}
		e.clearNewlySig()
	}

	return &Result{
		Bits: e.w.Bytes(), NumBits: e.w.Len(),
		N: n, MaxBit: maxBit, TauBit: tauBit, Count: len(e.lsp),
	}, nil
}

func (e *encoder) clearNewlySig() {
	for i := range e.lsp {
		e.lsp[i].newlySig = false
	}
}

func (e *encoder) emitBit(bit bool) error {
	if err := e.w.PushBit(bit); err != nil {
		return ErrBudgetReached
	}
	return nil
}

// bitplane runs one sorting pass over the pending segments followed by one
// refinement pass over already-significant outliers.
func (e *encoder) bitplane() error {
	pending := e.lis
	// The sorting pass appends to lis while pending is still being read,
	// so it needs its own backing array.
	e.lis = make([]segment, 0, len(pending))
	for _, seg := range pending {
		if err := e.processSegment(seg); err != nil {
			return err
		}
	}
	return e.refinementPass()
}

func (e *encoder) processSegment(seg segment) error {
	sig := significantInRange(e.outliers, seg.start, seg.length, e.threshold)
	if err := e.emitBit(sig); err != nil {
		return err
	}
	if !sig {
		e.lis = append(e.lis, seg)
		return nil
	}
	return e.handleSignificant(seg)
}

func (e *encoder) handleSignificant(seg segment) error {
	if seg.isPixel() {
		idx, ok := speck.OutlierLocation(e.locs, seg.start)
		if !ok {
			return errors.New("sperr: significant pixel has no matching outlier")
		}
		o := e.outliers[idx]
		if err := e.emitBit(o.Error < 0); err != nil {
			return err
		}
		e.lsp = append(e.lsp, lspEntry{
			location: o.Location,
			sign:     o.Error < 0,
			estimate: 1.5 * e.threshold,
			newlySig: true,
		})
		return nil
	}
	lo, hi := seg.split()
	loSig := significantInRange(e.outliers, lo.start, lo.length, e.threshold)
	if err := e.emitBit(loSig); err != nil {
		return err
	}
	if loSig {
		if err := e.handleSignificant(lo); err != nil {
			return err
		}
	} else {
		e.lis = append(e.lis, lo)
	}
	// hi is the last (and only remaining) child: its significance is
	// inferred without a bit when lo tested insignificant, since seg as a
	// whole was significant.
	if !loSig {
		return e.handleSignificant(hi)
	}
	hiSig := significantInRange(e.outliers, hi.start, hi.length, e.threshold)
	if err := e.emitBit(hiSig); err != nil {
		return err
	}
	if hiSig {
		return e.handleSignificant(hi)
	}
	e.lis = append(e.lis, hi)
	return nil
}

func (e *encoder) refinementPass() error {
	for i := range e.lsp {
		entry := &e.lsp[i]
		if entry.newlySig {
			continue
		}
		o, _ := speck.OutlierLocation(e.locs, entry.location)
		trueMag := math.Abs(e.outliers[o].Error)
		bit := trueMag >= entry.estimate
		if err := e.emitBit(bit); err != nil {
			return err
		}
		if bit {
			entry.estimate += 0.5 * e.threshold
		} else {
			entry.estimate -= 0.5 * e.threshold
		}
	}
	return nil
}

// decoder mirrors encoder for the inverse direction.
type decoder struct {
	lis       []segment
	lsp       []lspEntry
	threshold float64
	r         *bitio.Reader
}

// Decode reconstructs the outlier list from a bitstream produced by Encode,
// given the same n and maxBit the encoder used. The encoder's private
// stopping bitplane (tauBit) need not be transmitted: Decode tolerates
// truncation exactly as internal/speck does, stopping cleanly once the
// reader is exhausted, which happens at precisely the bitplane the
// encoder stopped on for a well-formed frame.
func Decode(bits []byte, numBits uint64, n uint64, maxBit int) ([]Outlier, error) {
	d := &decoder{
		lis: []segment{{start: 0, length: n}},
		r:   bitio.NewReader(bits, numBits),
	}

	floor := decodeFloor(maxBit)
	for m := maxBit; m >= floor; m-- {
		d.threshold = thresholdBit(m)
		if err := d.bitplane(); err != nil {
			if errors.Is(err, errExhausted) {
				break
			}
			return nil, err
		}
		d.clearNewlySig()
	}

	out := make([]Outlier, len(d.lsp))
	for i, entry := range d.lsp {
		v := entry.estimate
		if entry.sign {
			v = -v
		}
		out[i] = Outlier{Location: entry.location, Error: v}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func (d *decoder) clearNewlySig() {
	for i := range d.lsp {
		d.lsp[i].newlySig = false
	}
}

func (d *decoder) popBit() (bool, error) {
	bit, ok := d.r.PopBit()
	if !ok {
		return false, errExhausted
	}
	return bit, nil
}

func (d *decoder) bitplane() error {
	pending := d.lis
	// Same as the encoder: appends during the pass must not alias pending.
	d.lis = make([]segment, 0, len(pending))
	for _, seg := range pending {
		if err := d.processSegment(seg); err != nil {
			return err
		}
	}
	return d.refinementPass()
}

func (d *decoder) processSegment(seg segment) error {
	sig, err := d.popBit()
	if err != nil {
		return err
	}
	if !sig {
		d.lis = append(d.lis, seg)
		return nil
	}
	return d.handleSignificant(seg)
}

func (d *decoder) handleSignificant(seg segment) error {
	if seg.isPixel() {
		sign, err := d.popBit()
		if err != nil {
			return err
		}
		d.lsp = append(d.lsp, lspEntry{
			location: seg.start,
			sign:     sign,
			estimate: 1.5 * d.threshold,
			newlySig: true,
		})
		return nil
	}
	lo, hi := seg.split()
	loSig, err := d.popBit()
	if err != nil {
		return err
	}
	if loSig {
		if err := d.handleSignificant(lo); err != nil {
			return err
		}
	} else {
		d.lis = append(d.lis, lo)
	}
	if !loSig {
		return d.handleSignificant(hi)
	}
	hiSig, err := d.popBit()
	if err != nil {
		return err
	}
	if hiSig {
		return d.handleSignificant(hi)
	}
	d.lis = append(d.lis, hi)
	return nil
}

func (d *decoder) refinementPass() error {
	for i := range d.lsp {
		entry := &d.lsp[i]
		if entry.newlySig {
			continue
		}
		bit, err := d.popBit()
		if err != nil {
			return err
		}
		if bit {
			entry.estimate += 0.5 * d.threshold
		} else {
			entry.estimate -= 0.5 * d.threshold
		}
	}
	return nil
}
