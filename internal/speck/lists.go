package speck

// lisGarbageMinSize and lisGarbageDeadFrac gate the "clean LIS"
// compaction pass: a bucket is compacted only once it is both reasonably
// large and mostly dead.
const (
	lisGarbageMinSize  = 16
	lisGarbageDeadFrac = 0.5
)

// LIS is the List of Insignificant Sets, a vector of buckets indexed by
// total partition level. Buckets are processed from the end (finest
// level, most-refined sets) toward the front during the sorting pass.
type LIS struct {
	buckets [][]Set
	deadCnt []int
}

// NewLIS returns an empty LIS with room for levels+1 buckets (0..levels).
func NewLIS(levels int) *LIS {
	return &LIS{
		buckets: make([][]Set, levels+1),
		deadCnt: make([]int, levels+1),
	}
}

func (l *LIS) ensureLevel(level int) {
	for level >= len(l.buckets) {
		l.buckets = append(l.buckets, nil)
		l.deadCnt = append(l.deadCnt, 0)
	}
}

// PushFront inserts a set at the front of its level's bucket (used for
// the initial approximation subband, which must be processed first).
func (l *LIS) PushFront(s Set) {
	l.ensureLevel(s.Level)
	l.buckets[s.Level] = append([]Set{s}, l.buckets[s.Level]...)
}

// PushBack appends a set to its level's bucket, in insertion order.
func (l *LIS) PushBack(s Set) {
	l.ensureLevel(s.Level)
	l.buckets[s.Level] = append(l.buckets[s.Level], s)
}

// MaxLevel returns the highest bucket index; that bucket may be empty.
func (l *LIS) MaxLevel() int {
	return len(l.buckets) - 1
}

// Bucket returns a level's bucket, Garbage-marked entries included, for
// in-place mutation during the sorting pass.
func (l *LIS) Bucket(level int) []Set {
	if level < 0 || level >= len(l.buckets) {
		return nil
	}
	return l.buckets[level]
}

// MarkGarbage flags the entry at (level, idx) as Garbage; it is
// physically removed during the next Clean pass.
func (l *LIS) MarkGarbage(level, idx int) {
	l.buckets[level][idx].Kind = TypeGarbage
	l.deadCnt[level]++
}

// Clean compacts every bucket whose dead-entry ratio exceeds
// lisGarbageDeadFrac and whose size exceeds lisGarbageMinSize.
func (l *LIS) Clean() {
	for level, bucket := range l.buckets {
		if len(bucket) < lisGarbageMinSize {
			continue
		}
		if float64(l.deadCnt[level])/float64(len(bucket)) <= lisGarbageDeadFrac {
			continue
		}
		live := bucket[:0]
		for _, s := range bucket {
			if s.Kind != TypeGarbage {
				live = append(live, s)
			}
		}
		l.buckets[level] = live
		l.deadCnt[level] = 0
	}
}

// LSPEntry is a pixel that has become significant, tracked so the
// refinement pass can skip it during its birth bitplane.
type LSPEntry struct {
	Index    int // flat coefficient-buffer index
	NewlySig bool
}

// LSP is the List of Significant Pixels.
type LSP struct {
	entries []LSPEntry
}

// NewLSP returns an empty LSP.
func NewLSP() *LSP {
	return &LSP{}
}

// Add appends a newly significant pixel.
func (l *LSP) Add(index int) {
	l.entries = append(l.entries, LSPEntry{Index: index, NewlySig: true})
}

// Entries exposes the live entries for the refinement pass.
func (l *LSP) Entries() []LSPEntry {
	return l.entries
}

// ClearNewlySig flips every entry's NewlySig flag off at the end of a
// bitplane, once the refinement pass has skipped them for their birth
// plane.
func (l *LSP) ClearNewlySig() {
	for i := range l.entries {
		l.entries[i].NewlySig = false
	}
}

// SetEntry replaces the entry at position i.
func (l *LSP) SetEntry(i int, e LSPEntry) {
	l.entries[i] = e
}

// ISet is the 2-D L-shaped complement of the square already covered by
// S-sets at the current pyramid corner. Unlike an S-set it is not split
// by halving its own extent: each step recomputes the approximation
// corner directly from the full original dimension at PartLevel, the
// same rule the CDF97 transform used to size that level's subband, so
// its geometry tracks odd dimensions exactly instead of drifting from
// repeated rounding.
type ISet struct {
	W, H      int // full region extent, at the original (untransformed) size
	PartLevel int // remaining transform levels still folded into the hole
}

// Empty reports whether the I-set has been fully consumed (no transform
// level remains to peel off).
func (i ISet) Empty() bool {
	return i.PartLevel <= 0
}

// splitIOnce peels one transform level off the I-set: the ring of three
// detail subbands extending the approximation corner to the next-coarser
// square becomes BR, TR, BL S-sets, and everything outside that square
// stays the residual I-set. The ring and the residual are disjoint and
// together cover the full L-shape, so no coefficient is represented
// twice.
func splitIOnce(i ISet, startZ int) (br, tr, bl Set, residual ISet) {
	approxW := cdf97ApproxLen(i.W, i.PartLevel)
	approxH := cdf97ApproxLen(i.H, i.PartLevel)
	nextW := cdf97ApproxLen(i.W, i.PartLevel-1)
	nextH := cdf97ApproxLen(i.H, i.PartLevel-1)

	// I-set children carry Level 0: they are coarse, L-shaped residue
	// rather than part of the dyadic S-set pyramid, so they are given
	// the lowest LIS priority bucket (processed last in a sorting pass)
	// rather than competing for position with the pyramid's own levels.
	tr = Set{
		Start: Dims{approxW, 0, startZ},
		Len:   Dims{nextW - approxW, approxH, 1},
		Level: 0,
		Kind:  TypeS,
	}
	bl = Set{
		Start: Dims{0, approxH, startZ},
		Len:   Dims{approxW, nextH - approxH, 1},
		Level: 0,
		Kind:  TypeS,
	}
	br = Set{
		Start: Dims{approxW, approxH, startZ},
		Len:   Dims{nextW - approxW, nextH - approxH, 1},
		Level: 0,
		Kind:  TypeS,
	}
	residual = ISet{W: i.W, H: i.H, PartLevel: i.PartLevel - 1}
	return
}
