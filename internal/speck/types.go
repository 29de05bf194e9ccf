// Package speck implements the embedded set-partitioning bitplane coder:
// set partitioning over a wavelet coefficient volume, driven by the LIS
// (List of Insignificant Sets), LSP (List of Significant Pixels), and an
// L-shaped I-set used by the 2-D code path.
package speck

// SetType distinguishes the three roles a partition can hold.
type SetType int

const (
	TypeS SetType = iota
	TypeI
	TypeGarbage
)

// Dims is a (X, Y, Z) extent or origin, with X varying fastest.
type Dims [3]int

// Set is a rectangular sub-block of the coefficient volume.
type Set struct {
	Start Dims
	Len   Dims
	Level int // total partition level, used as the LIS bucket index
	Kind  SetType
}

// NumCoeffs returns the number of coefficients covered by the set.
func (s Set) NumCoeffs() int {
	return s.Len[0] * s.Len[1] * s.Len[2]
}

// IsPixel reports whether the set covers exactly one coefficient.
func (s Set) IsPixel() bool {
	return s.Len[0] == 1 && s.Len[1] == 1 && s.Len[2] == 1
}

// IsEmpty reports whether the set covers zero coefficients.
func (s Set) IsEmpty() bool {
	return s.Len[0] == 0 || s.Len[1] == 0 || s.Len[2] == 0
}

// FlatIndex returns the flat coefficient-buffer index of a pixel set
// within a volume of the given dimensions (X fastest).
func (s Set) FlatIndex(volDims Dims) int {
	return s.Start[2]*volDims[0]*volDims[1] + s.Start[1]*volDims[0] + s.Start[0]
}

// activeAxes reports, for each axis, whether the set's length on that
// axis is greater than one (a candidate for splitting).
func (s Set) activeAxes() [3]bool {
	return [3]bool{s.Len[0] > 1, s.Len[1] > 1, s.Len[2] > 1}
}

// halves returns the low-half and high-half length on an axis, with the
// low (approximation-corner) half receiving the larger share on odd
// lengths.
func halves(length int) (lo, hi int) {
	lo = (length + 1) / 2
	hi = length - lo
	return
}

// splitChildren partitions set into its canonical-order children: eight
// octants when all three axes are active (3-D), four quadrants in
// BR/BL/TR/TL order when exactly the X and Y axes are active (2-D), and
// a low/high binary split when only one axis is active. Empty children
// (zero-length on a newly split axis) are omitted.
func splitChildren(s Set) []Set {
	active := s.activeAxes()
	nActive := 0
	for _, a := range active {
		if a {
			nActive++
		}
	}

	switch {
	case nActive == 3:
		return splitOctants(s)
	case nActive == 2 && active[0] && active[1]:
		return splitQuadrants(s)
	case nActive >= 1:
		return splitGeneric(s, active)
	default:
		return nil
	}
}

// splitOctants implements the canonical 3-D child order:
// (0,0,0),(1,0,0),(0,1,0),(1,1,0),(0,0,1),(1,0,1),(0,1,1),(1,1,1), with
// bit i selecting the low (0) or high (1) half of axis i.
func splitOctants(s Set) []Set {
	loX, hiX := halves(s.Len[0])
	loY, hiY := halves(s.Len[1])
	loZ, hiZ := halves(s.Len[2])

	lenOf := func(axis, bit int) int {
		switch axis {
		case 0:
			if bit == 0 {
				return loX
			}
			return hiX
		case 1:
			if bit == 0 {
				return loY
			}
			return hiY
		default:
			if bit == 0 {
				return loZ
			}
			return hiZ
		}
	}
	startOf := func(axis, bit int) int {
		lo := lenOf(axis, 0)
		switch axis {
		case 0:
			if bit == 0 {
				return s.Start[0]
			}
			return s.Start[0] + lo
		case 1:
			if bit == 0 {
				return s.Start[1]
			}
			return s.Start[1] + lo
		default:
			if bit == 0 {
				return s.Start[2]
			}
			return s.Start[2] + lo
		}
	}

	var out []Set
	for _, bits := range [8][3]int{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
	} {
		c := Set{
			Start: Dims{startOf(0, bits[0]), startOf(1, bits[1]), startOf(2, bits[2])},
			Len:   Dims{lenOf(0, bits[0]), lenOf(1, bits[1]), lenOf(2, bits[2])},
			Level: s.Level + 1,
			Kind:  TypeS,
		}
		if !c.IsEmpty() {
			out = append(out, c)
		}
	}
	return out
}

// splitQuadrants implements the canonical 2-D child order BR, BL, TR,
// TL, where TL is the approximation corner (low X, low Y).
func splitQuadrants(s Set) []Set {
	loX, hiX := halves(s.Len[0])
	loY, hiY := halves(s.Len[1])

	quad := func(xBit, yBit int) Set {
		var startX, lenX, startY, lenY int
		if xBit == 0 {
			startX, lenX = s.Start[0], loX
		} else {
			startX, lenX = s.Start[0]+loX, hiX
		}
		if yBit == 0 {
			startY, lenY = s.Start[1], loY
		} else {
			startY, lenY = s.Start[1]+loY, hiY
		}
		return Set{
			Start: Dims{startX, startY, s.Start[2]},
			Len:   Dims{lenX, lenY, s.Len[2]},
			Level: s.Level + 1,
			Kind:  TypeS,
		}
	}

	var out []Set
	for _, bits := range [4][2]int{{1, 1}, {0, 1}, {1, 0}, {0, 0}} { // BR, BL, TR, TL
		c := quad(bits[0], bits[1])
		if !c.IsEmpty() {
			out = append(out, c)
		}
	}
	return out
}

// splitGeneric handles the degenerate case where only one axis (or two
// non-XY axes) is active, splitting each active axis into low/high
// halves in ascending axis order.
func splitGeneric(s Set, active [3]bool) []Set {
	children := []Set{s}
	for axis := 0; axis < 3; axis++ {
		if !active[axis] {
			continue
		}
		var next []Set
		for _, c := range children {
			lo, hi := halves(c.Len[axis])
			loSet := c
			loSet.Len[axis] = lo
			hiSet := c
			hiSet.Start[axis] = c.Start[axis] + lo
			hiSet.Len[axis] = hi
			if !loSet.IsEmpty() {
				next = append(next, loSet)
			}
			if !hiSet.IsEmpty() {
				next = append(next, hiSet)
			}
		}
		children = next
	}
	for i := range children {
		children[i].Level = s.Level + 1
		children[i].Kind = TypeS
	}
	return children
}
