package speck

import (
	"math"
	"sort"
)

// MaxCoefficientBits returns floor(log2(max|c|)) across buf, used as the
// starting bitplane for both the SPECK coder and the SPERR outlier
// corrector. It returns 0 for an all-zero or empty buffer.
func MaxCoefficientBits(buf []float64) int {
	var maxAbs float64
	for _, v := range buf {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs <= 0 {
		return 0
	}
	return int(math.Floor(math.Log2(maxAbs)))
}

// OutlierLocation finds the index of loc within a sorted-by-location
// outlier slice via binary search, reporting ok=false when absent. The
// SPERR outlier corrector uses it to recover the outlier entry behind a
// location that tested significant.
func OutlierLocation(locations []uint64, loc uint64) (idx int, ok bool) {
	i := sort.Search(len(locations), func(i int) bool { return locations[i] >= loc })
	if i < len(locations) && locations[i] == loc {
		return i, true
	}
	return i, false
}
