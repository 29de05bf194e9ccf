package sperr

import (
	"math"

	"github.com/mrjoshuak/go-sperr/internal/cdf97"
	"github.com/mrjoshuak/go-sperr/internal/condition"
	"github.com/mrjoshuak/go-sperr/internal/xdr"
)

// thresholdF32 and bitFromThreshold convert between a bitplane exponent
// and the 2^m threshold value stored in the SPERR sub-stream header,
// matching the f32 "max threshold" field spec.md's §4.6 framing calls
// for instead of the raw integer exponent internal/sperr works with.
func thresholdF32(maxBit int) float32 {
	return float32(math.Ldexp(1, maxBit))
}

func bitFromThreshold(t float32) int {
	if t <= 0 {
		return 0
	}
	return int(math.Floor(math.Log2(float64(t))))
}

// version is the major version byte written into every frame header.
const version = 1

// Flag bits within the header's single flag byte. Bits 6-7 hold the
// cdf97.Boundary mode (0-2 fit in two bits), applied uniformly to every
// chunk in the frame.
const (
	flagIsPortion  byte = 1 << 0
	flagIs3D       byte = 1 << 1
	flagIsFloat    byte = 1 << 2
	flagMultiChunk byte = 1 << 3
	flagZSTD       byte = 1 << 4
	flagHasSPERR   byte = 1 << 5

	boundaryShift = 6
	boundaryMask  = 0x3 << boundaryShift
)

// headerFixedSize is the size of the header before the optional chunk
// dims and the per-chunk length table.
const headerFixedSize = 2 + 12 // version + flags + dims u32x3

// chunkDimsSize is the size of the optional chunk-dims field.
const chunkDimsSize = 6 // u16 x 3

// frameHeader is the parsed form of a frame's fixed-layout prefix.
type frameHeader struct {
	flags        byte
	dims         [3]int
	chunkDims    [3]int // zero value means "whole volume, one chunk"
	chunkLengths []uint32
}

func (h *frameHeader) multiChunk() bool { return h.flags&flagMultiChunk != 0 }
func (h *frameHeader) useZSTD() bool    { return h.flags&flagZSTD != 0 }
func (h *frameHeader) hasSPERR() bool   { return h.flags&flagHasSPERR != 0 }
func (h *frameHeader) boundary() cdf97.Boundary {
	return cdf97.Boundary((h.flags & boundaryMask) >> boundaryShift)
}

func withBoundary(flags byte, b cdf97.Boundary) byte {
	return (flags &^ boundaryMask) | byte(b)<<boundaryShift
}

// encodeHeader serializes the frame header per spec §4.6: byte 0 version,
// byte 1 flags, bytes 2-13 volume dims (u32x3), then (if multi_chunk) 6
// bytes of chunk dims (u16x3), then 4*N bytes of per-chunk compressed
// lengths.
func encodeHeader(h frameHeader) []byte {
	size := headerFixedSize
	if h.multiChunk() {
		size += chunkDimsSize
	}
	size += 4 * len(h.chunkLengths)

	w := xdr.NewBufferWriter(size)
	w.WriteByte(version)
	w.WriteByte(h.flags)
	for _, d := range h.dims {
		w.WriteUint32(uint32(d))
	}
	if h.multiChunk() {
		for _, d := range h.chunkDims {
			w.WriteUint16(uint16(d))
		}
	}
	for _, l := range h.chunkLengths {
		w.WriteUint32(l)
	}
	return w.Bytes()
}

// decodeHeader parses a frame header, returning the header and the byte
// offset at which the chunk stream bodies begin.
func decodeHeader(buf []byte) (frameHeader, int, *Error) {
	var h frameHeader
	if len(buf) < headerFixedSize {
		return h, 0, newErr(WrongSize, "header shorter than %d bytes", headerFixedSize)
	}
	r := xdr.NewReader(buf)
	v, _ := r.ReadByte()
	if v != version {
		return h, 0, newErr(VersionMismatch, "frame version %d, expected %d", v, version)
	}
	h.flags, _ = r.ReadByte()
	for i := range h.dims {
		u, _ := r.ReadUint32()
		h.dims[i] = int(u)
	}

	n := 1
	if h.multiChunk() {
		if r.Len() < chunkDimsSize {
			return h, 0, newErr(WrongSize, "truncated chunk-dims field")
		}
		for i := range h.chunkDims {
			u, _ := r.ReadUint16()
			h.chunkDims[i] = int(u)
		}
		n = len(chunkGrid(h.dims, h.chunkDims))
	} else {
		h.chunkDims = h.dims
	}

	if r.Len() < 4*n {
		return h, 0, newErr(WrongSize, "truncated chunk-length table: need %d chunks", n)
	}
	h.chunkLengths = make([]uint32, n)
	for i := range h.chunkLengths {
		h.chunkLengths[i], _ = r.ReadUint32()
	}
	return h, r.Pos(), nil
}

// decodeHeaderFrom parses a frame header incrementally off an io.Reader,
// reading only the bytes the header actually occupies (fixed prefix,
// optional chunk dims, then the N-entry length table) rather than the
// whole frame — the prerequisite for OpenPrefix's progressive read.
func decodeHeaderFrom(r *xdr.StreamReader) (frameHeader, *Error) {
	var h frameHeader
	v, err := r.ReadByte()
	if err != nil {
		return h, wrapErr(IOError, err, "reading frame version")
	}
	if v != version {
		return h, newErr(VersionMismatch, "frame version %d, expected %d", v, version)
	}
	h.flags, err = r.ReadByte()
	if err != nil {
		return h, wrapErr(IOError, err, "reading frame flags")
	}
	for i := range h.dims {
		u, err := r.ReadUint32()
		if err != nil {
			return h, wrapErr(IOError, err, "reading frame dims")
		}
		h.dims[i] = int(u)
	}

	n := 1
	if h.multiChunk() {
		for i := range h.chunkDims {
			u, err := r.ReadUint16()
			if err != nil {
				return h, wrapErr(IOError, err, "reading chunk dims")
			}
			h.chunkDims[i] = int(u)
		}
		n = len(chunkGrid(h.dims, h.chunkDims))
	} else {
		h.chunkDims = h.dims
	}

	h.chunkLengths = make([]uint32, n)
	for i := range h.chunkLengths {
		u, err := r.ReadUint32()
		if err != nil {
			return h, wrapErr(IOError, err, "reading chunk-length table")
		}
		h.chunkLengths[i] = u
	}
	return h, nil
}

// chunkRegion is one axis-aligned chunk's origin and extent within the
// full volume, both in (X, Y, Z) order with X fastest.
type chunkRegion struct {
	start [3]int
	len   [3]int
}

// chunkGrid deterministically partitions dims into chunkDims-sized
// blocks (the final block on each axis absorbing any remainder), in
// Z-slowest, Y, X-fastest nesting order. Both the encoder and decoder
// call this with the same (dims, chunkDims) pair read from the frame
// header, so they agree on chunk boundaries without the header needing
// to carry per-chunk extents.
func chunkGrid(dims, chunkDims [3]int) []chunkRegion {
	cd := chunkDims
	for i := range cd {
		if cd[i] <= 0 || cd[i] > dims[i] {
			cd[i] = dims[i]
		}
	}
	var counts [3]int
	for i := range counts {
		counts[i] = (dims[i] + cd[i] - 1) / cd[i]
	}

	var grid []chunkRegion
	for cz := 0; cz < counts[2]; cz++ {
		z0 := cz * cd[2]
		zl := cd[2]
		if z0+zl > dims[2] {
			zl = dims[2] - z0
		}
		for cy := 0; cy < counts[1]; cy++ {
			y0 := cy * cd[1]
			yl := cd[1]
			if y0+yl > dims[1] {
				yl = dims[1] - y0
			}
			for cx := 0; cx < counts[0]; cx++ {
				x0 := cx * cd[0]
				xl := cd[0]
				if x0+xl > dims[0] {
					xl = dims[0] - x0
				}
				grid = append(grid, chunkRegion{
					start: [3]int{x0, y0, z0},
					len:   [3]int{xl, yl, zl},
				})
			}
		}
	}
	return grid
}

// extractChunk copies the samples covered by region out of a full
// row-major (X fastest) volume buffer.
func extractChunk(full []float64, dims [3]int, region chunkRegion) []float64 {
	out := make([]float64, region.len[0]*region.len[1]*region.len[2])
	planeSize := dims[0] * dims[1]
	i := 0
	for z := 0; z < region.len[2]; z++ {
		for y := 0; y < region.len[1]; y++ {
			base := (region.start[2]+z)*planeSize + (region.start[1]+y)*dims[0] + region.start[0]
			for x := 0; x < region.len[0]; x++ {
				out[i] = full[base+x]
				i++
			}
		}
	}
	return out
}

// insertChunk is extractChunk's inverse, writing chunk samples back into
// their place in a full volume buffer.
func insertChunk(full []float64, dims [3]int, region chunkRegion, chunk []float64) {
	planeSize := dims[0] * dims[1]
	i := 0
	for z := 0; z < region.len[2]; z++ {
		for y := 0; y < region.len[1]; y++ {
			base := (region.start[2]+z)*planeSize + (region.start[1]+y)*dims[0] + region.start[0]
			for x := 0; x < region.len[0]; x++ {
				full[base+x] = chunk[i]
				i++
			}
		}
	}
}

// chunkStream is the decoded form of one chunk's per-chunk stream:
// conditioner meta, the SPECK sub-stream, and an optional SPERR
// sub-stream.
type chunkStream struct {
	condMeta [condition.MetaSize]byte

	speckDims    [3]int
	speckMean    float64
	speckLevels  int
	maxCoeffBits int
	speckNumBits uint64
	speckBits    []byte

	hasSPERR     bool
	sperrN       uint64
	sperrMaxBit  int
	sperrNumBits uint64
	sperrBits    []byte
}

// encodeChunkStream serializes a chunkStream per spec §4.6's per-chunk
// layout: 17-byte conditioner meta, then the SPECK stream (dims u32x3,
// mean f64, max_coeff_bits u16, packed bits), then — when present — the
// SPERR stream (u64 length, f32 max threshold, u64 bit count, packed
// bits). The SPECK sub-stream additionally carries its decomposition
// level count (u8, between the mean and max_coeff_bits) and its own bit
// count (u64) ahead of its packed bits. The bit count is there because,
// with two concatenated variable-length bitstreams in one chunk body, a
// reader needs an explicit boundary between them, which a fixed
// byte-exact layout cannot otherwise supply.
func encodeChunkStream(cs chunkStream) []byte {
	size := condition.MetaSize + 12 + 8 + 1 + 2 + 8 + len(cs.speckBits)
	if cs.hasSPERR {
		size += 8 + 4 + 8 + len(cs.sperrBits)
	}
	w := xdr.NewBufferWriter(size)
	w.WriteBytes(cs.condMeta[:])

	for _, d := range cs.speckDims {
		w.WriteUint32(uint32(d))
	}
	w.WriteFloat64(cs.speckMean)
	w.WriteUint8(uint8(cs.speckLevels))
	// max_coeff_bits is a signed exponent (coefficients below 1.0 yield a
	// negative one) riding the u16 field as two's complement.
	w.WriteUint16(uint16(int16(cs.maxCoeffBits)))
	w.WriteUint64(cs.speckNumBits)
	w.WriteBytes(cs.speckBits)

	if cs.hasSPERR {
		w.WriteUint64(cs.sperrN)
		w.WriteFloat32(thresholdF32(cs.sperrMaxBit))
		w.WriteUint64(cs.sperrNumBits)
		w.WriteBytes(cs.sperrBits)
	}
	return w.Bytes()
}

// decodeChunkStream parses a byte slice produced by encodeChunkStream.
// hasSPERR tells the parser whether to expect the trailing SPERR
// sub-stream (a global, per-frame property carried in the header flags,
// not repeated per chunk).
func decodeChunkStream(buf []byte, hasSPERR bool) (chunkStream, *Error) {
	var cs chunkStream
	if len(buf) == 0 {
		return cs, newErr(EmptyStream, "chunk stream is empty")
	}
	cs.hasSPERR = hasSPERR
	r := xdr.NewReader(buf)

	if r.Len() < condition.MetaSize {
		return cs, newErr(WrongSize, "chunk stream shorter than conditioner meta")
	}
	meta, _ := r.ReadBytes(condition.MetaSize)
	copy(cs.condMeta[:], meta)

	if r.Len() < 12+8+1+2+8 {
		return cs, newErr(WrongSize, "chunk stream shorter than SPECK header")
	}
	for i := range cs.speckDims {
		u, _ := r.ReadUint32()
		cs.speckDims[i] = int(u)
	}
	cs.speckMean, _ = r.ReadFloat64()
	lvl, _ := r.ReadUint8()
	cs.speckLevels = int(lvl)
	u16, _ := r.ReadUint16()
	cs.maxCoeffBits = int(int16(u16))
	cs.speckNumBits, _ = r.ReadUint64()

	speckByteLen := int((cs.speckNumBits + 7) / 8)
	speckBits, err := r.ReadBytes(speckByteLen)
	if err != nil {
		return cs, newErr(WrongSize, "truncated SPECK packed bits")
	}
	cs.speckBits = speckBits

	if !hasSPERR {
		return cs, nil
	}

	if r.Len() < 8+4+8 {
		return cs, newErr(WrongSize, "chunk stream shorter than SPERR header")
	}
	cs.sperrN, _ = r.ReadUint64()
	maxThresh, _ := r.ReadFloat32()
	cs.sperrMaxBit = bitFromThreshold(maxThresh)
	cs.sperrNumBits, _ = r.ReadUint64()

	sperrByteLen := int((cs.sperrNumBits + 7) / 8)
	sperrBits, err := r.ReadBytes(sperrByteLen)
	if err != nil {
		return cs, newErr(WrongSize, "truncated SPERR packed bits")
	}
	cs.sperrBits = sperrBits
	return cs, nil
}

// speckFixedSize is the byte size of the SPECK sub-stream's fixed header
// (dims u32x3, mean f64, levels u8, max_coeff_bits u16, num_bits u64),
// ahead of its packed bits.
const speckFixedSize = 12 + 8 + 1 + 2 + 8

// sperrFixedSize is the byte size of the SPERR sub-stream's fixed header
// (N u64, max threshold f32, num_bits u64), ahead of its packed bits.
const sperrFixedSize = 8 + 4 + 8

// decodeChunkStreamPrefix parses a (possibly truncated) prefix of a chunk
// stream. It trusts the declared num_bits fields for the logical bit
// counts speck.Decode and the outlier decoder index against, but hands
// them only whatever packed bytes actually made it into buf — the same
// truncation tolerance that makes a QZ/bit-budget termination's early
// stop safe applies equally to a caller-chosen byte prefix, since both
// codecs already stop cleanly the moment their bitio.Reader runs dry.
// Missing the SPERR sub-stream entirely (the common case, since it
// trails the SPECK bits) just means the returned chunkStream reports
// hasSPERR=false regardless of the frame-level flag.
func decodeChunkStreamPrefix(buf []byte) (chunkStream, *Error) {
	var cs chunkStream
	if len(buf) == 0 {
		return cs, newErr(EmptyStream, "chunk prefix is empty")
	}
	r := xdr.NewReader(buf)

	if r.Len() < condition.MetaSize {
		return cs, newErr(WrongSize, "chunk prefix shorter than conditioner meta")
	}
	meta, _ := r.ReadBytes(condition.MetaSize)
	copy(cs.condMeta[:], meta)

	if r.Len() < speckFixedSize {
		return cs, newErr(WrongSize, "chunk prefix shorter than SPECK header")
	}
	for i := range cs.speckDims {
		u, _ := r.ReadUint32()
		cs.speckDims[i] = int(u)
	}
	cs.speckMean, _ = r.ReadFloat64()
	lvl, _ := r.ReadUint8()
	cs.speckLevels = int(lvl)
	u16, _ := r.ReadUint16()
	cs.maxCoeffBits = int(int16(u16))
	cs.speckNumBits, _ = r.ReadUint64()

	declaredSpeckBytes := int((cs.speckNumBits + 7) / 8)
	available := r.Len()
	if available > declaredSpeckBytes {
		// buf carries a full SPECK stream and at least part of a
		// trailing SPERR stream; only the SPECK portion is "ours".
		speckBits, _ := r.ReadBytes(declaredSpeckBytes)
		cs.speckBits = speckBits
	} else {
		speckBits, _ := r.ReadBytes(available)
		cs.speckBits = speckBits
		return cs, nil
	}

	if r.Len() < sperrFixedSize {
		return cs, nil
	}
	cs.sperrN, _ = r.ReadUint64()
	maxThresh, _ := r.ReadFloat32()
	cs.sperrMaxBit = bitFromThreshold(maxThresh)
	cs.sperrNumBits, _ = r.ReadUint64()
	cs.sperrBits, _ = r.ReadBytes(r.Len())
	cs.hasSPERR = true
	return cs, nil
}
