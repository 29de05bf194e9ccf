package sperr

import (
	"io"
	"math"

	"github.com/mrjoshuak/go-sperr/internal/cdf97"
	"github.com/mrjoshuak/go-sperr/internal/condition"
	"github.com/mrjoshuak/go-sperr/internal/speck"
	outlier "github.com/mrjoshuak/go-sperr/internal/sperr"
	"github.com/mrjoshuak/go-sperr/internal/xdr"
)

// OpenPrefix decodes only a fraction of each chunk's bytes and returns the
// partial reconstruction that prefix supports. The bytes of each chunk
// past its prefix are still read off r and discarded, since r is a plain
// io.Reader with no seeking. It mirrors the original project's
// SPECK3D_OMP_D progressive-decode path: a chunk stream packs bitplanes
// coarsest-first, so reading only the first fraction of a chunk's bytes
// still yields a valid (lower-fidelity) reconstruction of that chunk,
// exactly as an early QZ or bit-budget stop during encoding would have.
//
// fraction must be in (0, 1]; 1.0 reads every chunk in full. ZSTD-wrapped
// frames cannot be byte-truncated meaningfully (the compressed stream has
// no mid-frame resync point), so OpenPrefix rejects them outright.
func OpenPrefix(r io.Reader, fraction float64) ([]float64, error) {
	if !(fraction > 0) || fraction > 1 {
		return nil, newErr(InvalidParam, "OpenPrefix: fraction must be in (0, 1], got %g", fraction)
	}

	sr := xdr.NewStreamReader(r)
	h, herr := decodeHeaderFrom(sr)
	if herr != nil {
		return nil, herr
	}
	if h.useZSTD() {
		return nil, newErr(InvalidParam, "OpenPrefix: cannot request a byte prefix of a ZSTD-wrapped frame")
	}

	grid := chunkGrid(h.dims, h.chunkDims)
	if len(grid) != len(h.chunkLengths) {
		return nil, newErr(WrongSize, "chunk count mismatch: grid %d, header %d", len(grid), len(h.chunkLengths))
	}
	boundary := h.boundary()

	full := make([]float64, dimsProduct(h.dims))
	for i, region := range grid {
		chunkLen := int(h.chunkLengths[i])
		want := int(math.Ceil(float64(chunkLen) * fraction))
		if want < 1 {
			want = 1
		}
		if want > chunkLen {
			want = chunkLen
		}

		buf, err := sr.ReadBytes(want)
		if err != nil {
			return nil, wrapErr(IOError, err, "OpenPrefix: reading chunk %d prefix (%d of %d bytes)", i, want, chunkLen)
		}
		if skip := chunkLen - want; skip > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
				return nil, wrapErr(IOError, err, "OpenPrefix: skipping remainder of chunk %d", i)
			}
		}

		samples, derr := decompressChunkPrefix(buf, boundary)
		if derr != nil {
			return nil, derr
		}
		insertChunk(full, h.dims, region, samples)
	}
	return full, nil
}

// decompressChunkPrefix runs decompressChunk's pipeline against a
// (possibly truncated) chunk prefix, using decodeChunkStreamPrefix in
// place of the exact-length decodeChunkStream.
func decompressChunkPrefix(body []byte, boundary cdf97.Boundary) ([]float64, *Error) {
	cs, derr := decodeChunkStreamPrefix(body)
	if derr != nil {
		return nil, derr
	}

	sdims := speck.Dims{cs.speckDims[0], cs.speckDims[1], cs.speckDims[2]}
	recon, err := speck.Decode(cs.speckBits, cs.speckNumBits, sdims, cs.speckLevels, cs.maxCoeffBits)
	if err != nil {
		return nil, wrapErr(ErrInternal, err, "SPECK decode failed on truncated chunk")
	}

	if err := inverseTransform(recon, cs.speckDims, cs.speckLevels, boundary); err != nil {
		return nil, wrapErr(ErrInternal, err, "inverse transform failed on truncated chunk")
	}
	if err := condition.Inverse(recon, cs.condMeta[:]); err != nil {
		return nil, wrapErr(ErrInternal, err, "inverse conditioning failed on truncated chunk")
	}

	if cs.hasSPERR {
		outliers, oerr := outlier.Decode(cs.sperrBits, cs.sperrNumBits, cs.sperrN, cs.sperrMaxBit)
		if oerr == nil {
			outlier.ApplyCorrections(recon, outliers)
		}
	}

	return recon, nil
}
