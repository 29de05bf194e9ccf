package sperr

import (
	"github.com/mrjoshuak/go-sperr/internal/cdf97"
	"github.com/mrjoshuak/go-sperr/internal/condition"
	"github.com/mrjoshuak/go-sperr/internal/speck"
	outlier "github.com/mrjoshuak/go-sperr/internal/sperr"
	"github.com/mrjoshuak/go-sperr/internal/zstdframe"
)

// Decompress reverses Compress: it parses the frame header, fans the
// per-chunk bodies out across goroutines exactly as Compress does, and
// reassembles the full row-major sample buffer from the decoded chunks.
func Decompress(frame []byte, opts DecodeOptions) ([]float64, error) {
	header, bodyOffset, herr := decodeHeader(frame)
	if herr != nil {
		return nil, herr
	}

	grid := chunkGrid(header.dims, header.chunkDims)
	if len(grid) != len(header.chunkLengths) {
		return nil, newErr(WrongSize, "chunk count mismatch: grid %d, header %d", len(grid), len(header.chunkLengths))
	}
	boundary := header.boundary()

	offsets := make([]int, len(grid)+1)
	offsets[0] = bodyOffset
	for i, l := range header.chunkLengths {
		offsets[i+1] = offsets[i] + int(l)
	}
	if offsets[len(grid)] > len(frame) {
		return nil, newErr(WrongSize, "frame shorter than its chunk-length table implies")
	}

	full := make([]float64, dimsProduct(header.dims))
	results := make([][]float64, len(grid))

	ferr := parallelForWithError(len(grid), 0, func(i int) error {
		body := frame[offsets[i]:offsets[i+1]]
		samples, err := decompressChunk(body, header.hasSPERR(), header.useZSTD(), boundary)
		if err != nil {
			return err
		}
		results[i] = samples
		return nil
	})
	if ferr != nil {
		if e, ok := ferr.(*Error); ok {
			return nil, e
		}
		return nil, wrapErr(ErrInternal, ferr, "chunk decompression failed")
	}

	for i, region := range grid {
		insertChunk(full, header.dims, region, results[i])
	}
	return full, nil
}

func decompressChunk(body []byte, hasSPERR, useZSTD bool, boundary cdf97.Boundary) ([]float64, error) {
	if len(body) == 0 {
		return nil, newErr(EmptyStream, "chunk body is empty")
	}
	if useZSTD {
		if !zstdframe.IsZSTDFrame(body) {
			return nil, newErr(ZSTDMismatch, "frame header flags ZSTD but chunk body lacks a ZSTD magic number")
		}
		raw, zerr := zstdframe.DecompressAuto(body)
		if zerr != nil {
			return nil, wrapErr(ZSTDError, zerr, "chunk ZSTD decompression failed")
		}
		body = raw
	}

	cs, derr := decodeChunkStream(body, hasSPERR)
	if derr != nil {
		return nil, derr
	}

	sdims := speck.Dims{cs.speckDims[0], cs.speckDims[1], cs.speckDims[2]}
	recon, err := speck.Decode(cs.speckBits, cs.speckNumBits, sdims, cs.speckLevels, cs.maxCoeffBits)
	if err != nil {
		return nil, wrapErr(ErrInternal, err, "SPECK decode failed")
	}

	if err := inverseTransform(recon, cs.speckDims, cs.speckLevels, boundary); err != nil {
		return nil, wrapErr(ErrInternal, err, "inverse transform failed")
	}
	if err := condition.Inverse(recon, cs.condMeta[:]); err != nil {
		return nil, wrapErr(ErrInternal, err, "inverse conditioning failed")
	}

	if cs.hasSPERR {
		outliers, oerr := outlier.Decode(cs.sperrBits, cs.sperrNumBits, cs.sperrN, cs.sperrMaxBit)
		if oerr != nil {
			return nil, wrapErr(ErrInternal, oerr, "SPERR decode failed")
		}
		outlier.ApplyCorrections(recon, outliers)
	}

	return recon, nil
}
