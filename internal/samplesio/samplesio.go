// Package samplesio reads and writes raw little-endian sample buffers
// (float32 or float64) for the cmd/sperrc, cmd/sperrd, and cmd/sperrprobe
// CLI tools. It is the thin, illustrative I/O layer spec.md's §6 calls an
// external collaborator: container and header parsing stay out of the
// core engine, but the CLI tools still need some concrete way to get
// samples on and off disk.
package samplesio

import (
	"io"
	"os"

	"github.com/mrjoshuak/go-sperr/internal/xdr"
)

// ReadFloat64 reads every 8-byte little-endian IEEE-754 double in r.
func ReadFloat64(r io.Reader) ([]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	n := len(data) / 8
	out := make([]float64, n)
	xr := xdr.NewReader(data)
	for i := 0; i < n; i++ {
		out[i], _ = xr.ReadFloat64()
	}
	return out, nil
}

// ReadFloat32 reads every 4-byte little-endian IEEE-754 float in r,
// widening each to float64 for the core pipeline.
func ReadFloat32(r io.Reader) ([]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	n := len(data) / 4
	out := make([]float64, n)
	xr := xdr.NewReader(data)
	for i := 0; i < n; i++ {
		v, _ := xr.ReadFloat32()
		out[i] = float64(v)
	}
	return out, nil
}

// ReadFile loads every sample in the file at path, choosing the element
// width by asF32.
func ReadFile(path string, asF32 bool) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if asF32 {
		return ReadFloat32(f)
	}
	return ReadFloat64(f)
}

// WriteFloat64 writes samples as 8-byte little-endian IEEE-754 doubles.
func WriteFloat64(w io.Writer, samples []float64) error {
	xw := xdr.NewStreamWriter(w)
	for _, v := range samples {
		if err := xw.WriteFloat64(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteFloat32 writes samples narrowed to 4-byte little-endian IEEE-754
// floats.
func WriteFloat32(w io.Writer, samples []float64) error {
	xw := xdr.NewStreamWriter(w)
	for _, v := range samples {
		if err := xw.WriteFloat32(float32(v)); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile saves samples to path, choosing the element width by asF32.
func WriteFile(path string, samples []float64, asF32 bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if asF32 {
		return WriteFloat32(f, samples)
	}
	return WriteFloat64(f, samples)
}
