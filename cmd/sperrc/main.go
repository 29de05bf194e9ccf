// sperrc compresses a raw, little-endian floating-point sample buffer
// with the wavelet-bitplane engine in the sperr package.
//
// Usage:
//
//	sperrc --dims "Nx Ny Nz" [--chunks "Cx Cy Cz"] \
//	       (--bpp F | --pwe T | --psnr P) [-o OUT] [--zstd] [--f32] <input>
//
// Flags are read only before <input>: parsing stops at the first
// non-flag argument. --dims and --chunks each take one argument holding
// three integers.
//
// Exactly one of --bpp, --pwe, or --psnr selects the termination mode;
// omitting all three defaults to a 4.0 bits-per-pixel budget.
//
// Exit codes:
//
//	0: success
//	1: compression or I/O error
//	2: invalid arguments
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mrjoshuak/go-sperr/internal/samplesio"
	"github.com/mrjoshuak/go-sperr/sperr"
)

const version = "1.0.0"

func main() {
	var (
		dimsFlag   dimsValue
		chunkFlag  dimsValue
		bpp        = flag.Float64("bpp", 0, "bits-per-pixel bit-budget target")
		pwe        = flag.Float64("pwe", 0, "point-wise-error QZ target (tau)")
		psnr       = flag.Float64("psnr", 0, "PSNR QZ target in dB")
		out        = flag.String("o", "", "output file (default: <input>.sperr)")
		useZSTD    = flag.Bool("zstd", false, "ZSTD-compress each chunk body")
		f32        = flag.Bool("f32", false, "input samples are 4-byte float32 (default: float64)")
		showVer    = flag.Bool("version", false, "show version information")
	)
	flag.Var(&dimsFlag, "dims", "volume dims: Nx Ny Nz")
	flag.Var(&chunkFlag, "chunks", "chunk dims: Cx Cy Cz (default: whole volume)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sperrc --dims \"Nx Ny Nz\" [options] <input>\n\n")
		fmt.Fprintf(os.Stderr, "Compress a raw floating-point sample buffer.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("sperrc version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one input file required")
		flag.Usage()
		os.Exit(2)
	}
	if !dimsFlag.set {
		fmt.Fprintln(os.Stderr, "Error: --dims Nx Ny Nz is required")
		flag.Usage()
		os.Exit(2)
	}

	input := args[0]
	outPath := *out
	if outPath == "" {
		outPath = input + ".sperr"
	}

	samples, err := samplesio.ReadFile(input, *f32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sperrc: reading %s: %v\n", input, err)
		os.Exit(1)
	}

	opts := sperr.EncodeOptions{Dims: dimsFlag.dims}
	if chunkFlag.set {
		opts.ChunkDims = chunkFlag.dims
	}
	opts.UseZSTD = *useZSTD

	switch {
	case *pwe > 0:
		opts.TargetPWE = *pwe
	case *psnr > 0:
		opts.TargetPSNR = *psnr
	case *bpp > 0:
		opts.BitBudget = uint64(*bpp * float64(len(samples)))
	default:
		opts.BitBudget = uint64(4.0 * float64(len(samples)))
	}

	frame, err := sperr.Compress(samples, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sperrc: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, frame, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "sperrc: writing %s: %v\n", outPath, err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d samples -> %d bytes (%.3f bpp)\n",
		input, len(samples), len(frame), float64(len(frame)*8)/float64(len(samples)))
}

// dimsValue implements flag.Value for a "Nx Ny Nz"-shaped flag; the
// stdlib flag package has no native [3]int type, so this mirrors the
// small custom flag.Value adapters the teacher writes for its own
// multi-token CLI options (e.g. exrmultiview's window-list flag).
type dimsValue struct {
	dims [3]int
	set  bool
}

func (d *dimsValue) String() string {
	if !d.set {
		return ""
	}
	return fmt.Sprintf("%d %d %d", d.dims[0], d.dims[1], d.dims[2])
}

func (d *dimsValue) Set(s string) error {
	var x, y, z int
	n, err := fmt.Sscanf(s, "%d %d %d", &x, &y, &z)
	if err != nil || n != 3 {
		return fmt.Errorf("expected 3 integers, got %q", s)
	}
	d.dims = [3]int{x, y, z}
	d.set = true
	return nil
}
