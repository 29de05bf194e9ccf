// sperrprobe is a rate/distortion probe: it iterates over a range of QZ
// termination levels for a sample buffer, compressing and decompressing at each one and reporting
// the achieved bits-per-pixel and PSNR, the same sweep the original
// SPERR project's probe_3d_qz utility performs by hand-rolling a
// compress/decompress loop over candidate QZ levels.
//
// Usage:
//
//	sperrprobe --dims "Nx Ny Nz" [--f32] [--qmin N] [--qmax N] [--j2k] <input>
//
// Flags are read only before <input>: parsing stops at the first
// non-flag argument. --dims takes one argument holding three integers.
//
// --j2k additionally runs a lossy JPEG 2000 baseline sweep (2-D inputs
// only, via github.com/mrjoshuak/go-jpeg2000) alongside the native sweep,
// so the reported curve shows both codecs' PSNR at comparable bit costs.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/mrjoshuak/go-jpeg2000"
	"github.com/mrjoshuak/go-sperr/internal/samplesio"
	"github.com/mrjoshuak/go-sperr/sperr"
)

const version = "1.0.0"

func main() {
	var dimsFlag dimsValue
	flag.Var(&dimsFlag, "dims", "volume dims: Nx Ny Nz")
	f32 := flag.Bool("f32", false, "input samples are float32 (default: float64)")
	qMin := flag.Int("qmin", -20, "smallest QZ level to probe")
	qMax := flag.Int("qmax", 4, "largest QZ level to probe")
	runJ2K := flag.Bool("j2k", false, "also run a lossy JPEG 2000 baseline sweep (2-D only)")
	showVer := flag.Bool("version", false, "show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sperrprobe --dims \"Nx Ny Nz\" [options] <input>\n\n")
		fmt.Fprintf(os.Stderr, "Sweep QZ levels and report rate/distortion.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("sperrprobe version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 || !dimsFlag.set {
		fmt.Fprintln(os.Stderr, "Error: <input> and --dims Nx Ny Nz are required")
		flag.Usage()
		os.Exit(2)
	}

	samples, err := samplesio.ReadFile(args[0], *f32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sperrprobe: reading %s: %v\n", args[0], err)
		os.Exit(1)
	}
	dims := dimsFlag.dims
	n := dims[0] * dims[1] * dims[2]
	if len(samples) != n {
		fmt.Fprintf(os.Stderr, "sperrprobe: file has %d samples, --dims implies %d\n", len(samples), n)
		os.Exit(2)
	}

	fmt.Printf("%-6s %-12s %-10s %-10s\n", "Q", "bytes", "bpp", "PSNR(dB)")
	for q := *qMax; q >= *qMin; q-- {
		level := q
		frame, err := sperr.Compress(samples, sperr.EncodeOptions{Dims: dims, QZLevel: &level})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sperrprobe: Q=%d compress: %v\n", q, err)
			continue
		}
		recon, err := sperr.Decompress(frame, sperr.DecodeOptions{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sperrprobe: Q=%d decompress: %v\n", q, err)
			continue
		}
		bpp := float64(len(frame)*8) / float64(n)
		fmt.Printf("%-6d %-12d %-10.4f %-10.2f\n", q, len(frame), bpp, psnr(samples, recon))
	}

	if *runJ2K {
		if dims[2] != 1 || dims[1] <= 1 {
			fmt.Fprintln(os.Stderr, "sperrprobe: --j2k requires a 2-D input (Nz=1, Ny>1)")
			os.Exit(2)
		}
		runJ2KBaseline(samples, dims)
	}
}

// runJ2KBaseline sweeps go-jpeg2000's lossy Quality knob over a 2-D
// float buffer (quantized to 16-bit grayscale, as go-jpeg2000's public
// Encode/Decode API operates on image.Image) and reports the same
// bpp/PSNR columns as the native sweep, for a side-by-side comparison.
func runJ2KBaseline(samples []float64, dims [3]int) {
	width, height := dims[0], dims[1]
	img, lo, hi := toGray16(samples, width, height)

	fmt.Printf("\nJPEG 2000 baseline (lossy, github.com/mrjoshuak/go-jpeg2000):\n")
	fmt.Printf("%-6s %-12s %-10s %-10s\n", "Q%", "bytes", "bpp", "PSNR(dB)")

	for _, quality := range []int{95, 85, 70, 50, 30} {
		opts := &jpeg2000.Options{
			Format:  jpeg2000.FormatJ2K,
			Quality: quality,
		}
		var buf bytes.Buffer
		if err := jpeg2000.Encode(&buf, img, opts); err != nil {
			fmt.Fprintf(os.Stderr, "sperrprobe: j2k quality=%d encode: %v\n", quality, err)
			continue
		}
		decoded, err := jpeg2000.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "sperrprobe: j2k quality=%d decode: %v\n", quality, err)
			continue
		}
		recon := fromGray16(decoded, lo, hi)
		n := width * height
		bpp := float64(buf.Len()*8) / float64(n)
		fmt.Printf("%-6d %-12d %-10.4f %-10.2f\n", quality, buf.Len(), bpp, psnr(samples, recon))
	}
}

// toGray16 maps a float64 plane linearly onto the full 16-bit grayscale
// range, returning the original [lo, hi] so fromGray16 can invert it.
func toGray16(samples []float64, width, height int) (*image.Gray16, float64, float64) {
	lo, hi := samples[0], samples[0]
	for _, v := range samples {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := samples[y*width+x]
			scaled := uint16((v - lo) / span * 65535)
			img.SetGray16(x, y, color.Gray16{Y: scaled})
		}
	}
	return img, lo, hi
}

func fromGray16(img image.Image, lo, hi float64) []float64 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	span := hi - lo
	if span == 0 {
		span = 1
	}
	out := make([]float64, width*height)
	gray, ok := img.(*image.Gray16)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var v uint16
			if ok {
				v = gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			} else {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				v = uint16(r)
			}
			out[y*width+x] = lo + float64(v)/65535*span
		}
	}
	return out
}

func psnr(original, recon []float64) float64 {
	var sumSq, maxVal float64
	for _, v := range original {
		if av := math.Abs(v); av > maxVal {
			maxVal = av
		}
	}
	for i := range original {
		d := original[i] - recon[i]
		sumSq += d * d
	}
	if sumSq == 0 {
		return 1e9
	}
	mse := sumSq / float64(len(original))
	if maxVal == 0 {
		maxVal = 1
	}
	return 10 * math.Log10(maxVal*maxVal/mse)
}

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
