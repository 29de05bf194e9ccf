// sperrd decompresses a frame produced by sperrc back into a raw,
// little-endian floating-point sample buffer.
//
// Usage:
//
//	sperrd [-o OUT] [--f32|--f64] <input>
//
// Flags are read only before <input>: parsing stops at the first
// non-flag argument.
//
// Exit codes:
//
//	0: success
//	1: decompression or I/O error
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
	out := flag.String("o", "", "output file (default: <input>.raw)")
	f32 := flag.Bool("f32", false, "write output samples as 4-byte float32 (default: float64)")
	_ = flag.Bool("f64", true, "write output samples as 8-byte float64 (default)")
	showVer := flag.Bool("version", false, "show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sperrd [options] <input>\n\n")
		fmt.Fprintf(os.Stderr, "Decompress a sperrc-produced frame.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("sperrd version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one input file required")
		flag.Usage()
		os.Exit(2)
	}

	input := args[0]
	outPath := *out
	if outPath == "" {
		outPath = input + ".raw"
	}

	frame, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sperrd: reading %s: %v\n", input, err)
		os.Exit(1)
	}

	samples, err := sperr.Decompress(frame, sperr.DecodeOptions{F32Output: *f32})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sperrd: %v\n", err)
		os.Exit(1)
	}

	if err := samplesio.WriteFile(outPath, samples, *f32); err != nil {
		fmt.Fprintf(os.Stderr, "sperrd: writing %s: %v\n", outPath, err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d bytes -> %d samples\n", input, len(frame), len(samples))
}
