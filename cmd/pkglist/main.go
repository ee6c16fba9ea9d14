// Command pkglist inspects a .pkg archive: listing its entries, or
// extracting one to stdout or a file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/aquariaport/pkgrt/internal/pkgfile"
)

func main() {
	archivePath := pflag.StringP("archive", "a", "", "Path to the .pkg archive.")
	extract := pflag.StringP("extract", "x", "", "Entry path to extract and write to stdout (or --output).")
	outPath := pflag.StringP("output", "o", "", "File to write an extracted entry to, instead of stdout.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()

	if *help || *archivePath == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(*archivePath, *extract, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "pkglist: %v\n", err)
		os.Exit(1)
	}
}

func run(archivePath, extract, outPath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	ar, err := pkgfile.Open(f)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	if extract == "" {
		for _, name := range ar.ListNames() {
			e, _ := ar.Find(name)
			fmt.Printf("%-48s %10d bytes (stored %d, deflated=%v)\n", e.Name, e.FileSize, e.DataLen, e.Deflated)
		}
		return nil
	}

	e, ok := ar.Find(extract)
	if !ok {
		return fmt.Errorf("entry not found: %s", extract)
	}
	payload := make([]byte, e.DataLen)
	if _, err := f.ReadAt(payload, int64(e.Offset)); err != nil && err != io.EOF {
		return fmt.Errorf("reading payload: %w", err)
	}
	if e.Deflated {
		payload, err = pkgfile.Decompress(payload, int(e.FileSize))
		if err != nil {
			return fmt.Errorf("inflating payload: %w", err)
		}
	}

	var w io.Writer = os.Stdout
	if outPath != "" {
		out, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	_, err = w.Write(payload)
	return err
}
