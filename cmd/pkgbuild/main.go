// Command pkgbuild packs a directory of files into a .pkg archive
// according to a YAML manifest describing which files to include and
// which should be DEFLATE-compressed.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/aquariaport/pkgrt/internal/pkgfile"
)

// manifestEntry is one line of the build manifest.
type manifestEntry struct {
	Path     string `yaml:"path"`
	Name     string `yaml:"name"`
	Deflate  bool   `yaml:"deflate"`
}

type manifest struct {
	Root  string          `yaml:"root"`
	Files []manifestEntry `yaml:"files"`
}

func main() {
	manifestPath := pflag.StringP("manifest", "m", "", "Build manifest (YAML) listing files to pack.")
	outPath := pflag.StringP("output", "o", "out.pkg", "Path to write the .pkg archive to.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()

	if *help || *manifestPath == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(*manifestPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "pkgbuild: %v\n", err)
		os.Exit(1)
	}
}

func run(manifestPath, outPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	files := make([]pkgfile.SourceFile, 0, len(m.Files))
	for _, e := range m.Files {
		diskPath := e.Path
		if m.Root != "" {
			diskPath = filepath.Join(m.Root, e.Path)
		}
		data, err := os.ReadFile(diskPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", diskPath, err)
		}
		name := e.Name
		if name == "" {
			name = e.Path
		}
		files = append(files, pkgfile.SourceFile{Name: name, Data: data, Deflate: e.Deflate})
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	if err := pkgfile.Build(out, files); err != nil {
		return fmt.Errorf("building archive: %w", err)
	}
	fmt.Printf("wrote %s (%d files)\n", outPath, len(files))
	return nil
}
