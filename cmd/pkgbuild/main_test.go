package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquariaport/pkgrt/internal/pkgfile"
)

func TestRunBuildsArchiveFromManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("goodbye"), 0o644))

	manifestYAML := `
root: ` + dir + `
files:
  - path: a.txt
    name: data/a.txt
    deflate: true
  - path: b.txt
    name: data/b.txt
`
	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestYAML), 0o644))

	outPath := filepath.Join(dir, "out.pkg")
	require.NoError(t, run(manifestPath, outPath))

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()

	ar, err := pkgfile.Open(f)
	require.NoError(t, err)

	e, ok := ar.Find("data/a.txt")
	require.True(t, ok)
	assert.EqualValues(t, 11, e.FileSize)

	_, ok = ar.Find("data/b.txt")
	assert.True(t, ok)
}
