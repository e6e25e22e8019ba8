package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	gzip "github.com/klauspost/compress/gzip"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarGz(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractTarGzWritesRegularFiles(t *testing.T) {
	archive := writeTarGz(t, map[string]string{"pkg/index.js": "console.log(1)"})
	dest := t.TempDir()
	require.NoError(t, extractTarGz(archive, dest))
	data, err := os.ReadFile(filepath.Join(dest, "pkg", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}

func TestExtractTarGzStripRootDropsTopComponent(t *testing.T) {
	archive := writeTarGz(t, map[string]string{"widget-1.0.0/index.js": "x"})
	dest := t.TempDir()
	require.NoError(t, extractTarGzStripRoot(archive, dest))
	assert.FileExists(t, filepath.Join(dest, "index.js"))
}

func TestExtractTarGzRejectsPathTraversal(t *testing.T) {
	archive := writeTarGz(t, map[string]string{"../../etc/passwd": "evil"})
	dest := t.TempDir()
	err := extractTarGz(archive, dest)
	assert.Error(t, err)
}

func TestExtractZipWritesRegularFiles(t *testing.T) {
	archive := writeZip(t, map[string]string{"pkg/index.js": "console.log(1)"})
	dest := t.TempDir()
	require.NoError(t, extractZip(archive, dest))
	data, err := os.ReadFile(filepath.Join(dest, "pkg", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}

func TestExtractZipRejectsPathTraversal(t *testing.T) {
	archive := writeZip(t, map[string]string{"../../tmp/evil.sh": "evil"})
	dest := t.TempDir()
	err := extractZip(archive, dest)
	assert.Error(t, err)
}

func TestSafeJoinRejectsParentTraversal(t *testing.T) {
	dest := t.TempDir()
	_, err := safeJoin(dest, "../../etc/passwd")
	assert.Error(t, err)
}

func TestSafeJoinAllowsNestedRelativePath(t *testing.T) {
	dest := t.TempDir()
	target, err := safeJoin(dest, "pkg/index.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "pkg", "index.js"), target)
}
