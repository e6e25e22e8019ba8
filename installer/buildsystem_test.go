package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBuildSystemTypescript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte("{}"), 0o644))

	bs, ok := DetectBuildSystem(dir)
	require.True(t, ok)
	assert.Equal(t, "typescript", bs.Name)
}

func TestDetectBuildSystemGo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	bs, ok := DetectBuildSystem(dir)
	require.True(t, ok)
	assert.Equal(t, "go", bs.Name)
}

func TestDetectBuildSystemNone(t *testing.T) {
	dir := t.TempDir()
	_, ok := DetectBuildSystem(dir)
	assert.False(t, ok)
}

func TestDetectPackageManagerFromLockfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pnpm-lock.yaml"), []byte(""), 0o644))
	assert.Equal(t, PackageManagerPnpm, detectPackageManager(dir))
}

func TestIsPythonProject(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, isPythonProject(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(""), 0o644))
	assert.True(t, isPythonProject(dir))
}
