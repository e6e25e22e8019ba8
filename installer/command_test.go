package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveInvocationPrefersBuildOutputEntry(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "index.js"), []byte("console.log(1)"), 0o644))

	inv := DeriveInvocation(dir, ProjectInfo{Kind: ProjectNode}, out)
	assert.Equal(t, "node", inv.Command)
	assert.Equal(t, []string{filepath.Join("dist", "index.js")}, inv.Args)
}

func TestDeriveInvocationUsesPackageJSONBin(t *testing.T) {
	dir := t.TempDir()
	info := ProjectInfo{Kind: ProjectNode, PackageJSON: &PackageJSON{
		Name: "widget-mcp",
		Bin:  "./cli.js",
	}}
	inv := DeriveInvocation(dir, info, "")
	assert.Equal(t, "npx", inv.Command)
	assert.Equal(t, []string{"cli.js"}, inv.Args)
}

func TestDeriveInvocationUsesNpmStartScript(t *testing.T) {
	dir := t.TempDir()
	info := ProjectInfo{Kind: ProjectNode, PackageJSON: &PackageJSON{
		Name:    "widget-mcp",
		Scripts: map[string]string{"start": "node server.js"},
	}}
	inv := DeriveInvocation(dir, info, "")
	assert.Equal(t, "npm", inv.Command)
	assert.Equal(t, []string{"start"}, inv.Args)
}

func TestDeriveInvocationScopedPackageFallsBackToNpx(t *testing.T) {
	dir := t.TempDir()
	info := ProjectInfo{Kind: ProjectNode, PackageJSON: &PackageJSON{Name: "@acme/widget-mcp"}}
	inv := DeriveInvocation(dir, info, "")
	assert.Equal(t, "npx", inv.Command)
	assert.Equal(t, []string{"-y", "@acme/widget-mcp"}, inv.Args)
}

func TestDeriveInvocationFallsBackToSourceEntryPoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.ts"), []byte("export {}"), 0o644))

	inv := DeriveInvocation(dir, ProjectInfo{Kind: ProjectNode}, "")
	assert.Equal(t, "ts-node", inv.Command)
	assert.Equal(t, []string{"main.ts"}, inv.Args)
}

func TestDeriveInvocationFinalFallback(t *testing.T) {
	dir := t.TempDir()
	inv := DeriveInvocation(dir, ProjectInfo{Kind: ProjectNode}, "")
	assert.Equal(t, "node", inv.Command)
	assert.Equal(t, []string{"index.js"}, inv.Args)
}

func TestFirstBinNameHandlesStringAndMap(t *testing.T) {
	name, ok := firstBinName("./bin/cli.js")
	assert.True(t, ok)
	assert.Equal(t, "cli.js", name)

	name, ok = firstBinName(map[string]interface{}{"widget": "./bin/widget.js"})
	assert.True(t, ok)
	assert.Equal(t, "widget", name)

	_, ok = firstBinName(nil)
	assert.False(t, ok)
}
