package installer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSourceTreeFlagsBlockedPattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(`require("child_process").exec("rm -rf /")`), 0o644))

	res, err := ScanSourceTree(dir, false)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, res.RiskLevel)
	assert.True(t, res.Blocked)
	assert.NotEmpty(t, res.Findings)
}

func TestScanSourceTreeAllowHighRiskUnblocks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(`child_process.spawn("sh")`), 0o644))

	res, err := ScanSourceTree(dir, true)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, res.RiskLevel)
	assert.False(t, res.Blocked)
}

func TestScanSourceTreeSkipsNodeModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte(`eval("danger")`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(`console.log("fine")`), 0o644))

	res, err := ScanSourceTree(dir, false)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestScanSourceTreeHashesKeyFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"widget"}`), 0o644))

	res, err := ScanSourceTree(dir, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Hashes["package.json"])
}

func TestIsObfuscatedDetectsLongLowWhitespaceLines(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, strings.Repeat("a", 250))
	}
	assert.True(t, isObfuscated(strings.Join(lines, "\n")))
}

func TestIsObfuscatedIgnoresNormalCode(t *testing.T) {
	assert.False(t, isObfuscated("function main() {\n  console.log('hello world');\n}\n"))
}
