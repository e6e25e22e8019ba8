package installer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOriginGitHub(t *testing.T) {
	o := ClassifyOrigin("https://github.com/acme/widget-mcp")
	assert.Equal(t, OriginGitHub, o.Type)
	assert.Equal(t, "main", o.Branch)
	assert.Equal(t, "https://github.com/acme/widget-mcp", o.CloneURL)
}

func TestClassifyOriginGitHubWithBranchAndSubpath(t *testing.T) {
	o := ClassifyOrigin("https://github.com/acme/widget-mcp/tree/dev/packages/server")
	assert.Equal(t, OriginGitHub, o.Type)
	assert.Equal(t, "dev", o.Branch)
	assert.Equal(t, "packages/server", o.Subpath)
}

func TestClassifyOriginNpmScopedWithVersion(t *testing.T) {
	o := ClassifyOrigin("npm:@acme/widget-mcp@1.2.3")
	assert.Equal(t, OriginNpm, o.Type)
	assert.Equal(t, "@acme/widget-mcp", o.Package)
	assert.Equal(t, "1.2.3", o.Version)
}

func TestClassifyOriginPipWithVersion(t *testing.T) {
	o := ClassifyOrigin("pip:widget-mcp==0.4.0")
	assert.Equal(t, OriginPip, o.Type)
	assert.Equal(t, "widget-mcp", o.Package)
	assert.Equal(t, "0.4.0", o.Version)
}

func TestClassifyOriginTarball(t *testing.T) {
	o := ClassifyOrigin("https://example.com/releases/widget-mcp.tar.gz")
	assert.Equal(t, OriginTarball, o.Type)
}

func TestClassifyOriginLocalFile(t *testing.T) {
	o := ClassifyOrigin("file:///home/user/widget-mcp")
	assert.Equal(t, OriginLocalFile, o.Type)
	assert.Equal(t, "/home/user/widget-mcp", o.Path)
}

func TestClassifyOriginFallsBackToNpm(t *testing.T) {
	o := ClassifyOrigin("widget-mcp")
	assert.Equal(t, OriginNpm, o.Type)
	assert.Equal(t, "widget-mcp", o.Package)
	assert.Equal(t, "latest", o.Version)
}

func TestServerIDStripsSlashFromFullName(t *testing.T) {
	o := ClassifyOrigin("https://github.com/acme/widget-mcp")
	assert.Contains(t, o.FullName, "/")
	assert.NotContains(t, o.ServerID(), "/")
	assert.Equal(t, "github-acme-widget-mcp", o.ServerID())
}

func TestServerIDMatchesRegistryIDPattern(t *testing.T) {
	idPattern := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	for _, raw := range []string{
		"https://github.com/acme/widget-mcp",
		"npm:@acme/widget-mcp@1.2.3",
		"pip:widget-mcp==0.4.0",
		"https://example.com/releases/widget-mcp.tar.gz",
		"file:///home/user/widget-mcp",
		"git+https://example.com/acme/widget-mcp.git",
	} {
		o := ClassifyOrigin(raw)
		assert.True(t, idPattern.MatchString(o.ServerID()), "ServerID() for %q was %q", raw, o.ServerID())
	}
}
