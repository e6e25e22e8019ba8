package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSourceAllowsKnownDomain(t *testing.T) {
	policy := DefaultSourcePolicy()
	res := policy.ValidateSource(ClassifyOrigin("https://github.com/acme/widget-mcp"))
	assert.True(t, res.OK)
	assert.Equal(t, RiskLow, res.RiskLevel)
}

func TestValidateSourceWarnsOnUnknownDomain(t *testing.T) {
	policy := DefaultSourcePolicy()
	res := policy.ValidateSource(ClassifyOrigin("https://example.com/pkg.tar.gz"))
	assert.True(t, res.OK)
	assert.Equal(t, RiskMedium, res.RiskLevel)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidateSourceRejectsPathTraversal(t *testing.T) {
	policy := DefaultSourcePolicy()
	res := policy.ValidateSource(ParsedOrigin{Raw: "https://github.com/acme/../../etc/passwd"})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Errors)
	assert.Equal(t, RiskHigh, res.RiskLevel)
}

func TestValidateSourceRejectsOverlongOrigin(t *testing.T) {
	policy := DefaultSourcePolicy()
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	res := policy.ValidateSource(ParsedOrigin{Raw: string(long)})
	assert.False(t, res.OK)
}
