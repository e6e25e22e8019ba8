package installer

import (
	"net/url"
	"strings"
)

// RiskLevel is the aggregate risk classification a security check
// produces.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SecurityResult is the outcome of a source or build-time security check.
type SecurityResult struct {
	OK        bool
	Warnings  []string
	Errors    []string
	RiskLevel RiskLevel
}

// SourcePolicy holds the allow-lists the source security gate checks
// against. The zero value uses DefaultSourcePolicy.
type SourcePolicy struct {
	AllowedDomains    []string
	TrustedPublishers []string
}

// DefaultSourcePolicy matches the pipeline spec's allowed-domain list.
func DefaultSourcePolicy() SourcePolicy {
	return SourcePolicy{
		AllowedDomains: []string{"github.com", "gitlab.com", "bitbucket.org", "npmjs.org", "pypi.org"},
	}
}

var unsafeURLChars = []string{"<", ">", "\"", "|"}

// ValidateSource runs the origin against the allowed-domain list, the
// trusted-publisher list, and the URL-safety rules (no "..", no <>"|,
// length <= 500). Errors are fatal; the trusted-publisher check and
// unknown-domain cases only produce warnings/medium risk.
func (p SourcePolicy) ValidateSource(origin ParsedOrigin) SecurityResult {
	if len(p.AllowedDomains) == 0 {
		p.AllowedDomains = DefaultSourcePolicy().AllowedDomains
	}
	res := SecurityResult{OK: true, RiskLevel: RiskLow}

	raw := origin.Raw
	if len(raw) > 500 {
		res.OK = false
		res.Errors = append(res.Errors, "origin string exceeds 500 characters")
	}
	if strings.Contains(raw, "..") {
		res.OK = false
		res.Errors = append(res.Errors, "origin string contains a path traversal sequence")
	}
	for _, c := range unsafeURLChars {
		if strings.Contains(raw, c) {
			res.OK = false
			res.Errors = append(res.Errors, "origin string contains an unsafe character: "+c)
		}
	}
	if !res.OK {
		res.RiskLevel = RiskHigh
		return res
	}

	host := hostOf(origin)
	if host != "" && !p.isAllowedDomain(host) {
		res.Warnings = append(res.Warnings, "origin host "+host+" is not on the allowed-domain list")
		res.RiskLevel = RiskMedium
	}

	if !p.isTrustedPublisher(origin) {
		res.Warnings = append(res.Warnings, "publisher is not on the trusted-publisher list")
		if res.RiskLevel == RiskLow {
			res.RiskLevel = RiskMedium
		}
	}

	return res
}

func hostOf(origin ParsedOrigin) string {
	candidate := origin.CloneURL
	if candidate == "" {
		candidate = origin.DownloadURL
	}
	if candidate == "" {
		return ""
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return u.Host
}

func (p SourcePolicy) isAllowedDomain(host string) bool {
	for _, d := range p.AllowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (p SourcePolicy) isTrustedPublisher(origin ParsedOrigin) bool {
	if len(p.TrustedPublishers) == 0 {
		return origin.Type == OriginGitHub || origin.Type == OriginGitLab || origin.Type == OriginBitbucket
	}
	for _, pub := range p.TrustedPublishers {
		if strings.Contains(origin.FullName, pub) {
			return true
		}
	}
	return false
}
