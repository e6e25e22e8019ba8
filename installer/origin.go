package installer

import (
	"regexp"
	"strings"
)

// OriginType classifies the textual origin string passed to Install.
type OriginType string

const (
	OriginGitHub    OriginType = "github"
	OriginGitLab    OriginType = "gitlab"
	OriginBitbucket OriginType = "bitbucket"
	OriginGenericGit OriginType = "generic-git"
	OriginNpm       OriginType = "npm"
	OriginPip       OriginType = "pip"
	OriginTarball   OriginType = "tarball"
	OriginLocalFile OriginType = "local-file"
	OriginFallback  OriginType = "fallback"
)

// ParsedOrigin is the structured result of classifying a raw origin
// string, per the precedence table in the installer pipeline spec.
type ParsedOrigin struct {
	Type      OriginType
	Raw       string
	CloneURL  string
	Branch    string
	Subpath   string
	Package   string
	Version   string
	Path      string
	DownloadURL string
	// FullName is the {type}/{name} pair the cache key and the install
	// path (~/.vscode/mcp-servers/<type>/<name>) are derived from.
	FullName string
}

// idUnsafeChars matches every character outside the ServerRecord.ID
// alphabet.
var idUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ServerID returns FullName sanitized into the [A-Za-z0-9_-]+ shape
// ServerRecord.ID requires: every other character, including the "/"
// joining the {type}/{name} pair, becomes a dash.
func (o ParsedOrigin) ServerID() string {
	return idUnsafeChars.ReplaceAllString(o.FullName, "-")
}

var (
	githubPattern    = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:/tree/([^/]+))?(?:/(.*))?$`)
	gitlabPattern    = regexp.MustCompile(`^https://gitlab\.com/([^/]+)/([^/]+?)(?:\.git)?(?:/-/tree/([^/]+))?(?:/(.*))?$`)
	bitbucketPattern = regexp.MustCompile(`^https://bitbucket\.org/([^/]+)/([^/]+?)(?:\.git)?(?:/src/([^/]+))?(?:/(.*))?$`)
	genericGitPattern = regexp.MustCompile(`^git\+https?://\S+\.git$`)
	tarballPattern   = regexp.MustCompile(`^https?://\S+\.(tar\.gz|tgz|zip)$`)
	localFilePattern = regexp.MustCompile(`^file://(/\S+)$`)
	npmPrefixPattern = regexp.MustCompile(`^npm:(.+)$`)
	pipPrefixPattern = regexp.MustCompile(`^(?:pip|pypi):(.+)$`)
	// npmNamePattern matches bare or scoped npm identifiers, optionally
	// version-pinned with @version (after the scope, if any).
	npmNamePattern = regexp.MustCompile(`^(@[^/@]+/[^/@]+|[^/@]+)(?:@([^/@]+))?$`)
)

// ClassifyOrigin parses raw into a ParsedOrigin following the precedence
// table: github, gitlab, bitbucket, generic git, npm, pip, tarball, local
// file, fallback (treated as an npm package).
func ClassifyOrigin(raw string) ParsedOrigin {
	raw = strings.TrimSpace(raw)

	if m := githubPattern.FindStringSubmatch(raw); m != nil {
		return gitOrigin(OriginGitHub, raw, m[1], m[2], m[3], m[4])
	}
	if m := gitlabPattern.FindStringSubmatch(raw); m != nil {
		return gitOrigin(OriginGitLab, raw, m[1], m[2], m[3], m[4])
	}
	if m := bitbucketPattern.FindStringSubmatch(raw); m != nil {
		return gitOrigin(OriginBitbucket, raw, m[1], m[2], m[3], m[4])
	}
	if genericGitPattern.MatchString(raw) {
		name := strings.TrimSuffix(raw[strings.LastIndex(raw, "/")+1:], ".git")
		return ParsedOrigin{Type: OriginGenericGit, Raw: raw, CloneURL: strings.TrimPrefix(raw, "git+"), FullName: "generic-git/" + name}
	}
	if m := npmPrefixPattern.FindStringSubmatch(raw); m != nil {
		return npmOrigin(raw, m[1])
	}
	if m := pipPrefixPattern.FindStringSubmatch(raw); m != nil {
		return pipOrigin(raw, m[1])
	}
	if m := tarballPattern.FindStringSubmatch(raw); m != nil {
		name := raw[strings.LastIndex(raw, "/")+1:]
		return ParsedOrigin{Type: OriginTarball, Raw: raw, DownloadURL: raw, FullName: "tarball/" + name}
	}
	if m := localFilePattern.FindStringSubmatch(raw); m != nil {
		name := m[1][strings.LastIndex(m[1], "/")+1:]
		return ParsedOrigin{Type: OriginLocalFile, Raw: raw, Path: m[1], FullName: "local-file/" + name}
	}
	if npmNamePattern.MatchString(raw) && !strings.Contains(raw, "://") {
		return npmOrigin(raw, raw)
	}

	return npmOrigin(raw, raw)
}

func gitOrigin(t OriginType, raw, owner, repo, branch, subpath string) ParsedOrigin {
	if branch == "" {
		branch = "main"
	}
	repo = strings.TrimSuffix(repo, ".git")
	cloneURL := strings.Split(raw, "/tree/")[0]
	cloneURL = strings.Split(cloneURL, "/-/tree/")[0]
	cloneURL = strings.Split(cloneURL, "/src/")[0]
	return ParsedOrigin{
		Type: t, Raw: raw, CloneURL: cloneURL, Branch: branch, Subpath: subpath,
		FullName: string(t) + "/" + owner + "-" + repo,
	}
}

func npmOrigin(raw, spec string) ParsedOrigin {
	version := "latest"
	name := spec
	if m := npmNamePattern.FindStringSubmatch(spec); m != nil {
		name = m[1]
		if m[2] != "" {
			version = m[2]
		}
	}
	return ParsedOrigin{Type: OriginNpm, Raw: raw, Package: name, Version: version, FullName: "npm/" + sanitizeName(name)}
}

func pipOrigin(raw, spec string) ParsedOrigin {
	version := "latest"
	name := spec
	if idx := strings.Index(spec, "=="); idx >= 0 {
		name = spec[:idx]
		version = spec[idx+2:]
	}
	return ParsedOrigin{Type: OriginPip, Raw: raw, Package: name, Version: version, FullName: "pip/" + sanitizeName(name)}
}

func sanitizeName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "@", ""), "/", "-")
}
