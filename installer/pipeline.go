// Package installer is the Installer Pipeline: it turns a textual
// origin (a GitHub URL, an npm package spec, a tarball link, a local path)
// into a runnable Invocation plus a ServerRecord. gomcp ships no installer
// of its own — it's a protocol library, not a host — so this package is
// new relative to gomcp, grounded instead on the origin/config shape
// of the pack's mcpproxy-go-family configs and on gomcp's own
// interface-plus-fake pattern for CommandRunner (runner package).
package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/runner"
	"github.com/mcphost/runtime/store"
)

// EmitFunc publishes a (kind, payload) progress event, the shape every
// pipeline stage reports through.
type EmitFunc func(kind string, payload interface{})

// InstallOptions carries the caller's knobs through the pipeline.
type InstallOptions struct {
	ForceReinstall bool
	AllowHighRisk  bool
	AutoStart      bool
	AutoRetry      bool
	MaxRetries     int
	Extra          map[string]interface{}
}

// DefaultMaxRetries is used when InstallOptions.MaxRetries is zero and
// AutoRetry is set.
const DefaultMaxRetries = 3

// Pipeline runs the 11-stage install pipeline against a root install
// directory.
type Pipeline struct {
	RootDir    string
	Policy     SourcePolicy
	Cache      *Cache
	Run        runner.CommandRunner
	HTTPClient *http.Client
}

// New builds a Pipeline rooted at rootDir (default
// $HOME/.vscode/mcp-servers), backed by kv for cache metadata.
func New(rootDir string, kv store.KVStore) *Pipeline {
	if rootDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			rootDir = filepath.Join(home, ".vscode", "mcp-servers")
		}
	}
	return &Pipeline{
		RootDir: rootDir,
		Policy:  DefaultSourcePolicy(),
		Cache:   NewCache(kv),
		Run:     runner.NewExec(),
	}
}

func (p *Pipeline) emitProgress(emit EmitFunc, stage string, detail map[string]interface{}) {
	if emit == nil {
		return
	}
	payload := map[string]interface{}{"stage": stage}
	for k, v := range detail {
		payload[k] = v
	}
	emit(hosttypes.EventInstallProgress, payload)
}

// Install runs the pipeline for url and returns the resulting ServerRecord.
// On a transient stage failure, if opts.AutoRetry is set the whole pipeline
// re-enters from stage 1, bounded by opts.MaxRetries (default 3) via
// cenkalti/backoff's exponential policy. A security-policy rejection is
// never retried: it depends only on url and the fetched source, not on
// timing, so a retry would just redo the acquisition/build work for the
// same guaranteed outcome.
func (p *Pipeline) Install(ctx context.Context, url string, opts InstallOptions, emit EmitFunc) (hosttypes.ServerRecord, error) {
	if emit != nil {
		emit(hosttypes.EventInstallStarted, map[string]interface{}{"url": url})
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var rec hosttypes.ServerRecord
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		rec, err = p.runOnce(ctx, url, opts, emit)
		var blocked *hosterr.SecurityBlocked
		if errors.As(err, &blocked) {
			// A security-policy rejection is deterministic for this url;
			// retrying the whole pipeline can't change the outcome.
			return backoff.Permanent(err)
		}
		return err
	}

	var bo backoff.BackOff = backoff.NewExponentialBackOff()
	if opts.AutoRetry {
		bo = backoff.WithMaxRetries(bo, uint64(maxRetries))
	} else {
		bo = backoff.WithMaxRetries(bo, 0)
	}
	bo = backoff.WithContext(bo, ctx)

	if err := backoff.Retry(operation, bo); err != nil {
		if emit != nil {
			emit(hosttypes.EventInstallFailed, map[string]interface{}{"url": url, "error": err.Error(), "attempts": attempt})
		}
		return hosttypes.ServerRecord{}, err
	}

	if emit != nil {
		emit(hosttypes.EventInstallCompleted, map[string]interface{}{"url": url, "serverID": rec.ID})
	}
	return rec, nil
}

// runOnce executes pipeline stages 1-10 exactly once.
func (p *Pipeline) runOnce(ctx context.Context, url string, opts InstallOptions, emit EmitFunc) (hosttypes.ServerRecord, error) {
	origin := ClassifyOrigin(url)

	// Stage 1: cache check.
	key := CacheKeyFor(origin, CacheKeyOptions{ForceReinstall: opts.ForceReinstall, AllowHighRisk: opts.AllowHighRisk})
	p.emitProgress(emit, "cache-check", map[string]interface{}{"cacheKey": key})
	if !opts.ForceReinstall {
		if entry, ok, _ := p.Cache.Get(key); ok && entry.Valid(DefaultCacheTTL) {
			return entry.Record, nil
		}
	}

	// Stage 2: source security gate.
	p.emitProgress(emit, "security-gate-source", nil)
	secRes := p.Policy.ValidateSource(origin)
	if !secRes.OK {
		return hosttypes.ServerRecord{}, hosterr.NewSecurityBlocked(string(secRes.RiskLevel), secRes.Errors)
	}

	// Stage 3: acquisition.
	installDir := filepath.Join(p.RootDir, origin.FullName)
	p.emitProgress(emit, "acquisition", map[string]interface{}{"path": installDir})
	if err := os.RemoveAll(installDir); err != nil {
		return hosttypes.ServerRecord{}, hosterr.NewInstallError("acquisition", url, "clear stale install directory", err)
	}
	if err := Acquire(ctx, origin, installDir, p.Run, p.HTTPClient); err != nil {
		return hosttypes.ServerRecord{}, err
	}

	// Stage 4: analysis.
	p.emitProgress(emit, "analysis", nil)
	info, err := p.analyze(installDir)
	if err != nil {
		return hosttypes.ServerRecord{}, err
	}

	// Stage 5: dependency install.
	p.emitProgress(emit, "dependency-install", nil)
	p.installDependencies(ctx, installDir, info)

	// Stage 6: build.
	outputDir := ""
	if info.BuildSystem != nil {
		p.emitProgress(emit, "build", map[string]interface{}{"buildSystem": info.BuildSystem.Name})
		outputDir, err = p.build(ctx, installDir, *info.BuildSystem)
		if err != nil {
			return hosttypes.ServerRecord{}, err
		}
	}

	// Stage 7: build validation.
	if outputDir != "" {
		p.emitProgress(emit, "build-validation", nil)
		if err := validateBuildOutput(outputDir, info.Kind); err != nil {
			return hosttypes.ServerRecord{}, err
		}
	}

	// Stage 8: build-time security scan.
	p.emitProgress(emit, "security-scan-build", nil)
	scanRes, err := ScanSourceTree(installDir, opts.AllowHighRisk)
	if err != nil {
		return hosttypes.ServerRecord{}, hosterr.NewInstallError("security-scan-build", url, "scan failed", err)
	}
	if scanRes.Blocked {
		findings := make([]string, 0, len(scanRes.Findings))
		for _, f := range scanRes.Findings {
			findings = append(findings, fmt.Sprintf("%s: %s", f.File, f.Rule))
		}
		return hosttypes.ServerRecord{}, hosterr.NewSecurityBlocked(string(scanRes.RiskLevel), findings)
	}

	// Stage 9: command derivation.
	p.emitProgress(emit, "command-derivation", nil)
	invocation := DeriveInvocation(installDir, *info, outputDir)

	rec := hosttypes.ServerRecord{
		ID:         origin.ServerID(),
		Name:       origin.FullName,
		Invocation: invocation,
		Method:     installMethodFor(origin),
		InstallURL: url,
		Metadata: hosttypes.ServerMetadata{
			InstallPath:  installDir,
			SecurityRisk: string(maxRisk(secRes.RiskLevel, scanRes.RiskLevel)),
		},
	}

	// Stage 10: cache write.
	p.emitProgress(emit, "cache-write", nil)
	_ = p.Cache.Set(key, CacheEntry{Timestamp: timeNow(), CacheKey: key, Record: rec, InstallPath: installDir})

	return rec, nil
}

func timeNow() time.Time { return time.Now() }

func installMethodFor(origin ParsedOrigin) hosttypes.InstallMethod {
	switch origin.Type {
	case OriginNpm:
		return hosttypes.InstallLegacyNpm
	case OriginPip:
		return hosttypes.InstallLegacyPip
	case OriginGitHub, OriginGitLab, OriginBitbucket, OriginGenericGit:
		return hosttypes.InstallLegacyGit
	default:
		return hosttypes.InstallEnhanced
	}
}

func maxRisk(a, b RiskLevel) RiskLevel {
	rank := map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (p *Pipeline) analyze(dir string) (*ProjectInfo, error) {
	info := &ProjectInfo{Kind: ProjectUnknown}

	pkg, err := readPackageJSON(dir)
	if err != nil {
		return nil, hosterr.NewInstallError("analysis", dir, "read package.json", err)
	}
	if pkg != nil {
		info.Kind = ProjectNode
		info.PackageJSON = pkg
		info.PackageManager = detectPackageManager(dir)
	} else if isPythonProject(dir) {
		info.Kind = ProjectPython
	}

	if bs, ok := DetectBuildSystem(dir); ok {
		info.BuildSystem = &bs
	}
	return info, nil
}

func (p *Pipeline) installDependencies(ctx context.Context, dir string, info *ProjectInfo) {
	switch info.Kind {
	case ProjectNode:
		cmd := string(info.PackageManager)
		_, _ = p.Run.Run(ctx, dir, AcquisitionTimeout, cmd, "install")
	case ProjectPython:
		if fileExists(filepath.Join(dir, "requirements.txt")) {
			_, _ = p.Run.Run(ctx, dir, AcquisitionTimeout, "pip", "install", "-r", "requirements.txt")
		}
		_, _ = p.Run.Run(ctx, dir, AcquisitionTimeout, "pip", "install", "-e", ".")
	}
}

// buildTimeout bounds a single build command (pipeline stage 6's 10-minute
// limit).
const buildTimeout = 10 * time.Minute

func (p *Pipeline) build(ctx context.Context, dir string, bs BuildSystem) (string, error) {
	var lastErr error
	for _, cmd := range bs.BuildCommands {
		res, err := p.Run.Run(ctx, dir, buildTimeout, cmd[0], cmd[1:]...)
		if err != nil {
			lastErr = err
			continue
		}
		if res.ExitCode == 0 {
			for _, out := range bs.OutputDirs {
				candidate := filepath.Join(dir, out)
				if fileExists(candidate) {
					return candidate, nil
				}
			}
			return "", nil
		}
		lastErr = hosterr.NewInstallError("build", dir, "build command exited non-zero: "+res.Stderr, nil)
	}
	if lastErr == nil {
		lastErr = hosterr.NewInstallError("build", dir, "no build command succeeded", nil)
	}
	return "", lastErr
}

func validateBuildOutput(outputDir string, kind ProjectKind) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil || len(entries) == 0 {
		return hosterr.NewInstallError("build-validation", outputDir, "build output directory is missing or empty", err)
	}
	if kind == ProjectNode {
		for _, name := range standardEntryNames {
			if fileExists(filepath.Join(outputDir, name)) {
				return nil
			}
		}
		// Missing a standard entry point is a warning in the pipeline
		// spec, not a failure; nothing further to do here.
	}
	return nil
}

// Remove deletes the installed server's source tree.
func (p *Pipeline) Remove(ctx context.Context, rec hosttypes.ServerRecord, emit EmitFunc) error {
	if rec.Metadata.InstallPath == "" {
		return nil
	}
	return os.RemoveAll(rec.Metadata.InstallPath)
}

// ClearCache drops every cache entry this Pipeline knows the keys for.
// Pipeline doesn't track a key index itself (the Cache is a plain
// store.KVStore-backed map), so this is a no-op until a caller supplies
// explicit keys via Cache.Clear.
func (p *Pipeline) ClearCache() error { return nil }
