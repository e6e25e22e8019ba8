package installer

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gzip "github.com/klauspost/compress/gzip"

	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/runner"
)

// AcquisitionTimeout bounds a single git/npm/pip acquisition subprocess.
const AcquisitionTimeout = 5 * time.Minute

// Acquire implements pipeline stage 3: materialize origin's source into
// dir, which must not already exist (the caller removes any stale
// directory at dir first).
func Acquire(ctx context.Context, origin ParsedOrigin, dir string, run runner.CommandRunner, httpClient *http.Client) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return hosterr.NewInstallError("acquisition", origin.Raw, "create parent directory", err)
	}

	switch origin.Type {
	case OriginGitHub, OriginGitLab, OriginBitbucket, OriginGenericGit:
		return acquireGit(ctx, origin, dir, run)
	case OriginNpm:
		return acquireNpm(ctx, origin, dir, run)
	case OriginPip:
		return acquirePip(ctx, origin, dir, run)
	case OriginTarball:
		return acquireTarball(ctx, origin, dir, httpClient)
	case OriginLocalFile:
		return acquireLocal(origin, dir)
	default:
		return acquireNpm(ctx, origin, dir, run)
	}
}

func wrapInstallErr(stage, url string, err error) error {
	if err == nil {
		return nil
	}
	return hosterr.NewInstallError(stage, url, "acquisition failed", err)
}

func acquireGit(ctx context.Context, origin ParsedOrigin, dir string, run runner.CommandRunner) error {
	args := []string{"clone", "--depth", "1", "--branch", origin.Branch, origin.CloneURL, dir}
	res, err := run.Run(ctx, "", AcquisitionTimeout, "git", args...)
	if err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	if res.ExitCode != 0 {
		return hosterr.NewInstallError("acquisition", origin.Raw, "git clone failed: "+res.Stderr, nil)
	}
	if origin.Subpath != "" {
		return hoistSubtree(dir, origin.Subpath)
	}
	return nil
}

// hoistSubtree moves dir/subpath's contents up to dir, for a git origin
// that names a subdirectory of the repository.
func hoistSubtree(dir, subpath string) error {
	src := filepath.Join(dir, subpath)
	tmp := dir + ".subtree"
	if err := os.Rename(src, tmp); err != nil {
		return hosterr.NewInstallError("acquisition", dir, "hoist subpath", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(tmp, dir)
}

func acquireNpm(ctx context.Context, origin ParsedOrigin, dir string, run runner.CommandRunner) error {
	workDir := filepath.Dir(dir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	spec := origin.Package + "@" + origin.Version
	res, err := run.Run(ctx, workDir, AcquisitionTimeout, "npm", "pack", spec)
	if err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	if res.ExitCode != 0 {
		return hosterr.NewInstallError("acquisition", origin.Raw, "npm pack failed: "+res.Stderr, nil)
	}

	tgzName := strings.TrimSpace(lastLine(res.Stdout))
	tgzPath := filepath.Join(workDir, tgzName)
	extractDir := filepath.Join(workDir, ".npm-extract-"+origin.FullName)
	if err := extractTarGz(tgzPath, extractDir); err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	defer os.RemoveAll(extractDir)
	defer os.Remove(tgzPath)

	return os.Rename(filepath.Join(extractDir, "package"), dir)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

func acquirePip(ctx context.Context, origin ParsedOrigin, dir string, run runner.CommandRunner) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	res, err := run.Run(ctx, "", AcquisitionTimeout, "pip", "download", "--no-deps", "--src", dir, origin.Package)
	if err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	if res.ExitCode != 0 {
		return hosterr.NewInstallError("acquisition", origin.Raw, "pip download failed: "+res.Stderr, nil)
	}
	return nil
}

func acquireTarball(ctx context.Context, origin ParsedOrigin, dir string, httpClient *http.Client) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.DownloadURL, nil)
	if err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return wrapInstallErr("acquisition", origin.Raw, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return hosterr.NewInstallError("acquisition", origin.Raw, "download returned non-200 status", nil)
	}

	tmp, err := os.CreateTemp("", "mcphost-download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if strings.HasSuffix(origin.DownloadURL, ".zip") {
		return extractZip(tmp.Name(), dir)
	}
	return extractTarGzStripRoot(tmp.Name(), dir)
}

func acquireLocal(origin ParsedOrigin, dir string) error {
	return copyDir(origin.Path, dir)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// extractTarGz extracts archivePath (gzip-compressed tar) into destDir,
// preserving the archive's top-level directory structure.
func extractTarGz(archivePath, destDir string) error {
	return extractTarGzWithStrip(archivePath, destDir, 0)
}

// extractTarGzStripRoot extracts archivePath, dropping the first path
// component of every entry (tar -xzf ... --strip-components=1).
func extractTarGzStripRoot(archivePath, destDir string) error {
	return extractTarGzWithStrip(archivePath, destDir, 1)
}

func extractTarGzWithStrip(archivePath, destDir string, strip int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripComponents(hdr.Name, strip)
		if name == "" {
			continue
		}
		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func stripComponents(name string, n int) string {
	parts := strings.Split(filepath.ToSlash(name), "/")
	if len(parts) <= n {
		return ""
	}
	return filepath.Join(parts[n:]...)
}

// safeJoin joins destDir and name, rejecting any entry (via ".." or an
// absolute path) that would resolve outside destDir. Archive sources are
// untrusted input; a tarball or zip from a malicious install origin must
// not be able to write outside the install directory.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination directory", name)
	}
	return target, nil
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
