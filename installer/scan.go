package installer

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// scannableExtensions are the text file extensions the build-time scan
// reads and tests against blockedPatterns.
var scannableExtensions = map[string]bool{
	".js": true, ".ts": true, ".py": true, ".sh": true, ".bash": true,
	".json": true, ".yaml": true, ".yml": true,
}

var skippedDirs = map[string]bool{
	"node_modules": true, ".git": true, ".vscode": true, "dist": true, "build": true,
}

// blockedPatterns flags dynamic eval/exec, subprocess spawning, recursive
// delete, privilege escalation, and credential-file access.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`child_process`),
	regexp.MustCompile(`\bos\.system\s*\(`),
	regexp.MustCompile(`subprocess\.(Popen|call|run)`),
	regexp.MustCompile(`rm\s+-rf\s+/`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\.ssh/id_rsa`),
	regexp.MustCompile(`\.aws/credentials`),
	regexp.MustCompile(`/etc/shadow`),
}

// Finding is one security scan hit.
type Finding struct {
	File     string
	Rule     string
	Severity RiskLevel
}

// ScanResult aggregates every Finding from the build-time security scan,
// plus the sha-256 digests of the key entry files.
type ScanResult struct {
	Findings  []Finding
	Hashes    map[string]string
	RiskLevel RiskLevel
	Blocked   bool
}

// ScanSourceTree walks dir (skipping node_modules/.git/.vscode/dist/build),
// tests every scannable text file against blockedPatterns, runs the
// obfuscation heuristic, checks package.json scripts/dependencies, and
// hashes the key entry files. allowHighRisk lets a high-risk result
// through without blocking.
func ScanSourceTree(dir string, allowHighRisk bool) (ScanResult, error) {
	result := ScanResult{Hashes: make(map[string]string), RiskLevel: RiskLow}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skippedDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if !scannableExtensions[ext] {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		scanBlockedPatterns(rel, string(data), &result)
		if isObfuscated(string(data)) {
			result.Findings = append(result.Findings, Finding{File: rel, Rule: "obfuscation-heuristic", Severity: RiskMedium})
		}

		if info.Name() == "package.json" {
			scanPackageJSON(rel, data, &result)
		}

		if name := info.Name(); name == "package.json" || name == "index.js" || name == "server.js" || name == "main.js" {
			result.Hashes[name] = sha256Hex(data)
		}
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	for _, f := range result.Findings {
		if f.Severity == RiskHigh && result.RiskLevel != RiskHigh {
			result.RiskLevel = RiskHigh
		} else if f.Severity == RiskMedium && result.RiskLevel == RiskLow {
			result.RiskLevel = RiskMedium
		}
	}
	result.Blocked = result.RiskLevel == RiskHigh && !allowHighRisk
	return result, nil
}

func scanBlockedPatterns(rel, content string, result *ScanResult) {
	for _, pat := range blockedPatterns {
		if pat.MatchString(content) {
			result.Findings = append(result.Findings, Finding{File: rel, Rule: pat.String(), Severity: RiskHigh})
		}
	}
}

func scanPackageJSON(rel string, data []byte, result *ScanResult) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}
	for _, script := range pkg.Scripts {
		scanBlockedPatterns(rel+" (scripts)", script, result)
	}
	for dep := range pkg.Dependencies {
		if strings.Contains(dep, "..") || strings.Contains(dep, "/") {
			result.Findings = append(result.Findings, Finding{File: rel, Rule: "suspicious dependency name: " + dep, Severity: RiskMedium})
		}
	}
}

// isObfuscated applies the heuristic from the pipeline spec: within the
// first 50 lines, a line over 200 characters with fewer than 5 whitespace
// tokens, or with more than 30% special characters, is suspicious; more
// than 3 suspicious lines is an obfuscation finding.
func isObfuscated(content string) bool {
	scanner := bufio.NewScanner(strings.NewReader(content))
	suspicious := 0
	for i := 0; i < 50 && scanner.Scan(); i++ {
		line := scanner.Text()
		if len(line) <= 200 {
			continue
		}
		whitespace := strings.Count(line, " ") + strings.Count(line, "\t")
		special := 0
		for _, r := range line {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
				special++
			}
		}
		ratio := float64(special) / float64(len(line))
		if whitespace < 5 || ratio > 0.3 {
			suspicious++
		}
	}
	return suspicious > 3
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
