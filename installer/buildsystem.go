package installer

import (
	"os"
	"path/filepath"
)

// BuildSystem is one row of the build-system detection table: sentinel
// files, the commands tried in order, and the output directories searched
// in order.
type BuildSystem struct {
	Name          string
	Sentinels     []string
	BuildCommands [][]string
	OutputDirs    []string
}

// buildSystems is the detection table, in precedence order.
var buildSystems = []BuildSystem{
	{
		Name:      "typescript",
		Sentinels: []string{"tsconfig.json"},
		BuildCommands: [][]string{
			{"npm", "run", "build"}, {"yarn", "build"}, {"tsc"}, {"bun", "run", "build"},
		},
		OutputDirs: []string{"dist", "build", "lib", "out"},
	},
	{
		Name:      "webpack",
		Sentinels: []string{"webpack.config.js", "webpack.config.ts"},
		BuildCommands: [][]string{
			{"npm", "run", "build"}, {"yarn", "build"}, {"webpack"}, {"bun", "run", "build"},
		},
		OutputDirs: []string{"dist", "build"},
	},
	{
		Name:      "rollup",
		Sentinels: []string{"rollup.config.js", "rollup.config.ts"},
		BuildCommands: [][]string{
			{"npm", "run", "build"}, {"yarn", "build"}, {"rollup", "-c"}, {"bun", "run", "build"},
		},
		OutputDirs: []string{"dist", "build"},
	},
	{
		Name:      "vite",
		Sentinels: []string{"vite.config.js", "vite.config.ts"},
		BuildCommands: [][]string{
			{"npm", "run", "build"}, {"yarn", "build"}, {"vite", "build"}, {"bun", "run", "build"},
		},
		OutputDirs: []string{"dist", "build"},
	},
	{
		Name:      "esbuild",
		Sentinels: []string{"esbuild.config.js", "build.js"},
		BuildCommands: [][]string{
			{"npm", "run", "build"}, {"yarn", "build"}, {"esbuild"}, {"bun", "run", "build"},
		},
		OutputDirs: []string{"dist", "build"},
	},
	{
		Name:      "python",
		Sentinels: []string{"setup.py", "pyproject.toml", "setup.cfg"},
		BuildCommands: [][]string{
			{"pip", "install", "-e", "."}, {"python", "setup.py", "install"}, {"poetry", "install"},
		},
		OutputDirs: []string{"build", "dist"},
	},
	{
		Name:          "rust",
		Sentinels:     []string{"Cargo.toml"},
		BuildCommands: [][]string{{"cargo", "build", "--release"}},
		OutputDirs:    []string{"target/release"},
	},
	{
		Name:          "go",
		Sentinels:     []string{"go.mod"},
		BuildCommands: [][]string{{"go", "build"}, {"go", "install"}},
		OutputDirs:    []string{"bin"},
	},
}

// DetectBuildSystem returns the first table row whose sentinel file exists
// at dir's root.
func DetectBuildSystem(dir string) (BuildSystem, bool) {
	for _, bs := range buildSystems {
		for _, sentinel := range bs.Sentinels {
			if fileExists(filepath.Join(dir, sentinel)) {
				return bs, true
			}
		}
	}
	return BuildSystem{}, false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ProjectKind identifies the project type detected at a source root.
type ProjectKind string

const (
	ProjectNode    ProjectKind = "node"
	ProjectPython  ProjectKind = "python"
	ProjectUnknown ProjectKind = "unknown"
)

// PackageManager is the Node package manager inferred from the lockfile.
type PackageManager string

const (
	PackageManagerNpm  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPnpm PackageManager = "pnpm"
	PackageManagerBun  PackageManager = "bun"
)

// PackageJSON is the subset of package.json fields the pipeline consumes.
type PackageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
	Bin             interface{}       `json:"bin"`
}

// ProjectInfo is the result of the analysis stage.
type ProjectInfo struct {
	Kind           ProjectKind
	PackageManager PackageManager
	PackageJSON    *PackageJSON
	BuildSystem    *BuildSystem
}

func detectPackageManager(dir string) PackageManager {
	switch {
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return PackageManagerYarn
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return PackageManagerPnpm
	case fileExists(filepath.Join(dir, "bun.lockb")):
		return PackageManagerBun
	default:
		return PackageManagerNpm
	}
}

func isPythonProject(dir string) bool {
	for _, f := range []string{"requirements.txt", "setup.py", "pyproject.toml"} {
		if fileExists(filepath.Join(dir, f)) {
			return true
		}
	}
	return false
}
