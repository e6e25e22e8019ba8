package installer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcphost/runtime/hosttypes"
)

// standardEntryNames are the files command derivation looks for under a
// build's output directory.
var standardEntryNames = []string{"index.js", "main.js", "server.js", "app.js"}

// fallbackEntryPoints are tried, in order, across the likely source
// directories when no build output exists.
var fallbackEntryPoints = []string{
	"index.js", "index.ts", "server.js", "server.ts", "main.js", "main.ts", "app.js", "app.ts",
	"src/index.js", "src/index.ts", "src/main.js", "src/main.ts",
	"dist/index.js", "dist/main.js", "build/index.js", "build/main.js", "lib/index.js", "lib/main.js",
}

// DeriveInvocation implements pipeline stage 9: produce the Invocation a
// Session will spawn, from the detected project, the build outcome (if
// any), and package.json metadata.
func DeriveInvocation(sourceDir string, info ProjectInfo, outputDir string) hosttypes.Invocation {
	if outputDir != "" {
		for _, name := range standardEntryNames {
			if fileExists(filepath.Join(outputDir, name)) {
				rel, _ := filepath.Rel(sourceDir, filepath.Join(outputDir, name))
				return hosttypes.Invocation{Command: "node", Args: []string{rel}, Cwd: sourceDir}
			}
		}
	}

	if info.Kind == ProjectNode && info.PackageJSON != nil {
		pkg := info.PackageJSON
		if binName, ok := firstBinName(pkg.Bin); ok {
			return hosttypes.Invocation{Command: "npx", Args: []string{binName}, Cwd: sourceDir}
		}
		if _, ok := pkg.Scripts["start"]; ok {
			return hosttypes.Invocation{Command: "npm", Args: []string{"start"}, Cwd: sourceDir}
		}
		if strings.HasPrefix(pkg.Name, "@") {
			return hosttypes.Invocation{Command: "npx", Args: []string{"-y", pkg.Name}}
		}
	}

	for _, entry := range fallbackEntryPoints {
		full := filepath.Join(sourceDir, entry)
		if !fileExists(full) {
			continue
		}
		cmd := "node"
		if filepath.Ext(entry) == ".ts" {
			cmd = "ts-node"
		}
		return hosttypes.Invocation{Command: cmd, Args: []string{entry}, Cwd: sourceDir}
	}

	return hosttypes.Invocation{Command: "node", Args: []string{"index.js"}, Cwd: sourceDir}
}

// firstBinName extracts a runnable name from package.json's "bin" field,
// which may be a string or an object mapping names to scripts.
func firstBinName(bin interface{}) (string, bool) {
	switch v := bin.(type) {
	case string:
		return filepath.Base(v), v != ""
	case map[string]interface{}:
		for name := range v {
			return name, true
		}
	}
	return "", false
}

func readPackageJSON(dir string) (*PackageJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}
