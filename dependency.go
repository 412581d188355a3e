package sumatra

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dependency is one code dependency of a run, as declared by the project
// manifest at launch time.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source,omitempty"`
}

// FindDependencies reads the project's dependency manifest, currently
// go.mod or requirements.txt, whichever exists. A project without a
// manifest has no captured dependencies.
func FindDependencies(dir string) []Dependency {
	if deps := parseGoMod(filepath.Join(dir, "go.mod")); deps != nil {
		return deps
	}

	if deps := parseRequirements(filepath.Join(dir, "requirements.txt")); deps != nil {
		return deps
	}

	return nil
}

func parseGoMod(path string) []Dependency {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var deps []Dependency
	inRequire := false

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
			continue
		case inRequire && line == ")":
			inRequire = false
			continue
		case strings.HasPrefix(line, "require "):
			line = strings.TrimPrefix(line, "require ")
		case !inRequire:
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "//") {
			continue
		}

		deps = append(deps, Dependency{
			Name:    fields[0],
			Version: fields[1],
			Source:  "go.mod",
		})
	}

	sortDependencies(deps)
	return deps
}

func parseRequirements(path string) []Dependency {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var deps []Dependency
	for _, line := range strings.Split(string(content), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, version, _ := strings.Cut(line, "==")
		deps = append(deps, Dependency{
			Name:    strings.TrimSpace(name),
			Version: strings.TrimSpace(version),
			Source:  "requirements.txt",
		})
	}

	sortDependencies(deps)
	return deps
}

func sortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
}
