package sumatra

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrExecutableNotFound = errors.New("executable not found")

// Executable identifies the program a run is launched with.
type Executable struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version string `json:"version,omitempty"`
	Options string `json:"options,omitempty"`
}

// NewExecutable resolves the program on PATH and probes its version with
// a --version call. A program that does not answer the probe keeps an
// empty version, that is not an error.
func NewExecutable(nameOrPath string) (Executable, error) {
	path, err := exec.LookPath(nameOrPath)
	if err != nil {
		return Executable{}, errors.Wrapf(ErrExecutableNotFound, "%s", nameOrPath)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	exe := Executable{
		Name: filepath.Base(path),
		Path: path,
	}
	exe.Version = probeVersion(path)

	return exe, nil
}

func probeVersion(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return ""
	}

	line := strings.TrimSpace(string(out))
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}

	// keep only the last whitespace separated token that looks like a
	// version, otherwise the whole first line
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.TrimPrefix(fields[i], "v")
		if len(f) > 0 && f[0] >= '0' && f[0] <= '9' && strings.Contains(f, ".") {
			return fields[i]
		}
	}

	return line
}
