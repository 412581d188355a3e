package sumatra_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timtroendle/sumatra"
)

func TestFindDependencies_GoMod(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(`module example.com/sim

go 1.21

require (
	github.com/pkg/errors v0.9.1
	github.com/rs/zerolog v1.31.0 // indirect
)

require github.com/spf13/cobra v1.8.0
`), 0666))

	deps := sumatra.FindDependencies(dir)
	require.Len(t, deps, 3)

	assert.Equal(t, sumatra.Dependency{
		Name: "github.com/pkg/errors", Version: "v0.9.1", Source: "go.mod",
	}, deps[0])
	assert.Equal(t, "github.com/rs/zerolog", deps[1].Name)
	assert.Equal(t, "github.com/spf13/cobra", deps[2].Name)
	assert.Equal(t, "v1.8.0", deps[2].Version)
}

func TestFindDependencies_Requirements(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(`# analysis stack
numpy==1.26.0
scipy==1.11.0

matplotlib
`), 0666))

	deps := sumatra.FindDependencies(dir)
	require.Len(t, deps, 3)

	assert.Equal(t, sumatra.Dependency{
		Name: "matplotlib", Source: "requirements.txt",
	}, deps[0])
	assert.Equal(t, sumatra.Dependency{
		Name: "numpy", Version: "1.26.0", Source: "requirements.txt",
	}, deps[1])
	assert.Equal(t, sumatra.Dependency{
		Name: "scipy", Version: "1.11.0", Source: "requirements.txt",
	}, deps[2])
}

func TestFindDependencies_NoManifest(t *testing.T) {
	assert.Nil(t, sumatra.FindDependencies(t.TempDir()))
}
