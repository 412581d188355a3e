package sumatra_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timtroendle/sumatra"
)

func baseRecord(label string) *sumatra.Record {
	return &sumatra.Record{
		Label:           label,
		Executable:      sumatra.Executable{Name: "python", Path: "/usr/bin/python", Version: "3.11.2"},
		Repository:      sumatra.RepositoryState{URL: "github.com/x/y", Version: "abc123"},
		MainFile:        "main.py",
		ScriptArguments: []string{"--fast"},
		LaunchMode:      "serial",
		Dependencies: []sumatra.Dependency{
			{Name: "numpy", Version: "1.26.0"},
			{Name: "scipy", Version: "1.11.0"},
		},
		OutputData: []sumatra.DataKey{
			{Path: "out.dat", Digest: "d1"},
			{Path: "run.log", Digest: "d2"},
		},
	}
}

func TestDiff_IdenticalRecords(t *testing.T) {
	d := sumatra.Diff(baseRecord("a"), baseRecord("b"))

	assert.False(t, d.Differs())
	assert.Equal(t, "records a and b are identical", d.String())
}

func TestDiff_Axes(t *testing.T) {
	t.Run("executable version", func(t *testing.T) {
		b := baseRecord("b")
		b.Executable.Version = "3.12.0"

		d := sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.ExecutableDiffers)
		assert.True(t, d.Differs())
		assert.Equal(t, "records a and b differ in: executable", d.String())
	})

	t.Run("code version", func(t *testing.T) {
		b := baseRecord("b")
		b.Repository.Version = "def456"

		d := sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.CodeDiffers)
	})

	t.Run("uncommitted changes", func(t *testing.T) {
		b := baseRecord("b")
		b.Repository.Dirty = true
		b.Repository.Diff = " M main.py"

		d := sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.CodeDiffers)
	})

	t.Run("script arguments", func(t *testing.T) {
		b := baseRecord("b")
		b.ScriptArguments = []string{"--slow"}

		d := sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.ScriptArgumentsDiffer)
	})

	t.Run("launch mode", func(t *testing.T) {
		b := baseRecord("b")
		b.LaunchMode = "distributed"

		d := sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.LaunchModeDiffers)
	})
}

func TestDiff_Parameters(t *testing.T) {
	withParams := func(content string) *sumatra.Record {
		r := baseRecord("r")
		r.Parameters = sumatra.ParameterSnapshot{Format: sumatra.FormatSimple, Content: content}
		return r
	}

	t.Run("same values in different order match", func(t *testing.T) {
		d := sumatra.Diff(withParams("a = 1\nb = 2\n"), withParams("b = 2\na = 1\n"))
		assert.False(t, d.ParametersDiffer)
	})

	t.Run("changed value differs", func(t *testing.T) {
		d := sumatra.Diff(withParams("a = 1\n"), withParams("a = 2\n"))
		assert.True(t, d.ParametersDiffer)
	})

	t.Run("snapshot on one side only differs", func(t *testing.T) {
		d := sumatra.Diff(withParams("a = 1\n"), baseRecord("b"))
		assert.True(t, d.ParametersDiffer)
	})
}

func TestDiff_Dependencies(t *testing.T) {
	a := baseRecord("a")
	b := baseRecord("b")
	b.Dependencies = []sumatra.Dependency{
		{Name: "numpy", Version: "1.26.4"},
		{Name: "pandas", Version: "2.1.0"},
	}

	d := sumatra.Diff(a, b)
	require.True(t, d.DependenciesDiffer)

	diffs := d.DependencyDifferences()
	require.Len(t, diffs, 3)

	assert.Equal(t, sumatra.DependencyDifference{
		Name: "numpy", VersionA: "1.26.0", VersionB: "1.26.4",
	}, diffs[0])
	assert.Equal(t, sumatra.DependencyDifference{
		Name: "pandas", VersionB: "2.1.0",
	}, diffs[1])
	assert.Equal(t, sumatra.DependencyDifference{
		Name: "scipy", VersionA: "1.11.0",
	}, diffs[2])
}

func TestDiff_OutputData(t *testing.T) {
	t.Run("renamed but identical content matches", func(t *testing.T) {
		b := baseRecord("b")
		b.OutputData = []sumatra.DataKey{
			{Path: "renamed.dat", Digest: "d1"},
			{Path: "run.log", Digest: "d2"},
		}

		d := sumatra.Diff(baseRecord("a"), b)
		assert.False(t, d.OutputDataDiffer)
	})

	t.Run("changed content differs", func(t *testing.T) {
		b := baseRecord("b")
		b.OutputData = []sumatra.DataKey{
			{Path: "out.dat", Digest: "changed"},
			{Path: "run.log", Digest: "d2"},
		}

		d := sumatra.Diff(baseRecord("a"), b)
		require.True(t, d.OutputDataDiffer)

		dd := d.OutputDataDifferences()
		require.Len(t, dd.OnlyA, 1)
		require.Len(t, dd.OnlyB, 1)
		assert.Equal(t, "out.dat", dd.OnlyA[0].Path)
		assert.Equal(t, "out.dat", dd.OnlyB[0].Path)
	})

	t.Run("ignored filenames are excluded", func(t *testing.T) {
		b := baseRecord("b")
		b.OutputData = []sumatra.DataKey{
			{Path: "out.dat", Digest: "d1"},
			{Path: "run.log", Digest: "changed"},
		}

		d := sumatra.Diff(baseRecord("a"), b, sumatra.IgnoreFilenames("*.log"))
		assert.False(t, d.OutputDataDiffer)

		d = sumatra.Diff(baseRecord("a"), b)
		assert.True(t, d.OutputDataDiffer)
	})
}
