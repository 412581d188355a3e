package sumatra

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DiffOption adjusts how two records are compared.
type DiffOption func(*diffOptions)

type diffOptions struct {
	ignoreFilenames []string
}

// IgnoreFilenames excludes output data whose base name matches any of the
// glob patterns from the data comparison.
func IgnoreFilenames(patterns ...string) DiffOption {
	return func(o *diffOptions) {
		o.ignoreFilenames = append(o.ignoreFilenames, patterns...)
	}
}

// DependencyDifference is one dependency that does not match between two
// records. An empty version means the dependency is absent on that side.
type DependencyDifference struct {
	Name     string `json:"name"`
	VersionA string `json:"version_a"`
	VersionB string `json:"version_b"`
}

// DataDifference lists output data keys that distinguish two records,
// compared by content digest.
type DataDifference struct {
	OnlyA []DataKey `json:"only_a,omitempty"`
	OnlyB []DataKey `json:"only_b,omitempty"`
}

// RecordDifference captures, axis by axis, how two run records differ.
// Construct one with Diff or Record.Difference.
type RecordDifference struct {
	A *Record `json:"-"`
	B *Record `json:"-"`

	ExecutableDiffers     bool `json:"executable_differs"`
	CodeDiffers           bool `json:"code_differs"`
	ParametersDiffer      bool `json:"parameters_differ"`
	InputDataDiffer       bool `json:"input_data_differ"`
	ScriptArgumentsDiffer bool `json:"script_arguments_differ"`
	LaunchModeDiffers     bool `json:"launch_mode_differs"`
	DependenciesDiffer    bool `json:"dependencies_differ"`
	OutputDataDiffer      bool `json:"output_data_differ"`

	dependencyDifferences []DependencyDifference
	outputDataDifferences DataDifference
}

// Diff compares two records. All reported lists are sorted, so the result
// is deterministic regardless of capture order.
func Diff(a, b *Record, opts ...DiffOption) *RecordDifference {
	var o diffOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &RecordDifference{A: a, B: b}

	d.ExecutableDiffers = a.Executable.Name != b.Executable.Name ||
		a.Executable.Version != b.Executable.Version

	d.CodeDiffers = a.Repository.URL != b.Repository.URL ||
		a.Repository.Version != b.Repository.Version ||
		a.Repository.Diff != b.Repository.Diff

	d.ParametersDiffer = parametersDiffer(a.Parameters, b.Parameters)
	d.InputDataDiffer = !sameDigests(a.InputData, b.InputData, nil)
	d.ScriptArgumentsDiffer = !equalStrings(a.ScriptArguments, b.ScriptArguments)
	d.LaunchModeDiffers = a.LaunchMode != b.LaunchMode

	d.dependencyDifferences = diffDependencies(a.Dependencies, b.Dependencies)
	d.DependenciesDiffer = len(d.dependencyDifferences) > 0

	d.outputDataDifferences = diffData(a.OutputData, b.OutputData, o.ignoreFilenames)
	d.OutputDataDiffer = len(d.outputDataDifferences.OnlyA) > 0 ||
		len(d.outputDataDifferences.OnlyB) > 0

	return d
}

// Differs reports whether the two records differ on any axis.
func (d *RecordDifference) Differs() bool {
	return d.ExecutableDiffers ||
		d.CodeDiffers ||
		d.ParametersDiffer ||
		d.InputDataDiffer ||
		d.ScriptArgumentsDiffer ||
		d.LaunchModeDiffers ||
		d.DependenciesDiffer ||
		d.OutputDataDiffer
}

func (d *RecordDifference) DependencyDifferences() []DependencyDifference {
	return d.dependencyDifferences
}

func (d *RecordDifference) OutputDataDifferences() DataDifference {
	return d.outputDataDifferences
}

// String renders a short human readable summary of the differing axes.
func (d *RecordDifference) String() string {
	if !d.Differs() {
		return fmt.Sprintf("records %s and %s are identical", d.A.Label, d.B.Label)
	}

	var axes []string
	if d.ExecutableDiffers {
		axes = append(axes, "executable")
	}
	if d.CodeDiffers {
		axes = append(axes, "code")
	}
	if d.ParametersDiffer {
		axes = append(axes, "parameters")
	}
	if d.InputDataDiffer {
		axes = append(axes, "input data")
	}
	if d.ScriptArgumentsDiffer {
		axes = append(axes, "script arguments")
	}
	if d.LaunchModeDiffers {
		axes = append(axes, "launch mode")
	}
	if d.DependenciesDiffer {
		axes = append(axes, "dependencies")
	}
	if d.OutputDataDiffer {
		axes = append(axes, "output data")
	}

	return fmt.Sprintf("records %s and %s differ in: %s",
		d.A.Label, d.B.Label, strings.Join(axes, ", "))
}

func parametersDiffer(a, b ParameterSnapshot) bool {
	if a.IsZero() != b.IsZero() {
		return true
	}

	if a.IsZero() {
		return false
	}

	psA, errA := a.ParameterSet()
	psB, errB := b.ParameterSet()
	if errA != nil || errB != nil {
		// unparseable snapshots fall back to a literal compare
		return a.Content != b.Content
	}

	diff := psA.Diff(psB)
	return !diff.Empty()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func ignored(key DataKey, patterns []string) bool {
	base := filepath.Base(key.Path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}

	return false
}

// sameDigests compares two key sets by content digest only, mirroring the
// original content based comparison: renamed but identical files match.
func sameDigests(a, b []DataKey, ignorePatterns []string) bool {
	digests := func(keys []DataKey) map[string]int {
		m := make(map[string]int)
		for _, k := range keys {
			if ignored(k, ignorePatterns) {
				continue
			}
			m[k.Digest]++
		}
		return m
	}

	da, db := digests(a), digests(b)
	if len(da) != len(db) {
		return false
	}

	for digest, n := range da {
		if db[digest] != n {
			return false
		}
	}

	return true
}

func diffData(a, b []DataKey, ignorePatterns []string) DataDifference {
	var d DataDifference

	digests := func(keys []DataKey) map[string]DataKey {
		m := make(map[string]DataKey)
		for _, k := range keys {
			if ignored(k, ignorePatterns) {
				continue
			}
			m[k.Digest] = k
		}
		return m
	}

	da, db := digests(a), digests(b)

	for digest, k := range da {
		if _, ok := db[digest]; !ok {
			d.OnlyA = append(d.OnlyA, k)
		}
	}

	for digest, k := range db {
		if _, ok := da[digest]; !ok {
			d.OnlyB = append(d.OnlyB, k)
		}
	}

	sort.Slice(d.OnlyA, func(i, j int) bool { return d.OnlyA[i].Path < d.OnlyA[j].Path })
	sort.Slice(d.OnlyB, func(i, j int) bool { return d.OnlyB[i].Path < d.OnlyB[j].Path })

	return d
}

func diffDependencies(a, b []Dependency) []DependencyDifference {
	byName := func(deps []Dependency) map[string]Dependency {
		m := make(map[string]Dependency, len(deps))
		for _, d := range deps {
			m[d.Name] = d
		}
		return m
	}

	da, db := byName(a), byName(b)

	var diffs []DependencyDifference
	for name, depA := range da {
		depB, ok := db[name]
		if !ok {
			diffs = append(diffs, DependencyDifference{Name: name, VersionA: depA.Version})
			continue
		}

		if depA.Version != depB.Version {
			diffs = append(diffs, DependencyDifference{
				Name:     name,
				VersionA: depA.Version,
				VersionB: depB.Version,
			})
		}
	}

	for name, depB := range db {
		if _, ok := da[name]; !ok {
			diffs = append(diffs, DependencyDifference{Name: name, VersionB: depB.Version})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Name < diffs[j].Name })
	return diffs
}
