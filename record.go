package sumatra

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

// TimestampFormat is the layout of timestamp based record labels.
const TimestampFormat = "20060102-150405"

var ErrInvalidLabel = errors.New("record label is invalid")

// LabelGenerator produces a new record label for a run starting at t.
type LabelGenerator func(t time.Time) string

func TimestampLabel(t time.Time) string {
	return t.Format(TimestampFormat)
}

func UUIDLabel(_ time.Time) string {
	return uuid.NewString()
}

// ParameterSnapshot preserves the parameter set of a run verbatim, so the
// record stays readable even when the original file is gone.
type ParameterSnapshot struct {
	Format  string `json:"format,omitempty"`
	Content string `json:"content,omitempty"`
}

func (ps ParameterSnapshot) IsZero() bool {
	return ps.Format == "" && ps.Content == ""
}

// ParameterSet reconstructs the parameter set from the snapshot.
func (ps ParameterSnapshot) ParameterSet() (ParameterSet, error) {
	if ps.IsZero() {
		return nil, nil
	}

	return parseParameters([]byte(ps.Content), ps.Format)
}

// Record gathers the provenance of one computational run: what was run,
// with which code, parameters and inputs, on which machine, and what came
// out of it.
type Record struct {
	Label           string              `json:"label"`
	Reason          string              `json:"reason,omitempty"`
	Outcome         string              `json:"outcome,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	Duration        time.Duration       `json:"duration"`
	Executable      Executable          `json:"executable"`
	Repository      RepositoryState     `json:"repository"`
	MainFile        string              `json:"main_file,omitempty"`
	ScriptArguments []string            `json:"script_arguments,omitempty"`
	Parameters      ParameterSnapshot   `json:"parameters,omitempty"`
	InputData       []DataKey           `json:"input_data,omitempty"`
	OutputData      []DataKey           `json:"output_data,omitempty"`
	Dependencies    []Dependency        `json:"dependencies,omitempty"`
	Platform        PlatformInformation `json:"platform"`
	LaunchMode      string              `json:"launch_mode,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	StdoutStderr    string              `json:"stdout_stderr,omitempty"`
	User            string              `json:"user,omitempty"`
	Repeats         string              `json:"repeats,omitempty"`
}

// NewRecord captures the pre-run state of a project directory: platform,
// repository head and working tree, executable version and dependencies.
// The launch itself fills in duration, output data and captured output.
func NewRecord(label string, exe Executable, mainFile string, args []string, reason string) (*Record, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}

	rec := &Record{
		Label:           label,
		Reason:          reason,
		Timestamp:       time.Now(),
		Executable:      exe,
		MainFile:        mainFile,
		ScriptArguments: args,
		Platform:        CapturePlatform(),
		User:            CurrentUser(),
	}

	return rec, nil
}

func validateLabel(label string) error {
	if label == "" {
		return errors.Wrap(ErrInvalidLabel, "label is empty")
	}

	if strings.ContainsAny(label, " \t\r\n") {
		return errors.Wrapf(ErrInvalidLabel, "label %q contains whitespace", label)
	}

	return nil
}

// CommandLine is the command this record ran, or would run.
func (r *Record) CommandLine() string {
	parts := []string{r.Executable.Path}
	if r.MainFile != "" {
		parts = append(parts, r.MainFile)
	}
	parts = append(parts, r.ScriptArguments...)

	return strings.Join(parts, " ")
}

// AddTag adds a tag to the record's sorted tag set. Adding an existing
// tag is a no-op.
func (r *Record) AddTag(tag string) bool {
	i := sort.SearchStrings(r.Tags, tag)
	if i < len(r.Tags) && r.Tags[i] == tag {
		return false
	}

	r.Tags = append(r.Tags, "")
	copy(r.Tags[i+1:], r.Tags[i:])
	r.Tags[i] = tag

	return true
}

func (r *Record) RemoveTag(tag string) bool {
	i := sort.SearchStrings(r.Tags, tag)
	if i >= len(r.Tags) || r.Tags[i] != tag {
		return false
	}

	r.Tags = append(r.Tags[:i], r.Tags[i+1:]...)
	return true
}

func (r *Record) HasTag(tag string) bool {
	i := sort.SearchStrings(r.Tags, tag)
	return i < len(r.Tags) && r.Tags[i] == tag
}

// Repeat clones the record for a re-run under a new label. The clone
// remembers which record it repeats and carries no results yet.
func (r *Record) Repeat(label string) (*Record, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}

	var clone Record
	if err := copier.CopyWithOption(&clone, r, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "could not clone record")
	}

	clone.Label = label
	clone.Reason = "repeat of " + r.Label
	clone.Repeats = r.Label
	clone.Timestamp = time.Now()
	clone.Duration = 0
	clone.Outcome = ""
	clone.OutputData = nil
	clone.StdoutStderr = ""
	clone.Tags = nil

	return &clone, nil
}

// Difference compares this record against another, see RecordDifference.
func (r *Record) Difference(other *Record, opts ...DiffOption) *RecordDifference {
	return Diff(r, other, opts...)
}
