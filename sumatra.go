// Package sumatra tracks the provenance of computational runs: which
// code, parameters and input data produced which results, on which
// machine. Every run leaves a Record in an embedded record store, and
// records can be compared with RecordDifference.
package sumatra

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/timtroendle/sumatra/internal/store"
)

var ErrProjectExists = errors.New("directory is already tracked")
var ErrNotAProject = errors.New("directory is not tracked, run init first")
var ErrProjectClosed = errors.New("project already closed")
var ErrUncommittedChanges = errors.New("code has uncommitted changes")

type Closer func() error

func NullCloser() error { return nil }

// Project is an open, tracked project directory.
type Project struct {
	dir     string
	cfg     *ProjectConfig
	records *RecordStore
	data    DataStore
	input   *FileSystemDataStore
	log     zerolog.Logger
	mu      sync.Mutex
	closed  bool
}

// InitProject starts tracking dir: creates the .smt directory, writes the
// configuration and opens the project.
func InitProject(dir string, cfg *ProjectConfig, log zerolog.Logger) (*Project, Closer, error) {
	smtPath := filepath.Join(dir, smtDir)
	if _, err := os.Stat(smtPath); err == nil {
		return nil, NullCloser, errors.Wrapf(ErrProjectExists, "%s", dir)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, NullCloser, err
	}

	if err := os.MkdirAll(smtPath, 0777); err != nil {
		return nil, NullCloser, errors.Wrapf(err, "could not create %s", smtPath)
	}

	if err := saveProjectConfig(dir, cfg); err != nil {
		return nil, NullCloser, err
	}

	return openProject(dir, cfg, log)
}

// OpenProject opens a directory previously initialized with InitProject.
func OpenProject(dir string, log zerolog.Logger) (*Project, Closer, error) {
	cfg, err := loadProjectConfig(dir)
	if err != nil {
		return nil, NullCloser, err
	}

	return openProject(dir, cfg, log)
}

func openProject(dir string, cfg *ProjectConfig, log zerolog.Logger) (*Project, Closer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, NullCloser, errors.Wrapf(err, "could not resolve %s", dir)
	}

	records, err := OpenRecordStore(filepath.Join(abs, smtDir, recordsFileName), cfg.storeConfig(), log)
	if err != nil {
		return nil, NullCloser, err
	}

	data, err := buildDataStore(abs, cfg, log)
	if err != nil {
		_ = records.Close()
		return nil, NullCloser, err
	}

	inputRoot := cfg.InputDataStoreRoot
	if !filepath.IsAbs(inputRoot) {
		inputRoot = filepath.Join(abs, inputRoot)
	}

	input, err := NewFileSystemDataStore(inputRoot, log)
	if err != nil {
		_ = records.Close()
		return nil, NullCloser, err
	}

	p := &Project{
		dir:     abs,
		cfg:     cfg,
		records: records,
		data:    data,
		input:   input,
		log:     log,
	}

	return p, p.close, nil
}

func buildDataStore(dir string, cfg *ProjectConfig, log zerolog.Logger) (DataStore, error) {
	root := cfg.DataStoreRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	if cfg.ArchiveRoot != "" {
		archiveRoot := cfg.ArchiveRoot
		if !filepath.IsAbs(archiveRoot) {
			archiveRoot = filepath.Join(dir, archiveRoot)
		}
		return NewArchivingFileSystemDataStore(root, archiveRoot, log)
	}

	if cfg.MirrorURL != "" {
		return NewMirroredFileSystemDataStore(root, cfg.MirrorURL, log)
	}

	return NewFileSystemDataStore(root, log)
}

func (p *Project) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProjectClosed
	}

	p.closed = true
	return p.records.Close()
}

func (p *Project) Name() string {
	return p.cfg.Name
}

func (p *Project) Dir() string {
	return p.dir
}

func (p *Project) DataStore() DataStore {
	return p.data
}

func (p *Project) InputDataStore() *FileSystemDataStore {
	return p.input
}

func (p *Project) Records() *RecordStore {
	return p.records
}

// RunOptions parameterize one tracked run.
type RunOptions struct {
	// Executable overrides the project default.
	Executable string
	// MainFile overrides the project default.
	MainFile string
	Arguments []string
	// ParameterFile is parsed, snapshotted onto the record and passed to
	// the command as its last argument.
	ParameterFile string
	// Overrides patch the parameter set; the patched set is written to
	// .smt/parameters/<label> and passed instead of ParameterFile.
	Overrides map[string]interface{}
	// InputData names the run's input files, relative to the input
	// datastore root; each is digested onto the record before launch.
	InputData []string
	Reason    string
	Tags      []string
	// Label overrides the generated label.
	Label      string
	LaunchMode LaunchMode
}

// Run captures the pre-run state, launches the command and stores the
// resulting record. A failing command still yields a stored record; the
// launch error is returned alongside it.
func (p *Project) Run(ctx context.Context, opts RunOptions) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProjectClosed
	}

	exeName := opts.Executable
	if exeName == "" {
		exeName = p.cfg.DefaultExecutable
	}
	if exeName == "" {
		return nil, errors.Wrap(ErrConfigInvalid, "no executable configured and none given")
	}

	exe, err := NewExecutable(exeName)
	if err != nil {
		return nil, err
	}

	mainFile := opts.MainFile
	if mainFile == "" {
		mainFile = p.cfg.DefaultMainFile
	}

	label := opts.Label
	if label == "" {
		label = p.cfg.labelGenerator()(time.Now())
	}

	repoState, err := CaptureRepository(p.dir)
	if err != nil && !errors.Is(err, ErrNotARepository) {
		return nil, err
	}

	if repoState.Dirty && p.cfg.OnChanged == OnChangedError {
		return nil, errors.Wrapf(ErrUncommittedChanges,
			"commit or configure on_changed=%s first", OnChangedStoreDiff)
	}

	params, paramArg, err := p.prepareParameters(label, opts)
	if err != nil {
		return nil, err
	}

	rec, err := NewRecord(label, exe, mainFile, opts.Arguments, opts.Reason)
	if err != nil {
		return nil, err
	}

	rec.Repository = repoState
	rec.Dependencies = FindDependencies(p.dir)
	rec.Parameters = Snapshot(params)
	for _, tag := range opts.Tags {
		rec.AddTag(tag)
	}

	for _, in := range opts.InputData {
		key, err := p.input.KeyFor(in)
		if err != nil {
			return nil, err
		}

		rec.InputData = append(rec.InputData, key)
	}

	lm := opts.LaunchMode
	if lm == nil {
		lm = SerialLaunchMode{}
	}
	rec.LaunchMode = lm.Name()

	// the parameter file rides along as the command's last argument, but
	// is not part of the recorded script arguments
	launchArgs := opts.Arguments
	if paramArg != "" {
		launchArgs = append(append([]string{}, opts.Arguments...), paramArg)
	}

	runErr := p.launch(ctx, rec, lm, mainFile, launchArgs)

	if err := p.records.Save(p.cfg.Name, rec); err != nil {
		return nil, err
	}

	if runErr != nil {
		return rec, runErr
	}

	p.log.Info().
		Str("label", rec.Label).
		Dur("duration", rec.Duration).
		Int("output_files", len(rec.OutputData)).
		Msg("run recorded")

	return rec, nil
}

func (p *Project) launch(ctx context.Context, rec *Record, lm LaunchMode, mainFile string, args []string) error {
	cmdArgs := args
	if mainFile != "" {
		cmdArgs = append([]string{mainFile}, args...)
	}

	buf := newCappedBuffer(maxCapturedOutput)
	started := rec.Timestamp

	duration, runErr := lm.Run(ctx, p.dir, rec.Executable, cmdArgs, buf)
	rec.Duration = duration
	rec.StdoutStderr = buf.String()

	if runErr != nil {
		rec.Outcome = "launch failed: " + runErr.Error()
		p.log.Warn().Str("label", rec.Label).Err(runErr).Msg("run failed")
	}

	newData, err := p.data.FindNewData(started)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not collect new output data")
	} else {
		rec.OutputData = newData
	}

	return runErr
}

func (p *Project) prepareParameters(label string, opts RunOptions) (ParameterSet, string, error) {
	if opts.ParameterFile == "" {
		if len(opts.Overrides) > 0 {
			return nil, "", errors.Wrap(ErrParametersInvalid, "overrides given without a parameter file")
		}

		return nil, "", nil
	}

	path := opts.ParameterFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.dir, path)
	}

	params, err := BuildParameters(path)
	if err != nil {
		return nil, "", err
	}

	if len(opts.Overrides) == 0 {
		return params, opts.ParameterFile, nil
	}

	if err := params.Update(opts.Overrides); err != nil {
		return nil, "", err
	}

	// the patched set is launched from a copy, the original stays intact
	paramDir := filepath.Join(p.dir, smtDir, "parameters")
	if err := os.MkdirAll(paramDir, 0777); err != nil {
		return nil, "", errors.Wrap(err, "could not create parameter directory")
	}

	patched := filepath.Join(paramDir, label+filepath.Ext(opts.ParameterFile))
	if err := params.Save(patched); err != nil {
		return nil, "", err
	}

	return params, patched, nil
}

// restoreParameters materializes a record's parameter snapshot as a file
// under .smt/parameters, so a repeat runs with the recorded parameters
// even when the original parameter file is gone.
func (p *Project) restoreParameters(original *Record) (string, error) {
	ps, err := original.Parameters.ParameterSet()
	if err != nil {
		return "", err
	}

	paramDir := filepath.Join(p.dir, smtDir, "parameters")
	if err := os.MkdirAll(paramDir, 0777); err != nil {
		return "", errors.Wrap(err, "could not create parameter directory")
	}

	path := filepath.Join(paramDir, original.Label+"-repeat"+parameterExt(original.Parameters.Format))
	if err := ps.Save(path); err != nil {
		return "", err
	}

	return path, nil
}

func parameterExt(format string) string {
	switch format {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	}

	return ".param"
}

// Repeat re-runs a recorded computation under a new label and reports how
// the new record differs from the original.
func (p *Project) Repeat(ctx context.Context, label string) (*Record, *RecordDifference, error) {
	original, err := p.records.Get(p.cfg.Name, label)
	if err != nil {
		return nil, nil, err
	}

	opts := RunOptions{
		Executable: original.Executable.Path,
		MainFile:   original.MainFile,
		Arguments:  original.ScriptArguments,
		Reason:     "repeat of " + label,
	}

	for _, in := range original.InputData {
		opts.InputData = append(opts.InputData, in.Path)
	}

	if !original.Parameters.IsZero() {
		paramFile, err := p.restoreParameters(original)
		if err != nil {
			return nil, nil, err
		}

		opts.ParameterFile = paramFile
	}

	rec, runErr := p.Run(ctx, opts)
	if rec == nil {
		return nil, nil, runErr
	}

	rec.Repeats = label
	if err := p.records.update(p.cfg.Name, rec); err != nil {
		return rec, nil, err
	}
	if err := p.records.eng.Tag(store.NewKey(p.cfg.Name, rec.Label),
		store.NewTags().Str(repeatsTag, label)); err != nil {
		return rec, nil, err
	}

	return rec, rec.Difference(original), runErr
}

// Get returns one record by label.
func (p *Project) Get(label string) (*Record, error) {
	return p.records.Get(p.cfg.Name, label)
}

// List returns records matching the query.
func (p *Project) List(ctx context.Context, q *Query) ([]*Record, error) {
	return p.records.List(ctx, p.cfg.Name, q)
}

func (p *Project) Labels(ctx context.Context) ([]string, error) {
	return p.records.Labels(ctx, p.cfg.Name)
}

func (p *Project) MostRecent(ctx context.Context) (*Record, error) {
	return p.records.MostRecent(ctx, p.cfg.Name)
}

func (p *Project) Delete(label string, deleteData bool) error {
	if deleteData {
		rec, err := p.records.Get(p.cfg.Name, label)
		if err != nil {
			return err
		}

		if err := p.data.Delete(rec.OutputData...); err != nil {
			return err
		}
	}

	return p.records.Delete(p.cfg.Name, label)
}

func (p *Project) DeleteByTag(ctx context.Context, tag string) ([]string, error) {
	return p.records.DeleteByTag(ctx, p.cfg.Name, tag)
}

func (p *Project) Tag(label string, tags ...string) error {
	return p.records.Tag(p.cfg.Name, label, tags...)
}

func (p *Project) Untag(label string, tags ...string) error {
	return p.records.Untag(p.cfg.Name, label, tags...)
}

// Comment appends to a record's outcome.
func (p *Project) Comment(label, comment string) error {
	return p.records.SetOutcome(p.cfg.Name, label, comment)
}

// ShowDiff compares two stored records.
func (p *Project) ShowDiff(labelA, labelB string, opts ...DiffOption) (*RecordDifference, error) {
	a, err := p.records.Get(p.cfg.Name, labelA)
	if err != nil {
		return nil, err
	}

	b, err := p.records.Get(p.cfg.Name, labelB)
	if err != nil {
		return nil, err
	}

	return Diff(a, b, opts...), nil
}
