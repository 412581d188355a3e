package sumatra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/timtroendle/sumatra/internal/store"
)

var ErrConfigInvalid = errors.New("project configuration is invalid")

// on-changed policies for launching with uncommitted code changes
const (
	OnChangedError     = "error"
	OnChangedStoreDiff = "store-diff"
)

// label generator choices
const (
	LabelTimestamp = "timestamp"
	LabelUUID      = "uuid"
)

const (
	smtDir          = ".smt"
	projectFileName = "project"
	recordsFileName = "records"
)

// ProjectConfig is persisted as JSON at .smt/project.
type ProjectConfig struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	DefaultExecutable string `json:"default_executable,omitempty"`
	DefaultMainFile   string `json:"default_main_file,omitempty"`

	// DataStoreRoot holds run output; ArchiveRoot, when set, turns the
	// datastore into an archiving one. MirrorURL, when set, records a
	// mirror location on every output key.
	DataStoreRoot      string `json:"data_store_root,omitempty"`
	ArchiveRoot        string `json:"archive_root,omitempty"`
	MirrorURL          string `json:"mirror_url,omitempty"`
	InputDataStoreRoot string `json:"input_data_store_root,omitempty"`

	OnChanged      string `json:"on_changed,omitempty"`
	LabelGenerator string `json:"label_generator,omitempty"`

	// record store tuning
	PersistenceStrategy string        `json:"persistence_strategy,omitempty"`
	AsyncFlushInterval  time.Duration `json:"async_flush_interval,omitempty"`
}

func (cfg *ProjectConfig) applyDefaults() error {
	if cfg.Name == "" {
		return errors.Wrap(ErrConfigInvalid, "project name is required")
	}

	if cfg.DataStoreRoot == "" {
		cfg.DataStoreRoot = "data"
	}

	if cfg.InputDataStoreRoot == "" {
		cfg.InputDataStoreRoot = "."
	}

	switch cfg.OnChanged {
	case "":
		cfg.OnChanged = OnChangedError
	case OnChangedError, OnChangedStoreDiff:
	default:
		return errors.Wrapf(ErrConfigInvalid, "unknown on-changed policy %q", cfg.OnChanged)
	}

	switch cfg.LabelGenerator {
	case "":
		cfg.LabelGenerator = LabelTimestamp
	case LabelTimestamp, LabelUUID:
	default:
		return errors.Wrapf(ErrConfigInvalid, "unknown label generator %q", cfg.LabelGenerator)
	}

	switch cfg.PersistenceStrategy {
	case "":
		cfg.PersistenceStrategy = string(store.Sync)
	case string(store.Sync), string(store.Async):
	default:
		return errors.Wrapf(ErrConfigInvalid, "unknown persistence strategy %q", cfg.PersistenceStrategy)
	}

	return nil
}

func (cfg *ProjectConfig) labelGenerator() LabelGenerator {
	if cfg.LabelGenerator == LabelUUID {
		return UUIDLabel
	}

	return TimestampLabel
}

func (cfg *ProjectConfig) storeConfig() *store.Config {
	return &store.Config{
		PersistenceStrategy: store.PersistenceStrategy(cfg.PersistenceStrategy),
		AsyncFlushInterval:  cfg.AsyncFlushInterval,
	}
}

func loadProjectConfig(dir string) (*ProjectConfig, error) {
	path := filepath.Join(dir, smtDir, projectFileName)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrNotAProject, "%s", dir)
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, errors.Wrap(ErrConfigInvalid, err.Error())
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func saveProjectConfig(dir string, cfg *ProjectConfig) error {
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not serialize project configuration")
	}

	path := filepath.Join(dir, smtDir, projectFileName)
	if err := os.WriteFile(path, content, 0666); err != nil {
		return errors.Wrap(err, "could not write project configuration")
	}

	return nil
}
