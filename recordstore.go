package sumatra

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/timtroendle/sumatra/internal/store"
)

var ErrLabelExists = errors.New("a record with this label already exists")
var ErrRecordNotFound = errors.New("record not found")
var ErrReservedTag = errors.New("tag names starting with __ are reserved")

// searchable record fields carried as internal store tags
const (
	tsTag      = "__ts"
	repeatsTag = "__repeats"
)

// RecordStore keeps serialized records in an embedded, file backed store
// under a project scoped key space.
type RecordStore struct {
	eng *store.Engine
	log zerolog.Logger
}

// OpenRecordStore opens (or creates) the record log at path. Pass
// store.InMemory as path for an ephemeral store.
func OpenRecordStore(path string, cfg *store.Config, log zerolog.Logger) (*RecordStore, error) {
	eng, err := store.Open(path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not open record store")
	}

	return &RecordStore{eng: eng, log: log}, nil
}

func (rs *RecordStore) Close() error {
	return rs.eng.Close()
}

func (rs *RecordStore) Count() int {
	return rs.eng.Count()
}

// Save stores a new record. Labels are unique per project.
func (rs *RecordStore) Save(project string, rec *Record) error {
	for _, tag := range rec.Tags {
		if strings.HasPrefix(tag, "__") {
			return errors.Wrapf(ErrReservedTag, "%s", tag)
		}
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not serialize record")
	}

	key := store.NewKey(project, rec.Label)
	if err := rs.eng.Insert(key, blob, recordTags(rec)); err != nil {
		if errors.Is(err, store.ErrKeyAlreadyExists) {
			return errors.Wrapf(ErrLabelExists, "%s", rec.Label)
		}

		return err
	}

	rs.log.Debug().Str("project", project).Str("label", rec.Label).Msg("record saved")
	return nil
}

func recordTags(rec *Record) *store.Tags {
	t := store.NewTags().Int(tsTag, int(rec.Timestamp.Unix()))
	if rec.Repeats != "" {
		t.Str(repeatsTag, rec.Repeats)
	}

	for _, tag := range rec.Tags {
		t.Bool(tag, true)
	}

	return t
}

func (rs *RecordStore) Get(project, label string) (*Record, error) {
	blob, _, err := rs.eng.Get(store.NewKey(project, label))
	if err != nil {
		if errors.Is(err, store.ErrKeyDoesNotExist) {
			return nil, errors.Wrapf(ErrRecordNotFound, "%s", label)
		}

		return nil, err
	}

	return unmarshalRecord(blob)
}

func unmarshalRecord(blob []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, errors.Wrap(err, "could not deserialize record")
	}

	return &rec, nil
}

// update re-serializes a mutated record in place, keeping its store tags
// in sync with the record's tag set.
func (rs *RecordStore) update(project string, rec *Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not serialize record")
	}

	return rs.eng.Update(store.NewKey(project, rec.Label), blob)
}

// SetOutcome appends to the record's outcome annotation.
func (rs *RecordStore) SetOutcome(project, label, outcome string) error {
	rec, err := rs.Get(project, label)
	if err != nil {
		return err
	}

	if rec.Outcome == "" {
		rec.Outcome = outcome
	} else {
		rec.Outcome += "\n" + outcome
	}

	return rs.update(project, rec)
}

// Tag adds tags to a record.
func (rs *RecordStore) Tag(project, label string, tags ...string) error {
	rec, err := rs.Get(project, label)
	if err != nil {
		return err
	}

	st := store.NewTags()
	changed := false
	for _, tag := range tags {
		if strings.HasPrefix(tag, "__") {
			return errors.Wrapf(ErrReservedTag, "%s", tag)
		}

		if rec.AddTag(tag) {
			st.Bool(tag, true)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := rs.update(project, rec); err != nil {
		return err
	}

	return rs.eng.Tag(store.NewKey(project, label), st)
}

// Untag removes tags from a record.
func (rs *RecordStore) Untag(project, label string, tags ...string) error {
	rec, err := rs.Get(project, label)
	if err != nil {
		return err
	}

	var removed []string
	for _, tag := range tags {
		if rec.RemoveTag(tag) {
			removed = append(removed, tag)
		}
	}

	if len(removed) == 0 {
		return nil
	}

	if err := rs.update(project, rec); err != nil {
		return err
	}

	return rs.eng.Untag(store.NewKey(project, label), removed...)
}

func (rs *RecordStore) Delete(project, label string) error {
	err := rs.eng.Remove(store.NewKey(project, label))
	if errors.Is(err, store.ErrKeyDoesNotExist) {
		return errors.Wrapf(ErrRecordNotFound, "%s", label)
	}

	return err
}

// DeleteByTag deletes all records of the project carrying the tag and
// returns their labels.
func (rs *RecordStore) DeleteByTag(ctx context.Context, project, tag string) ([]string, error) {
	recs, err := rs.List(ctx, project, Q().WithTags(tag))
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(recs))
	for _, rec := range recs {
		if err := rs.Delete(project, rec.Label); err != nil {
			return labels, err
		}

		labels = append(labels, rec.Label)
	}

	return labels, nil
}

// Labels lists the labels of all records of a project in key order.
func (rs *RecordStore) Labels(ctx context.Context, project string) ([]string, error) {
	var labels []string

	err := rs.eng.Scan(ctx, store.ScanOptions{Prefix: project + ":"}, func(key store.Key, value []byte, _ *store.Tags) bool {
		label := gjson.GetBytes(value, "label").String()
		if label == "" {
			label = key.Label()
		}

		labels = append(labels, label)
		return true
	})
	if err != nil {
		return nil, err
	}

	return labels, nil
}

// MostRecent returns the newest record of the project by start time.
func (rs *RecordStore) MostRecent(ctx context.Context, project string) (*Record, error) {
	var newest *Record
	var newestBlob []byte
	var newestTs int64

	err := rs.eng.Scan(ctx, store.ScanOptions{Prefix: project + ":"}, func(_ store.Key, value []byte, _ *store.Tags) bool {
		ts := gjson.GetBytes(value, "timestamp").Time().Unix()
		if newestBlob == nil || ts > newestTs {
			newestBlob = value
			newestTs = ts
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	if newestBlob == nil {
		return nil, errors.Wrapf(ErrRecordNotFound, "project %s has no records", project)
	}

	newest, err = unmarshalRecord(newestBlob)
	if err != nil {
		return nil, err
	}

	return newest, nil
}

// List returns the project's records matching the query, in label order.
func (rs *RecordStore) List(ctx context.Context, project string, q *Query) ([]*Record, error) {
	if q == nil {
		q = Q()
	}

	var recs []*Record
	var convErr error

	err := rs.eng.Scan(ctx, q.scanOptions(project), func(_ store.Key, value []byte, _ *store.Tags) bool {
		rec, err := unmarshalRecord(value)
		if err != nil {
			convErr = err
			return false
		}

		recs = append(recs, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if convErr != nil {
		return nil, convErr
	}

	return recs, nil
}

// queryable timestamp bound helper used by Query
func unixOf(t time.Time) int {
	return int(t.Unix())
}
