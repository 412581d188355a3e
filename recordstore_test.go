package sumatra_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timtroendle/sumatra"
	"github.com/timtroendle/sumatra/internal/store"
)

const testProject = "myproject"

func openTestRecordStore(t *testing.T, path string) *sumatra.RecordStore {
	t.Helper()

	rs, err := sumatra.OpenRecordStore(path, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	return rs
}

func recordAt(label string, at time.Time) *sumatra.Record {
	return &sumatra.Record{
		Label:      label,
		Timestamp:  at,
		Executable: sumatra.Executable{Name: "python", Path: "/usr/bin/python"},
		MainFile:   "main.py",
	}
}

func TestRecordStore_SaveAndGet(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)

	rec := recordAt("20260824-120000", time.Now())
	rec.Reason = "baseline"
	rec.AddTag("published")

	require.NoError(t, rs.Save(testProject, rec))
	require.Equal(t, 1, rs.Count())

	got, err := rs.Get(testProject, "20260824-120000")
	require.NoError(t, err)
	assert.Equal(t, rec.Label, got.Label)
	assert.Equal(t, "baseline", got.Reason)
	assert.Equal(t, []string{"published"}, got.Tags)

	t.Run("duplicate label", func(t *testing.T) {
		err := rs.Save(testProject, recordAt("20260824-120000", time.Now()))
		assert.ErrorIs(t, err, sumatra.ErrLabelExists)
	})

	t.Run("same label in another project", func(t *testing.T) {
		assert.NoError(t, rs.Save("otherproject", recordAt("20260824-120000", time.Now())))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := rs.Get(testProject, "nope")
		assert.ErrorIs(t, err, sumatra.ErrRecordNotFound)
	})

	t.Run("reserved tags are rejected", func(t *testing.T) {
		rec := recordAt("another", time.Now())
		rec.AddTag("__internal")

		err := rs.Save(testProject, rec)
		assert.ErrorIs(t, err, sumatra.ErrReservedTag)
	})
}

func TestRecordStore_TagAndUntag(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)
	ctx := context.Background()

	require.NoError(t, rs.Save(testProject, recordAt("a", time.Now())))

	require.NoError(t, rs.Tag(testProject, "a", "published", "baseline"))

	got, err := rs.Get(testProject, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline", "published"}, got.Tags)

	recs, err := rs.List(ctx, testProject, sumatra.Q().WithTags("published"))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	t.Run("reserved tag", func(t *testing.T) {
		err := rs.Tag(testProject, "a", "__ts")
		assert.ErrorIs(t, err, sumatra.ErrReservedTag)
	})

	require.NoError(t, rs.Untag(testProject, "a", "published"))

	got, err = rs.Get(testProject, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline"}, got.Tags)

	recs, err = rs.List(ctx, testProject, sumatra.Q().WithTags("published"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordStore_SetOutcome(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)

	require.NoError(t, rs.Save(testProject, recordAt("a", time.Now())))

	require.NoError(t, rs.SetOutcome(testProject, "a", "looks promising"))
	require.NoError(t, rs.SetOutcome(testProject, "a", "checked against paper"))

	got, err := rs.Get(testProject, "a")
	require.NoError(t, err)
	assert.Equal(t, "looks promising\nchecked against paper", got.Outcome)
}

func TestRecordStore_List(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	labels := []string{"20260824-110000", "20260824-120000", "20260824-130000"}
	for i, label := range labels {
		rec := recordAt(label, base.Add(time.Duration(i)*time.Hour))
		if i == 1 {
			rec.AddTag("broken")
		}
		require.NoError(t, rs.Save(testProject, rec))
	}
	require.NoError(t, rs.Save("otherproject", recordAt("20260824-140000", base)))

	listed := func(q *sumatra.Query) []string {
		recs, err := rs.List(ctx, testProject, q)
		require.NoError(t, err)

		got := make([]string, 0, len(recs))
		for _, rec := range recs {
			got = append(got, rec.Label)
		}
		return got
	}

	t.Run("all records of the project", func(t *testing.T) {
		assert.Equal(t, labels, listed(nil))
	})

	t.Run("descending", func(t *testing.T) {
		assert.Equal(t, []string{labels[2], labels[1], labels[0]}, listed(sumatra.Q().Order(sumatra.Descend)))
	})

	t.Run("by tag", func(t *testing.T) {
		assert.Equal(t, []string{labels[1]}, listed(sumatra.Q().WithTags("broken")))
	})

	t.Run("since", func(t *testing.T) {
		assert.Equal(t, labels[1:], listed(sumatra.Q().Since(base.Add(time.Hour))))
	})

	t.Run("until", func(t *testing.T) {
		assert.Equal(t, labels[:2], listed(sumatra.Q().Until(base.Add(time.Hour))))
	})

	t.Run("label prefix", func(t *testing.T) {
		assert.Equal(t, labels, listed(sumatra.Q().LabelPrefix("20260824")))
		assert.Empty(t, listed(sumatra.Q().LabelPrefix("20260825")))
	})

	t.Run("labels", func(t *testing.T) {
		got, err := rs.Labels(ctx, testProject)
		require.NoError(t, err)
		assert.Equal(t, labels, got)
	})

	t.Run("most recent", func(t *testing.T) {
		rec, err := rs.MostRecent(ctx, testProject)
		require.NoError(t, err)
		assert.Equal(t, labels[2], rec.Label)
	})
}

func TestRecordStore_ProjectScopeIsExact(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)
	ctx := context.Background()

	alphaRec := recordAt("r1", time.Now())
	alphaRec.AddTag("obsolete")
	require.NoError(t, rs.Save("alpha", alphaRec))

	alphabetRec := recordAt("r2", time.Now())
	alphabetRec.AddTag("obsolete")
	require.NoError(t, rs.Save("alphabet", alphabetRec))

	t.Run("list", func(t *testing.T) {
		recs, err := rs.List(ctx, "alpha", nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "r1", recs[0].Label)
	})

	t.Run("labels", func(t *testing.T) {
		labels, err := rs.Labels(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, labels)
	})

	t.Run("most recent", func(t *testing.T) {
		rec, err := rs.MostRecent(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, "r1", rec.Label)
	})

	t.Run("delete by tag stays inside the project", func(t *testing.T) {
		deleted, err := rs.DeleteByTag(ctx, "alpha", "obsolete")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, deleted)

		_, err = rs.Get("alphabet", "r2")
		assert.NoError(t, err)
	})
}

func TestRecordStore_Delete(t *testing.T) {
	rs := openTestRecordStore(t, store.InMemory)
	ctx := context.Background()

	for _, label := range []string{"a", "b", "c"} {
		rec := recordAt(label, time.Now())
		if label != "b" {
			rec.AddTag("obsolete")
		}
		require.NoError(t, rs.Save(testProject, rec))
	}

	require.NoError(t, rs.Delete(testProject, "b"))
	_, err := rs.Get(testProject, "b")
	assert.ErrorIs(t, err, sumatra.ErrRecordNotFound)

	t.Run("deleting twice", func(t *testing.T) {
		assert.ErrorIs(t, rs.Delete(testProject, "b"), sumatra.ErrRecordNotFound)
	})

	t.Run("by tag", func(t *testing.T) {
		deleted, err := rs.DeleteByTag(ctx, testProject, "obsolete")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, deleted)
		assert.Equal(t, 0, rs.Count())
	})
}

func TestRecordStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	ctx := context.Background()

	rs, err := sumatra.OpenRecordStore(path, nil, zerolog.Nop())
	require.NoError(t, err)

	rec := recordAt("a", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	rec.Outcome = "done"
	require.NoError(t, rs.Save(testProject, rec))
	require.NoError(t, rs.Tag(testProject, "a", "published"))
	require.NoError(t, rs.Close())

	rs = openTestRecordStore(t, path)

	got, err := rs.Get(testProject, "a")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Outcome)
	assert.Equal(t, []string{"published"}, got.Tags)

	recs, err := rs.List(ctx, testProject, sumatra.Q().WithTags("published"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Label)
}
