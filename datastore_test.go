package sumatra_test

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timtroendle/sumatra"
)

func sha1Of(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T) (*sumatra.FileSystemDataStore, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "data")
	ds, err := sumatra.NewFileSystemDataStore(root, zerolog.Nop())
	require.NoError(t, err)

	return ds, root
}

func TestFileSystemDataStore_CreatesMissingRoot(t *testing.T) {
	_, root := newTestStore(t)

	st, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestFileSystemDataStore_FindNewData(t *testing.T) {
	ds, root := newTestStore(t)

	old := filepath.Join(root, "old.dat")
	require.NoError(t, os.WriteFile(old, []byte("stale"), 0666))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	start := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello"), 0666))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "subdir"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "subdir", "more.dat"), []byte("world"), 0666))

	keys, err := ds.FindNewData(start)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	byPath := make(map[string]sumatra.DataKey, len(keys))
	for _, k := range keys {
		byPath[k.Path] = k
	}

	out, ok := byPath["output.dat"]
	require.True(t, ok)
	assert.Equal(t, sha1Of("hello"), out.Digest)
	assert.EqualValues(t, 5, out.Metadata.Size)

	_, ok = byPath["subdir/more.dat"]
	assert.True(t, ok)

	t.Run("future timestamp finds nothing", func(t *testing.T) {
		keys, err := ds.FindNewData(time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestFileSystemDataStore_SkipsVersionControlDirs(t *testing.T) {
	ds, root := newTestStore(t)

	start := time.Now()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello"), 0666))

	keys, err := ds.FindNewData(start)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "output.dat", keys[0].Path)
}

func TestFileSystemDataStore_KeyFor(t *testing.T) {
	ds, root := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "input.dat"), []byte("payload"), 0666))

	key, err := ds.KeyFor("input.dat")
	require.NoError(t, err)
	assert.Equal(t, "input.dat", key.Path)
	assert.Equal(t, sha1Of("payload"), key.Digest)
	assert.EqualValues(t, 7, key.Metadata.Size)

	t.Run("missing item", func(t *testing.T) {
		_, err := ds.KeyFor("gone.dat")
		assert.ErrorIs(t, err, sumatra.ErrDataKeyDoesNotExist)
	})
}

func TestFileSystemDataStore_GetContent(t *testing.T) {
	ds, root := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello world"), 0666))

	key := sumatra.DataKey{Path: "output.dat", Digest: sha1Of("hello world")}

	t.Run("full content", func(t *testing.T) {
		content, err := ds.GetContent(key, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(content))
	})

	t.Run("truncated content", func(t *testing.T) {
		content, err := ds.GetContent(key, 5)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))
	})

	t.Run("digest mismatch", func(t *testing.T) {
		stale := sumatra.DataKey{Path: "output.dat", Digest: sha1Of("something else")}
		_, err := ds.GetContent(stale, 0)
		assert.ErrorIs(t, err, sumatra.ErrDigestMismatch)
	})

	t.Run("ignored digest skips verification", func(t *testing.T) {
		content, err := ds.GetContent(sumatra.DataKey{Path: "output.dat", Digest: sumatra.IgnoreDigest}, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(content))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ds.GetContent(sumatra.DataKey{Path: "gone.dat", Digest: sumatra.IgnoreDigest}, 0)
		assert.ErrorIs(t, err, sumatra.ErrDataKeyDoesNotExist)
	})
}

func TestFileSystemDataStore_Delete(t *testing.T) {
	ds, root := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello"), 0666))

	require.True(t, ds.ContainsPath("output.dat"))

	key := sumatra.DataKey{Path: "output.dat", Digest: sha1Of("hello")}
	require.NoError(t, ds.Delete(key))
	assert.False(t, ds.ContainsPath("output.dat"))

	t.Run("deleting a missing item is not an error", func(t *testing.T) {
		assert.NoError(t, ds.Delete(key))
	})
}

func TestArchivingFileSystemDataStore(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "data")
	archiveRoot := filepath.Join(base, "archive")

	ds, err := sumatra.NewArchivingFileSystemDataStore(root, archiveRoot, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello"), 0666))

	keys, err := ds.FindNewData(start)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	label := start.Format(sumatra.TimestampFormat) + ".tar.gz"
	assert.Equal(t, label+"/output.dat", keys[0].Path)
	assert.Equal(t, sha1Of("hello"), keys[0].Digest)

	t.Run("original is moved into the archive", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(root, "output.dat"))
		assert.True(t, os.IsNotExist(err))

		_, err = os.Stat(filepath.Join(archiveRoot, label))
		assert.NoError(t, err)
	})

	t.Run("content comes back out of the archive", func(t *testing.T) {
		content, err := ds.GetContent(keys[0], 0)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))

		truncated, err := ds.GetContent(keys[0], 3)
		require.NoError(t, err)
		assert.Equal(t, "hel", string(truncated))
	})

	t.Run("contains archived path", func(t *testing.T) {
		assert.True(t, ds.ContainsPath(keys[0].Path))
		assert.False(t, ds.ContainsPath(label+"/gone.dat"))
	})

	t.Run("single members cannot be deleted", func(t *testing.T) {
		require.NoError(t, ds.Delete(keys[0]))
		assert.True(t, ds.ContainsPath(keys[0].Path))
	})

	t.Run("second archive in the same second keeps its own label", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "more.dat"), []byte("world"), 0666))

		moreKeys, err := ds.FindNewData(start)
		require.NoError(t, err)
		require.Len(t, moreKeys, 1)

		second := start.Format(sumatra.TimestampFormat) + "-2.tar.gz"
		assert.Equal(t, second+"/more.dat", moreKeys[0].Path)

		content, err := ds.GetContent(moreKeys[0], 0)
		require.NoError(t, err)
		assert.Equal(t, "world", string(content))

		// the first archive is left intact
		content, err = ds.GetContent(keys[0], 0)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))
	})

	t.Run("nothing new yields no archive", func(t *testing.T) {
		keys, err := ds.FindNewData(time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestMirroredFileSystemDataStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")

	ds, err := sumatra.NewMirroredFileSystemDataStore(root, "https://data.example.org/myproject", zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(root, "output.dat"), []byte("hello"), 0666))

	keys, err := ds.FindNewData(start)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Equal(t, "https://data.example.org/myproject/output.dat", keys[0].Metadata.Mirror)

	content, err := ds.GetContent(keys[0], 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}
