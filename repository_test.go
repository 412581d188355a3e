package sumatra_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timtroendle/sumatra"
)

func initTestRepo(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0666))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.py")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.org", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestCaptureRepository(t *testing.T) {
	dir, hash := initTestRepo(t)

	state, err := sumatra.CaptureRepository(dir)
	require.NoError(t, err)

	assert.Equal(t, "git", state.Kind)
	assert.Equal(t, hash, state.Version)
	assert.False(t, state.Dirty)
	assert.Empty(t, state.Diff)
	assert.False(t, state.IsZero())

	t.Run("untracked files do not make it dirty", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0666))

		state, err := sumatra.CaptureRepository(dir)
		require.NoError(t, err)
		assert.False(t, state.Dirty)
	})

	t.Run("modified tracked files make it dirty", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('changed')\n"), 0666))

		state, err := sumatra.CaptureRepository(dir)
		require.NoError(t, err)
		assert.True(t, state.Dirty)
		assert.Contains(t, state.Diff, "main.py")
	})
}

func TestCaptureRepository_NotARepository(t *testing.T) {
	_, err := sumatra.CaptureRepository(t.TempDir())
	assert.ErrorIs(t, err, sumatra.ErrNotARepository)
}

func TestCaptureRepository_EmptyRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	state, err := sumatra.CaptureRepository(dir)
	require.NoError(t, err)

	assert.Equal(t, "git", state.Kind)
	assert.Empty(t, state.Version)
	assert.False(t, state.Dirty)
}
