package sumatra

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/pkg/errors"
)

var ErrNotARepository = errors.New("directory is not a git working copy")

// RepositoryState is the captured state of the code a run was launched
// from: where it lives, which revision was checked out, and whatever
// uncommitted modifications the working tree carried.
type RepositoryState struct {
	URL     string `json:"url,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Version string `json:"version,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

func (rs RepositoryState) IsZero() bool {
	return rs.URL == "" && rs.Version == ""
}

// CaptureRepository reads the git state of dir. A directory that is not
// under git returns ErrNotARepository; callers tracking unversioned
// projects may ignore it and store a zero state.
func CaptureRepository(dir string) (RepositoryState, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return RepositoryState{}, errors.Wrapf(ErrNotARepository, "%s", dir)
		}

		return RepositoryState{}, errors.Wrapf(err, "could not open repository at %s", dir)
	}

	state := RepositoryState{Kind: "git"}

	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		state.URL = remote.Config().URLs[0]
	} else {
		state.URL = dir
	}

	head, err := repo.Head()
	if err != nil {
		// a repository without commits has no head yet
		return state, nil
	}
	state.Version = head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return state, errors.Wrap(err, "could not open worktree")
	}

	status, err := wt.Status()
	if err != nil {
		return state, errors.Wrap(err, "could not read worktree status")
	}

	state.Diff = trackedChanges(status)
	state.Dirty = state.Diff != ""

	return state, nil
}

// trackedChanges renders the status of modified tracked files. Untracked
// files do not count as uncommitted changes.
func trackedChanges(status git.Status) string {
	var paths []string
	for path, st := range status {
		if st.Worktree == git.Untracked {
			continue
		}
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}

		paths = append(paths, path)
	}

	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		st := status[path]
		fmt.Fprintf(&b, "%c%c %s\n", st.Staging, st.Worktree, path)
	}

	return b.String()
}
