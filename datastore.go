package sumatra

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrDataKeyDoesNotExist = errors.New("data key does not exist")
var ErrDigestMismatch = errors.New("content digest does not match data key")
var ErrDataStoreFailed = errors.New("datastore operation failed")

// IgnoreDigest skips digest verification when retrieving content.
const IgnoreDigest = "0000000000000000000000000000000000000000"

// directories never picked up as run output
var ignoredDirs = []string{".smt", ".git", ".hg", ".svn", ".bzr"}

// DataKeyMetadata carries descriptive attributes of a data item.
type DataKeyMetadata struct {
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype,omitempty"`
	Mirror   string `json:"mirror,omitempty"`
}

// DataKey identifies one data item by its path relative to a datastore
// root and the sha1 digest of its content.
type DataKey struct {
	Path     string          `json:"path"`
	Digest   string          `json:"digest"`
	Metadata DataKeyMetadata `json:"metadata,omitempty"`
}

func (k DataKey) String() string {
	return k.Path + "(" + k.Digest + ")"
}

// DataStore holds the files produced (or consumed) by runs and hands out
// their content by key.
type DataStore interface {
	// FindNewData returns keys for items created or changed at or after
	// the given time, rounded down to whole seconds.
	FindNewData(since time.Time) ([]DataKey, error)
	// GetContent returns the content behind a key, verifying the digest
	// unless it is IgnoreDigest. maxLength > 0 truncates the content.
	GetContent(key DataKey, maxLength int64) ([]byte, error)
	// Delete removes the items behind the given keys. Missing items are
	// logged, not treated as errors.
	Delete(keys ...DataKey) error
	ContainsPath(path string) bool
	String() string
}

// FileSystemDataStore keeps data as plain files below a root directory.
// The root is created on construction when missing.
type FileSystemDataStore struct {
	root string
	log  zerolog.Logger
}

func NewFileSystemDataStore(root string, log zerolog.Logger) (*FileSystemDataStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(ErrDataStoreFailed, "could not resolve root %s: %s", root, err.Error())
	}

	if err := os.MkdirAll(abs, 0777); err != nil {
		return nil, errors.Wrapf(ErrDataStoreFailed, "could not create root %s: %s", abs, err.Error())
	}

	return &FileSystemDataStore{root: abs, log: log}, nil
}

func (ds *FileSystemDataStore) Root() string {
	return ds.root
}

func (ds *FileSystemDataStore) String() string {
	return ds.root
}

func (ds *FileSystemDataStore) FindNewData(since time.Time) ([]DataKey, error) {
	paths, err := findNewFiles(ds.root, since)
	if err != nil {
		return nil, err
	}

	keys := make([]DataKey, 0, len(paths))
	for _, p := range paths {
		key, err := ds.KeyFor(p)
		if err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// KeyFor digests one item below the root into a DataKey.
func (ds *FileSystemDataStore) KeyFor(relPath string) (DataKey, error) {
	full := filepath.Join(ds.root, relPath)

	st, err := os.Stat(full)
	if err != nil {
		return DataKey{}, errors.Wrapf(ErrDataKeyDoesNotExist, "%s", relPath)
	}

	digest, err := fileDigest(full)
	if err != nil {
		return DataKey{}, err
	}

	return DataKey{
		Path:   filepath.ToSlash(relPath),
		Digest: digest,
		Metadata: DataKeyMetadata{
			Size:     st.Size(),
			Mimetype: mime.TypeByExtension(filepath.Ext(relPath)),
		},
	}, nil
}

func (ds *FileSystemDataStore) GetContent(key DataKey, maxLength int64) ([]byte, error) {
	full := filepath.Join(ds.root, filepath.FromSlash(key.Path))

	if key.Digest != IgnoreDigest {
		digest, err := fileDigest(full)
		if err != nil {
			return nil, err
		}

		if digest != key.Digest {
			return nil, errors.Wrapf(ErrDigestMismatch, "%s", key.Path)
		}
	}

	return readContent(full, maxLength)
}

func (ds *FileSystemDataStore) Delete(keys ...DataKey) error {
	for _, key := range keys {
		full := filepath.Join(ds.root, filepath.FromSlash(key.Path))
		if _, err := os.Stat(full); err != nil {
			ds.log.Warn().Str("path", key.Path).Msg("tried to delete data item, but it does not exist")
			continue
		}

		if err := os.Remove(full); err != nil {
			return errors.Wrapf(ErrDataStoreFailed, "could not delete %s: %s", key.Path, err.Error())
		}
	}

	return nil
}

func (ds *FileSystemDataStore) ContainsPath(path string) bool {
	st, err := os.Stat(filepath.Join(ds.root, filepath.FromSlash(path)))
	return err == nil && st.Mode().IsRegular()
}

// findNewFiles walks root and returns relative paths of regular files
// modified at or after since. The mtime comparison is rounded down to
// whole seconds; concurrently running computations should each use their
// own datastore root.
func findNewFiles(root string, since time.Time) ([]string, error) {
	since = since.Truncate(time.Second)

	var found []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			for _, ig := range ignoredDirs {
				if d.Name() == ig && path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if !info.ModTime().Before(since) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			found = append(found, rel)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrDataStoreFailed, "could not walk %s: %s", root, err.Error())
	}

	return found, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(ErrDataKeyDoesNotExist, "%s", path)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(ErrDataStoreFailed, "could not digest %s: %s", path, err.Error())
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readContent(path string, maxLength int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDataKeyDoesNotExist, "%s", path)
	}
	defer f.Close()

	if maxLength > 0 {
		content := make([]byte, maxLength)
		n, err := io.ReadFull(f, content)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrapf(ErrDataStoreFailed, "could not read %s: %s", path, err.Error())
		}

		return content[:n], nil
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(ErrDataStoreFailed, "could not read %s: %s", path, err.Error())
	}

	return content, nil
}

func contentDigest(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func splitArchivePath(path string) (archive, inner string, ok bool) {
	idx := strings.Index(path, ".tar.gz/")
	if idx < 0 {
		return "", "", false
	}

	return path[:idx+len(".tar.gz")], path[idx+len(".tar.gz/"):], true
}
