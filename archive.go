package sumatra

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrArchiveFailed = errors.New("archive operation failed")

// ArchivingFileSystemDataStore behaves like a FileSystemDataStore, except
// that new data found after a run is moved into a dated .tar.gz archive
// under a separate archive root. Keys address archive members as
// "<label>.tar.gz/<path>".
type ArchivingFileSystemDataStore struct {
	fs          *FileSystemDataStore
	archiveRoot string
	log         zerolog.Logger
}

func NewArchivingFileSystemDataStore(root, archiveRoot string, log zerolog.Logger) (*ArchivingFileSystemDataStore, error) {
	fs, err := NewFileSystemDataStore(root, log)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(archiveRoot)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveFailed, "could not resolve archive root %s: %s", archiveRoot, err.Error())
	}

	if err := os.MkdirAll(abs, 0777); err != nil {
		return nil, errors.Wrapf(ErrArchiveFailed, "could not create archive root %s: %s", abs, err.Error())
	}

	return &ArchivingFileSystemDataStore{fs: fs, archiveRoot: abs, log: log}, nil
}

func (ds *ArchivingFileSystemDataStore) Root() string {
	return ds.fs.root
}

func (ds *ArchivingFileSystemDataStore) ArchiveRoot() string {
	return ds.archiveRoot
}

func (ds *ArchivingFileSystemDataStore) String() string {
	return ds.fs.root + " (archiving to " + ds.archiveRoot + ")"
}

// FindNewData archives all files modified at or after since into one
// tar.gz labelled with the timestamp, removes the originals, and returns
// keys addressing the archive members.
func (ds *ArchivingFileSystemDataStore) FindNewData(since time.Time) ([]DataKey, error) {
	paths, err := findNewFiles(ds.fs.root, since)
	if err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, nil
	}

	// runs starting within the same second must not overwrite each other
	base := since.Format(TimestampFormat)
	label := base + ".tar.gz"
	archivePath := filepath.Join(ds.archiveRoot, label)
	for n := 2; ; n++ {
		if _, err := os.Stat(archivePath); os.IsNotExist(err) {
			break
		}

		label = fmt.Sprintf("%s-%d.tar.gz", base, n)
		archivePath = filepath.Join(ds.archiveRoot, label)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveFailed, "could not create archive %s: %s", archivePath, err.Error())
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)

	keys := make([]DataKey, 0, len(paths))
	for _, rel := range paths {
		full := filepath.Join(ds.fs.root, rel)

		content, err := os.ReadFile(full)
		if err != nil {
			return nil, errors.Wrapf(ErrArchiveFailed, "could not read %s: %s", rel, err.Error())
		}

		st, err := os.Stat(full)
		if err != nil {
			return nil, errors.Wrapf(ErrArchiveFailed, "could not stat %s: %s", rel, err.Error())
		}

		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0666,
			Size:    int64(len(content)),
			ModTime: st.ModTime(),
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return nil, errors.Wrapf(ErrArchiveFailed, "could not write archive header for %s: %s", rel, err.Error())
		}

		if _, err := tw.Write(content); err != nil {
			return nil, errors.Wrapf(ErrArchiveFailed, "could not archive %s: %s", rel, err.Error())
		}

		keys = append(keys, DataKey{
			Path:   label + "/" + filepath.ToSlash(rel),
			Digest: contentDigest(content),
			Metadata: DataKeyMetadata{
				Size: int64(len(content)),
			},
		})
	}

	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(ErrArchiveFailed, err.Error())
	}

	if err := gzw.Close(); err != nil {
		return nil, errors.Wrap(ErrArchiveFailed, err.Error())
	}

	// originals are superseded by the archive
	for _, rel := range paths {
		if err := os.Remove(filepath.Join(ds.fs.root, rel)); err != nil {
			ds.log.Warn().Str("path", rel).Err(err).Msg("could not remove archived original")
		}
	}

	return keys, nil
}

func (ds *ArchivingFileSystemDataStore) GetContent(key DataKey, maxLength int64) ([]byte, error) {
	archive, inner, ok := splitArchivePath(key.Path)
	if !ok {
		return ds.fs.GetContent(key, maxLength)
	}

	content, err := ds.readArchiveMember(archive, inner)
	if err != nil {
		return nil, err
	}

	if key.Digest != IgnoreDigest && contentDigest(content) != key.Digest {
		return nil, errors.Wrapf(ErrDigestMismatch, "%s", key.Path)
	}

	if maxLength > 0 && int64(len(content)) > maxLength {
		content = content[:maxLength]
	}

	return content, nil
}

func (ds *ArchivingFileSystemDataStore) readArchiveMember(archive, inner string) ([]byte, error) {
	f, err := os.Open(filepath.Join(ds.archiveRoot, archive))
	if err != nil {
		return nil, errors.Wrapf(ErrDataKeyDoesNotExist, "archive %s", archive)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveFailed, "could not read archive %s: %s", archive, err.Error())
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrArchiveFailed, "could not read archive %s: %s", archive, err.Error())
		}

		if hdr.Name == inner {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.Wrapf(ErrArchiveFailed, "could not read member %s: %s", inner, err.Error())
			}

			return content, nil
		}
	}

	return nil, errors.Wrapf(ErrDataKeyDoesNotExist, "%s in archive %s", inner, archive)
}

// Delete removes whole archives when every member key of that archive is
// given; individual members cannot be removed from a tar file.
func (ds *ArchivingFileSystemDataStore) Delete(keys ...DataKey) error {
	for _, key := range keys {
		archive, _, ok := splitArchivePath(key.Path)
		if !ok {
			if err := ds.fs.Delete(key); err != nil {
				return err
			}
			continue
		}

		ds.log.Warn().
			Str("path", key.Path).
			Str("archive", archive).
			Msg("cannot delete a single member from an archive, skipping")
	}

	return nil
}

func (ds *ArchivingFileSystemDataStore) ContainsPath(path string) bool {
	archive, inner, ok := splitArchivePath(path)
	if !ok {
		return ds.fs.ContainsPath(path)
	}

	_, err := ds.readArchiveMember(archive, inner)
	return err == nil
}

// MirroredFileSystemDataStore is a FileSystemDataStore whose content is
// also available from a mirror URL; keys carry the mirrored location in
// their metadata.
type MirroredFileSystemDataStore struct {
	fs        *FileSystemDataStore
	mirrorURL string
}

func NewMirroredFileSystemDataStore(root, mirrorURL string, log zerolog.Logger) (*MirroredFileSystemDataStore, error) {
	fs, err := NewFileSystemDataStore(root, log)
	if err != nil {
		return nil, err
	}

	return &MirroredFileSystemDataStore{fs: fs, mirrorURL: mirrorURL}, nil
}

func (ds *MirroredFileSystemDataStore) String() string {
	return ds.fs.root + " (mirrored at " + ds.mirrorURL + ")"
}

func (ds *MirroredFileSystemDataStore) FindNewData(since time.Time) ([]DataKey, error) {
	keys, err := ds.fs.FindNewData(since)
	if err != nil {
		return nil, err
	}

	for i := range keys {
		keys[i].Metadata.Mirror = ds.mirrorURL + "/" + keys[i].Path
	}

	return keys, nil
}

func (ds *MirroredFileSystemDataStore) GetContent(key DataKey, maxLength int64) ([]byte, error) {
	return ds.fs.GetContent(key, maxLength)
}

func (ds *MirroredFileSystemDataStore) Delete(keys ...DataKey) error {
	return ds.fs.Delete(keys...)
}

func (ds *MirroredFileSystemDataStore) ContainsPath(path string) bool {
	return ds.fs.ContainsPath(path)
}
