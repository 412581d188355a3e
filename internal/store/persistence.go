package store

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var ErrLogFileWriteFailed = errors.New("record log write failed")
var ErrStorageFailed = errors.New("record storage error")

type PersistenceStrategy string

const (
	Async PersistenceStrategy = "async"
	Sync  PersistenceStrategy = "sync"
)

type persistence struct {
	mu       sync.RWMutex
	strategy PersistenceStrategy
	f        *os.File
	flushes  int
	cursor   int
}

func newPersistence(filepath string, strategy PersistenceStrategy) (*persistence, error) {
	f, err := os.OpenFile(filepath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not open %s: %s", filepath, err.Error())
	}

	return &persistence{f: f, strategy: strategy}, nil
}

func (p *persistence) close() (err error) {
	p.mu.Lock()
	defer func() {
		p.f = nil
		p.mu.Unlock()
	}()

	if err = p.f.Sync(); err != nil {
		return errors.Wrapf(err, "could not sync file %s before closing", p.f.Name())
	}

	if err = p.f.Close(); err != nil {
		return errors.Wrap(err, "could not close record log file")
	}

	return nil
}

func (p *persistence) load(cb func(d deserializable) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.f.Stat(); err != nil {
		return errors.Wrapf(err, "could not collect file %s stats", p.f.Name())
	}

	prs := &parser{}
	r := bufio.NewReader(p.f)

	n, err := prs.parse(r, cb)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// a torn tail from an interrupted write, cut it off
			if tErr := p.f.Truncate(int64(n)); tErr != nil {
				return errors.Wrapf(tErr, "could not truncate file after parse error")
			}
		} else {
			return err
		}
	}

	pos, err := p.f.Seek(int64(n), io.SeekStart)
	if err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not move the cursor: %s", err.Error())
	}

	p.cursor = int(pos)
	return nil
}

func (p *persistence) save(commands ...serializable) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rs := &respSerializer{}
	for _, cmd := range commands {
		if err := cmd.serialize(rs); err != nil {
			return err
		}
	}

	return p.writeUnderLock(rs)
}

func (p *persistence) writeUnderLock(rs *respSerializer) error {
	n, err := p.f.Write(rs.buf.Bytes())
	if err != nil {
		if n > 0 {
			// partial write occurred, roll the file back
			pos, seekErr := p.f.Seek(-int64(n), io.SeekCurrent)
			if seekErr != nil {
				return errors.Wrapf(ErrStorageFailed, "could not seek file %s back by %d: %v", p.f.Name(), n, seekErr)
			}

			if tErr := p.f.Truncate(pos); tErr != nil {
				return errors.Wrapf(tErr, "could not truncate file %s", p.f.Name())
			}
		}

		_ = p.f.Sync()
		return errors.Wrap(ErrLogFileWriteFailed, err.Error())
	}

	if p.strategy == Sync {
		_ = p.f.Sync()
	}

	p.flushes++
	p.cursor += rs.buf.Len()
	return nil
}

func (p *persistence) sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.f.Sync(); err != nil {
		return errors.Wrapf(err, "cannot sync file %s", p.f.Name())
	}

	return nil
}

// writeAndSwap rewrites the whole log into a temporary file and atomically
// swaps it for the current one. Used by vacuum to drop superseded commands.
func (p *persistence) writeAndSwap(rs *respSerializer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tmpName := p.f.Name() + ".tmp"
	tmpF, err := os.Create(tmpName)
	if err != nil {
		return errors.Wrapf(err, "could not create %s file for vacuum", tmpName)
	}

	defer func() {
		_ = tmpF.Close()
		_ = os.RemoveAll(tmpName)
	}()

	expectedLen := rs.buf.Len()
	n, err := tmpF.Write(rs.buf.Bytes())
	if err != nil {
		return errors.Wrapf(err, "vacuum could not write into %s file", tmpName)
	}

	if n != expectedLen {
		return errors.Wrapf(ErrLogFileWriteFailed, "vacuum wrote %d of %d bytes into %s", n, expectedLen, tmpName)
	}

	if err := tmpF.Sync(); err != nil {
		return errors.Wrapf(err, "vacuum could not sync %s", tmpName)
	}

	oldName := p.f.Name()
	if err := p.f.Close(); err != nil {
		return errors.Wrapf(err, "vacuum could not close %s file to swap it", oldName)
	}

	if rnErr := os.Rename(tmpName, oldName); rnErr != nil {
		resultErr := errors.Wrapf(rnErr, "vacuum could not swap %s file for %s", oldName, tmpName)
		p.f, err = os.OpenFile(oldName, os.O_CREATE|os.O_RDWR, 0666)
		if err != nil {
			return errors.Wrapf(resultErr, "and could not reopen old file: %s", err.Error())
		}
		return resultErr
	}

	p.f, err = os.OpenFile(oldName, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return errors.Wrapf(err, "could not reopen swapped file: %s", oldName)
	}

	pos, err := p.f.Seek(int64(n), io.SeekStart)
	if err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not move the cursor in file %s: %s", oldName, err.Error())
	}

	p.cursor = int(pos)
	return nil
}
