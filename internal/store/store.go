package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

var ErrKeyAlreadyExists = errors.New("record key already exists")
var ErrKeyDoesNotExist = errors.New("record key does not exist")
var ErrStoreAlreadyClosed = errors.New("record store already closed")

const castPanic = "how could a primary key item not be of type *entry"

// InMemory opens the engine without a backing log file.
const InMemory = ":memory:"

type Config struct {
	PersistenceStrategy PersistenceStrategy
	AsyncFlushInterval  time.Duration
	DisableAutoVacuum   bool
	AutoVacuumMinDeletes uint64
}

const defaultAutoVacuumMinDeletes uint64 = 100

var defaultAsyncFlushInterval = 1 * time.Second

func (cfg *Config) applyDefaults() {
	if cfg.PersistenceStrategy == "" {
		cfg.PersistenceStrategy = Sync
	}

	if cfg.PersistenceStrategy == Async && cfg.AsyncFlushInterval == 0 {
		cfg.AsyncFlushInterval = defaultAsyncFlushInterval
	}

	if cfg.AutoVacuumMinDeletes == 0 {
		cfg.AutoVacuumMinDeletes = defaultAutoVacuumMinDeletes
	}
}

// Engine is the in-process record store: an in-memory btree over record
// keys plus typed tag indexes, backed by an append-only command log.
type Engine struct {
	logFile      string
	cfg          *Config
	persistence  *persistence
	pks          *btree.BTree
	tags         *tagIndex
	stopCh       chan struct{}
	mu           sync.RWMutex
	totalDeletes uint64
	closed       bool
}

func Open(logFile string, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := &Engine{
		logFile: logFile,
		cfg:     cfg,
		pks:     btree.NewNonConcurrent(byKeys),
		tags:    newTagIndex(),
		stopCh:  make(chan struct{}, 1),
	}

	if err := e.init(); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.logFile == InMemory {
		return nil
	}

	p, err := newPersistence(e.logFile, e.cfg.PersistenceStrategy)
	if err != nil {
		return err
	}
	e.persistence = p

	if err := e.persistence.load(func(d deserializable) error {
		return d.deserialize(e)
	}); err != nil {
		return err
	}

	if e.cfg.PersistenceStrategy == Async {
		go e.asyncFlush(e.cfg.AsyncFlushInterval)
	}

	return nil
}

func (e *Engine) asyncFlush(d time.Duration) {
	t := time.NewTicker(d)

	for {
		select {
		case <-e.stopCh:
			t.Stop()
			return
		case <-t.C:
			e.mu.Lock()
			if e.closed {
				e.mu.Unlock()
				return
			}
			_ = e.persistence.sync()
			e.mu.Unlock()
		}
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStoreAlreadyClosed
	}

	close(e.stopCh)

	if e.persistence != nil {
		if !e.cfg.DisableAutoVacuum && e.totalDeletes > 0 {
			if err := e.runVacuumUnderLock(); err != nil {
				return err
			}
		}

		if err := e.persistence.close(); err != nil {
			return err
		}
	}

	e.pks = nil
	e.tags = nil
	e.persistence = nil
	e.closed = true

	return nil
}

func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.pks.Len()
}

// Insert stores a new record blob; the key must not exist yet.
func (e *Engine) Insert(key Key, value []byte, tags *Tags) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := newEntry(key, value, tags)
	if err := e.putUnderLock(ent, false); err != nil {
		return err
	}

	return e.persistUnderLock(ent)
}

// Update replaces the blob of an existing record, keeping its tags.
func (e *Engine) Update(key Key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.findByKeyUnderLock(key)
	if err != nil {
		return err
	}

	existing.value = value
	return e.persistUnderLock(existing)
}

func (e *Engine) putUnderLock(ent *entry, replace bool) error {
	existing := e.pks.Set(ent)
	if existing != nil {
		prev, ok := existing.(*entry)
		if !ok {
			panic(castPanic)
		}

		if !replace {
			e.pks.Set(prev)
			return errors.Wrapf(ErrKeyAlreadyExists, "key: %s", ent.key.String())
		}

		e.tags.removeEntry(prev)
	}

	if ent.tags != nil {
		for _, name := range ent.tags.Names() {
			v, _ := ent.tags.value(name)
			if err := e.tags.add(name, v, ent); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) Get(key Key) ([]byte, *Tags, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, err := e.findByKeyUnderLock(key)
	if err != nil {
		return nil, nil, err
	}

	return ent.value, ent.tags.clone(), nil
}

func (e *Engine) Has(key Key) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.pks.Get(&entry{key: key}) != nil
}

func (e *Engine) findByKeyUnderLock(key Key) (*entry, error) {
	found := e.pks.Get(&entry{key: key})
	if found == nil {
		return nil, errors.Wrapf(ErrKeyDoesNotExist, "key %s does not exist in store", key.String())
	}

	ent, ok := found.(*entry)
	if !ok {
		panic(castPanic)
	}

	return ent, nil
}

func (e *Engine) Remove(key Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.removeUnderLock(key); err != nil {
		return err
	}

	if e.persistence != nil {
		return e.persistence.save(&deleteCmd{key: key})
	}

	return nil
}

func (e *Engine) removeUnderLock(key Key) error {
	found := e.pks.Get(&entry{key: key})
	if found == nil {
		return errors.Wrapf(ErrKeyDoesNotExist, "key %s does not exist in store", key.String())
	}

	ent, ok := found.(*entry)
	if !ok {
		panic(castPanic)
	}

	e.tags.removeEntry(ent)
	e.pks.Delete(&entry{key: key})
	e.totalDeletes++

	return nil
}

// Tag merges the given tags into the record's tag set.
func (e *Engine) Tag(key Key, tags *Tags) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.tagUnderLock(key, tags); err != nil {
		return err
	}

	if e.persistence != nil {
		return e.persistence.save(&tagCmd{key: key, tags: tags})
	}

	return nil
}

func (e *Engine) tagUnderLock(key Key, tags *Tags) error {
	ent, err := e.findByKeyUnderLock(key)
	if err != nil {
		return err
	}

	if ent.tags == nil {
		ent.tags = NewTags()
	}

	for _, name := range tags.Names() {
		if old, ok := ent.tags.value(name); ok {
			e.tags.removeEntryByTag(name, old, ent.key)
		}

		v, _ := tags.value(name)
		if err := ent.tags.Set(name, v); err != nil {
			return err
		}

		if err := e.tags.add(name, v, ent); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) Untag(key Key, names ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.untagUnderLock(key, names...); err != nil {
		return err
	}

	if e.persistence != nil {
		return e.persistence.save(&untagCmd{key: key, names: names})
	}

	return nil
}

func (e *Engine) untagUnderLock(key Key, names ...string) error {
	ent, err := e.findByKeyUnderLock(key)
	if err != nil {
		return err
	}

	if ent.tags == nil {
		return nil
	}

	for _, name := range names {
		if v, ok := ent.tags.value(name); ok {
			e.tags.removeEntryByTag(name, v, ent.key)
			ent.tags.drop(name)
		}
	}

	return nil
}

func (e *Engine) persistUnderLock(ent *entry) error {
	if e.persistence == nil {
		return nil
	}

	return e.persistence.save(ent)
}

// Vacuum rewrites the log keeping only the live entries.
func (e *Engine) Vacuum() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.persistence == nil {
		return nil
	}

	return e.runVacuumUnderLock()
}

func (e *Engine) runVacuumUnderLock() error {
	rs := &respSerializer{}

	var serr error
	e.pks.Ascend(nil, func(i interface{}) bool {
		ent, ok := i.(*entry)
		if !ok {
			panic(castPanic)
		}

		if serr = ent.serialize(rs); serr != nil {
			return false
		}

		return true
	})

	if serr != nil {
		return serr
	}

	if err := e.persistence.writeAndSwap(rs); err != nil {
		return err
	}

	e.totalDeletes = 0
	return nil
}

// TagFilter selects entries by one tag predicate; all filters of a scan
// must match for an entry to be yielded.
type TagFilter struct {
	name  string
	comp  comparator
	value interface{}
}

func Eq(name string, value interface{}) TagFilter {
	return TagFilter{name: name, comp: equal, value: value}
}

func Gte(name string, value interface{}) TagFilter {
	return TagFilter{name: name, comp: greaterOrEqual, value: value}
}

func Lte(name string, value interface{}) TagFilter {
	return TagFilter{name: name, comp: lessOrEqual, value: value}
}

type Order string

const (
	Ascend  Order = "ASC"
	Descend Order = "DESC"
)

type ScanOptions struct {
	Prefix  string
	Order   Order
	Filters []TagFilter
}

type ScanIterator func(key Key, value []byte, tags *Tags) bool

// Scan iterates entries in key order. Filters are resolved through the tag
// indexes first; the key prefix is checked during the walk.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions, it ScanIterator) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrStoreAlreadyClosed
	}

	var fe *filterEntries
	if len(opts.Filters) > 0 {
		fe = newFilterEntries(len(opts.Filters))
		for _, f := range opts.Filters {
			e.tags.filterEntries(f.name, f.comp, f.value, fe)
		}
	}

	var ctxErr error
	iter := func(i interface{}) bool {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			return false
		}

		ent, ok := i.(*entry)
		if !ok {
			panic(castPanic)
		}

		if !ent.key.HasPrefix(opts.Prefix) {
			return true
		}

		if fe != nil && !fe.exists(ent) {
			return true
		}

		return it(ent.key, ent.value, ent.tags)
	}

	if opts.Order == Descend {
		e.pks.Descend(nil, iter)
	} else {
		e.pks.Ascend(nil, iter)
	}

	return ctxErr
}
