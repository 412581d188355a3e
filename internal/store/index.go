package store

import (
	"github.com/pkg/errors"
	btr "github.com/tidwall/btree"
)

var ErrInvalidIndexType = errors.New("invalid index type")

const invalidTagCast = "tag index item has an unexpected type"

type comparator uint8

const (
	equal comparator = iota
	greaterOrEqual
	lessOrEqual
)

type entryContainer interface {
	setEntry(ent *entry)
	removeEntry(key Key)
	getEntries() map[string]*entry
}

type boolTag struct {
	value   bool
	entries map[string]*entry
}

func newBoolTag(v bool) *boolTag {
	return &boolTag{value: v, entries: make(map[string]*entry)}
}

func (t *boolTag) setEntry(ent *entry)           { t.entries[ent.key.String()] = ent }
func (t *boolTag) removeEntry(key Key)           { delete(t.entries, key.String()) }
func (t *boolTag) getEntries() map[string]*entry { return t.entries }

type strTag struct {
	value   string
	entries map[string]*entry
}

func newStrTag(v string) *strTag {
	return &strTag{value: v, entries: make(map[string]*entry)}
}

func (t *strTag) setEntry(ent *entry)           { t.entries[ent.key.String()] = ent }
func (t *strTag) removeEntry(key Key)           { delete(t.entries, key.String()) }
func (t *strTag) getEntries() map[string]*entry { return t.entries }

type intTag struct {
	value   int
	entries map[string]*entry
}

func newIntTag(v int) *intTag {
	return &intTag{value: v, entries: make(map[string]*entry)}
}

func (t *intTag) setEntry(ent *entry)           { t.entries[ent.key.String()] = ent }
func (t *intTag) removeEntry(key Key)           { delete(t.entries, key.String()) }
func (t *intTag) getEntries() map[string]*entry { return t.entries }

type floatTag struct {
	value   float64
	entries map[string]*entry
}

func newFloatTag(v float64) *floatTag {
	return &floatTag{value: v, entries: make(map[string]*entry)}
}

func (t *floatTag) setEntry(ent *entry)           { t.entries[ent.key.String()] = ent }
func (t *floatTag) removeEntry(key Key)           { delete(t.entries, key.String()) }
func (t *floatTag) getEntries() map[string]*entry { return t.entries }

func byBooleans(a, b interface{}) bool {
	i1, i2 := a.(*boolTag), b.(*boolTag)
	return !i1.value && i2.value
}

func byStrings(a, b interface{}) bool {
	i1, i2 := a.(*strTag), b.(*strTag)
	return i1.value < i2.value
}

func byIntegers(a, b interface{}) bool {
	i1, i2 := a.(*intTag), b.(*intTag)
	return i1.value < i2.value
}

func byFloats(a, b interface{}) bool {
	i1, i2 := a.(*floatTag), b.(*floatTag)
	return i1.value < i2.value
}

type index struct {
	dt  tagType
	btr *btr.BTree
}

type tagIndex struct {
	data map[string]*index
}

func newTagIndex() *tagIndex {
	return &tagIndex{data: make(map[string]*index)}
}

func resolveIndexIfNotExists(idx *index, dt tagType, less func(a, b interface{}) bool) (*index, error) {
	if idx == nil {
		idx = &index{dt: dt, btr: btr.NewNonConcurrent(less)}
	}

	if idx.dt != dt {
		return nil, ErrInvalidIndexType
	}

	return idx, nil
}

func (ti *tagIndex) containerFor(value interface{}) (entryContainer, tagType) {
	switch typedValue := value.(type) {
	case bool:
		return newBoolTag(typedValue), boolTagType
	case string:
		return newStrTag(typedValue), strTagType
	case int:
		return newIntTag(typedValue), intTagType
	case float64:
		return newFloatTag(typedValue), floatTagType
	}

	return nil, 0
}

func (ti *tagIndex) add(name string, value interface{}, ent *entry) error {
	idx := ti.data[name]

	var err error
	tag, dt := ti.containerFor(value)
	if tag == nil {
		return errors.Wrapf(ErrInvalidTagType, "%T", value)
	}

	switch dt {
	case boolTagType:
		idx, err = resolveIndexIfNotExists(idx, dt, byBooleans)
	case strTagType:
		idx, err = resolveIndexIfNotExists(idx, dt, byStrings)
	case intTagType:
		idx, err = resolveIndexIfNotExists(idx, dt, byIntegers)
	case floatTagType:
		idx, err = resolveIndexIfNotExists(idx, dt, byFloats)
	}

	if err != nil {
		return err
	}

	if existing := idx.btr.Get(tag); existing != nil {
		c, ok := existing.(entryContainer)
		if !ok {
			panic(invalidTagCast)
		}

		c.setEntry(ent)
	} else {
		tag.setEntry(ent)
		idx.btr.Set(tag)
	}

	ti.data[name] = idx
	return nil
}

func (ti *tagIndex) removeEntryByTag(name string, value interface{}, key Key) {
	idx := ti.data[name]
	if idx == nil {
		return
	}

	tag, _ := ti.containerFor(value)
	if tag == nil {
		return
	}

	found := idx.btr.Get(tag)
	if found == nil {
		return
	}

	c, ok := found.(entryContainer)
	if !ok {
		panic(invalidTagCast)
	}

	c.removeEntry(key)
}

func (ti *tagIndex) removeEntry(ent *entry) {
	if ent.tags == nil {
		return
	}

	for _, name := range ent.tags.Names() {
		if v, ok := ent.tags.value(name); ok {
			ti.removeEntryByTag(name, v, ent.key)
		}
	}
}

// filterEntries collects the entries matched by tag filters; an entry
// matches when every filter selected it.
type filterEntries struct {
	matchesRequired int
	matches         map[string]int
	entries         map[string]*entry
}

func newFilterEntries(matchesRequired int) *filterEntries {
	return &filterEntries{
		matchesRequired: matchesRequired,
		matches:         make(map[string]int),
		entries:         make(map[string]*entry),
	}
}

func (fe *filterEntries) add(ent *entry) {
	fe.matches[ent.key.String()]++
	fe.entries[ent.key.String()] = ent
}

func (fe *filterEntries) exists(ent *entry) bool {
	return fe.matches[ent.key.String()] >= fe.matchesRequired
}

func (ti *tagIndex) filterEntries(name string, comp comparator, value interface{}, fe *filterEntries) {
	idx := ti.data[name]
	if idx == nil {
		return
	}

	pivot, _ := ti.containerFor(value)
	if pivot == nil {
		return
	}

	collect := func(found interface{}) bool {
		c, ok := found.(entryContainer)
		if !ok {
			panic(invalidTagCast)
		}

		for _, ent := range c.getEntries() {
			fe.add(ent)
		}

		return true
	}

	switch comp {
	case equal:
		if found := idx.btr.Get(pivot); found != nil {
			collect(found)
		}
	case greaterOrEqual:
		idx.btr.Ascend(pivot, collect)
	case lessOrEqual:
		idx.btr.Descend(pivot, collect)
	}
}
