package store

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrInvalidTagType = errors.New("invalid tag type")

type tagType uint8

const (
	floatTagType tagType = iota
	intTagType
	strTagType
	boolTagType
)

// Tags is a typed tag set attached to a stored record. User facing tags
// are booleans; the store also carries internal string and integer tags
// for searchable record fields.
type Tags struct {
	names    map[string]tagType
	booleans map[string]bool
	floats   map[string]float64
	integers map[string]int
	strings  map[string]string
}

func NewTags() *Tags {
	return &Tags{
		names:    make(map[string]tagType),
		booleans: make(map[string]bool),
		floats:   make(map[string]float64),
		integers: make(map[string]int),
		strings:  make(map[string]string),
	}
}

func (t *Tags) Bool(name string, v bool) *Tags {
	t.drop(name)
	t.names[name] = boolTagType
	t.booleans[name] = v
	return t
}

func (t *Tags) Str(name, v string) *Tags {
	t.drop(name)
	t.names[name] = strTagType
	t.strings[name] = v
	return t
}

func (t *Tags) Int(name string, v int) *Tags {
	t.drop(name)
	t.names[name] = intTagType
	t.integers[name] = v
	return t
}

func (t *Tags) Float(name string, v float64) *Tags {
	t.drop(name)
	t.names[name] = floatTagType
	t.floats[name] = v
	return t
}

func (t *Tags) Set(name string, v interface{}) error {
	switch typedValue := v.(type) {
	case bool:
		t.Bool(name, typedValue)
	case string:
		t.Str(name, typedValue)
	case int:
		t.Int(name, typedValue)
	case float64:
		t.Float(name, typedValue)
	default:
		return errors.Wrapf(ErrInvalidTagType, "%T", v)
	}

	return nil
}

func (t *Tags) drop(name string) {
	dt, ok := t.names[name]
	if !ok {
		return
	}

	delete(t.names, name)

	switch dt {
	case boolTagType:
		delete(t.booleans, name)
	case intTagType:
		delete(t.integers, name)
	case floatTagType:
		delete(t.floats, name)
	case strTagType:
		delete(t.strings, name)
	}
}

func (t *Tags) Count() int {
	if t == nil {
		return 0
	}

	return len(t.names)
}

func (t *Tags) Names() []string {
	names := make([]string, 0, len(t.names))
	for n := range t.names {
		names = append(names, n)
	}

	sort.Strings(names)
	return names
}

func (t *Tags) TypeOf(name string) (tagType, bool) {
	dt, ok := t.names[name]
	return dt, ok
}

func (t *Tags) GetBool(name string) (bool, bool) {
	v, ok := t.booleans[name]
	return v, ok
}

func (t *Tags) GetStr(name string) (string, bool) {
	v, ok := t.strings[name]
	return v, ok
}

func (t *Tags) GetInt(name string) (int, bool) {
	v, ok := t.integers[name]
	return v, ok
}

func (t *Tags) GetFloat(name string) (float64, bool) {
	v, ok := t.floats[name]
	return v, ok
}

func (t *Tags) Booleans() map[string]bool {
	return t.booleans
}

func (t *Tags) value(name string) (interface{}, bool) {
	dt, ok := t.names[name]
	if !ok {
		return nil, false
	}

	switch dt {
	case boolTagType:
		return t.booleans[name], true
	case intTagType:
		return t.integers[name], true
	case floatTagType:
		return t.floats[name], true
	case strTagType:
		return t.strings[name], true
	}

	return nil, false
}

func (t *Tags) clone() *Tags {
	if t == nil {
		return nil
	}

	cp := NewTags()
	for n, v := range t.booleans {
		cp.Bool(n, v)
	}
	for n, v := range t.strings {
		cp.Str(n, v)
	}
	for n, v := range t.integers {
		cp.Int(n, v)
	}
	for n, v := range t.floats {
		cp.Float(n, v)
	}

	return cp
}
