package store

import (
	"strconv"
	"strings"
)

// Key addresses one record in the store as "<project>:<label>".
// Labels may themselves contain ':' separated segments; ordering is
// segment-aware so that numeric segments sort numerically.
type Key struct {
	raw      string
	segments []string
}

func NewKey(project, label string) Key {
	return ParseKey(project + ":" + label)
}

func ParseKey(raw string) Key {
	return Key{
		raw:      raw,
		segments: strings.Split(raw, ":"),
	}
}

func (k Key) String() string {
	return k.raw
}

func (k Key) Bytes() []byte {
	return []byte(k.raw)
}

func (k Key) Project() string {
	return k.segments[0]
}

func (k Key) Label() string {
	if len(k.segments) < 2 {
		return ""
	}

	return strings.Join(k.segments[1:], ":")
}

func (k Key) Equal(other Key) bool {
	return k.raw == other.raw
}

// HasPrefix matches leading segments exactly ("*" matches any); the last
// prefix segment may be a partial segment.
func (k Key) HasPrefix(prefix string) bool {
	if prefix == "" {
		return true
	}

	pSegs := strings.Split(prefix, ":")
	if len(pSegs) > len(k.segments) {
		return false
	}

	for i := range pSegs {
		if pSegs[i] == k.segments[i] || pSegs[i] == "*" {
			continue
		}

		if i == len(pSegs)-1 && strings.HasPrefix(k.segments[i], pSegs[i]) {
			continue
		}

		return false
	}

	return true
}

func (k Key) Less(other Key) bool {
	l := len(k.segments)
	if len(other.segments) < l {
		l = len(other.segments)
	}

	prevEq := false
	for i := 0; i < l; i++ {
		bothInts, a, b := convertToInts(k.segments[i], other.segments[i])
		if bothInts {
			if a != b {
				return a < b
			}

			prevEq = true
			continue
		}

		if k.segments[i] != other.segments[i] {
			return k.segments[i] < other.segments[i]
		}

		prevEq = true
	}

	return prevEq && len(other.segments) > len(k.segments)
}

func convertToInts(a, b string) (bool, int, int) {
	ia, err := strconv.Atoi(a)
	if err != nil {
		return false, 0, 0
	}

	ib, err := strconv.Atoi(b)
	if err != nil {
		return false, 0, 0
	}

	return true, ia, ib
}

func byKeys(a, b interface{}) bool {
	i1, i2 := a.(*entry), b.(*entry)
	return i1.key.Less(i2.key)
}
