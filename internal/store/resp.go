package store

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	recCommand   = "rec"
	delCommand   = "del"
	tagCommand   = "tag"
	untagCommand = "untag"
)

const (
	boolTagFn  = "btg"
	strTagFn   = "stg"
	intTagFn   = "itg"
	floatTagFn = "ftg"
	checksumFn = "chk"
)

type serializable interface {
	serialize(rs *respSerializer) error
}

type respSerializer struct {
	buf bytes.Buffer
}

func (ent *entry) serialize(rs *respSerializer) error {
	writeRespArray(4+ent.tagCount(), &rs.buf)
	writeRespSimpleString([]byte(recCommand), &rs.buf)
	writeRespKeyString(ent.key.Bytes(), &rs.buf)
	writeRespBlob(ent.value, &rs.buf)
	writeRespChecksum(xxhash.Sum64(ent.value), &rs.buf)

	if ent.tagCount() > 0 {
		if err := writeRespTags(ent.tags, &rs.buf); err != nil {
			return err
		}
	}

	return nil
}

func (cmd *deleteCmd) serialize(rs *respSerializer) error {
	writeRespArray(2, &rs.buf)
	writeRespSimpleString([]byte(delCommand), &rs.buf)
	writeRespKeyString(cmd.key.Bytes(), &rs.buf)
	return nil
}

func (cmd *tagCmd) serialize(rs *respSerializer) error {
	writeRespArray(2+cmd.tags.Count(), &rs.buf)
	writeRespSimpleString([]byte(tagCommand), &rs.buf)
	writeRespKeyString(cmd.key.Bytes(), &rs.buf)
	return writeRespTags(cmd.tags, &rs.buf)
}

func (cmd *untagCmd) serialize(rs *respSerializer) error {
	writeRespArray(2+len(cmd.names), &rs.buf)
	writeRespSimpleString([]byte(untagCommand), &rs.buf)
	writeRespKeyString(cmd.key.Bytes(), &rs.buf)
	for _, n := range cmd.names {
		writeRespSimpleString([]byte(n), &rs.buf)
	}
	return nil
}

func writeRespTags(t *Tags, buf *bytes.Buffer) error {
	// sorted for a stable log, tags replay in a deterministic order
	for _, name := range t.Names() {
		dt, _ := t.TypeOf(name)
		switch dt {
		case boolTagType:
			writeRespBoolTag(name, t.booleans[name], buf)
		case strTagType:
			writeRespStrTag(name, t.strings[name], buf)
		case intTagType:
			writeRespIntTag(name, t.integers[name], buf)
		case floatTagType:
			writeRespFloatTag(name, t.floats[name], buf)
		default:
			return errors.Wrapf(ErrInvalidTagType, "unknown tag type %d", dt)
		}
	}

	return nil
}

func writeRespArray(segments int, buf *bytes.Buffer) {
	buf.WriteRune('*')
	buf.WriteString(strconv.FormatInt(int64(segments), 10))
	buf.WriteString("\r\n")
}

func writeRespSimpleString(b []byte, buf *bytes.Buffer) {
	buf.WriteRune('+')
	buf.Write(b)
	buf.WriteString("\r\n")
}

func writeRespKeyString(b []byte, buf *bytes.Buffer) {
	buf.WriteRune('$')
	buf.WriteString(strconv.FormatInt(int64(len(b)), 10))
	buf.WriteString("\r\n")
	buf.Write(b)
	buf.WriteString("\r\n")
}

func writeRespBlob(blob []byte, buf *bytes.Buffer) {
	buf.WriteRune('$')
	buf.WriteString(strconv.FormatInt(int64(len(blob)), 10))
	buf.WriteString("\r\n")
	buf.Write(blob)
	buf.WriteString("\r\n")
}

func writeRespChecksum(sum uint64, buf *bytes.Buffer) {
	writeRespFunc([]byte(fmt.Sprintf("%s(%016x)", checksumFn, sum)), buf)
}

func writeRespBoolTag(name string, v bool, buf *bytes.Buffer) {
	writeRespFunc([]byte(fmt.Sprintf("%s(%s,%v)", boolTagFn, name, v)), buf)
}

func writeRespStrTag(name, v string, buf *bytes.Buffer) {
	writeRespFunc([]byte(fmt.Sprintf("%s(%s,%s)", strTagFn, name, v)), buf)
}

func writeRespIntTag(name string, v int, buf *bytes.Buffer) {
	writeRespFunc([]byte(fmt.Sprintf("%s(%s,%d)", intTagFn, name, v)), buf)
}

func writeRespFloatTag(name string, v float64, buf *bytes.Buffer) {
	writeRespFunc([]byte(fmt.Sprintf("%s(%s,%v)", floatTagFn, name, v)), buf)
}

func writeRespFunc(fn []byte, buf *bytes.Buffer) {
	buf.WriteRune('+')
	buf.Write(fn)
	buf.WriteString("\r\n")
}
