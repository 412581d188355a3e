package store

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var ErrLogFileReadFailed = errors.New("record log read failed")
var ErrCommandInvalid = errors.New("record log command invalid")
var ErrChecksumMismatch = errors.New("record blob checksum mismatch")

type commandCode int8

const (
	invalidCode commandCode = iota
	recCode
	delCode
	tagCode
	untagCode
)

type parser struct {
	totalSize      int
	currentCmdSize int
	totalCommands  int
	currentLine    int
}

// parse replays the whole command log. It returns the number of bytes that
// belong to complete commands, so a torn tail can be truncated away by the
// caller when the error is io.ErrUnexpectedEOF.
func (p *parser) parse(r *bufio.Reader, cb func(d deserializable) error) (int, error) {
	for {
		p.currentCmdSize = 0

		firstByte, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return p.totalSize, nil
			}

			return p.totalSize, errors.Wrap(ErrLogFileReadFailed, err.Error())
		}

		if firstByte == 0 {
			continue
		}

		if err := r.UnreadByte(); err != nil {
			return p.totalSize, errors.Wrap(ErrLogFileReadFailed, err.Error())
		}

		segments, err := p.resolveRespArrayFromLine(r)
		if err != nil {
			return p.totalSize, err
		}

		cmdCode, err := p.resolveRespCommandCode(r)
		if err != nil {
			return p.totalSize, err
		}

		switch cmdCode {
		case recCode:
			err = p.parseRecCommand(r, segments, cb)
		case delCode:
			err = p.parseDelCommand(r, cb)
		case tagCode:
			err = p.parseTagCommand(r, segments, cb)
		case untagCode:
			err = p.parseUntagCommand(r, segments, cb)
		default:
			err = errors.Wrapf(ErrCommandInvalid, "unknown command code %d", cmdCode)
		}

		if err != nil {
			return p.totalSize, err
		}

		p.totalCommands++
		p.totalSize += p.currentCmdSize
	}
}

func (p *parser) parseRecCommand(r *bufio.Reader, segments int, cb func(d deserializable) error) error {
	key, err := p.resolveRespKey(r)
	if err != nil {
		return err
	}

	value, err := p.resolveRespBlob(r)
	if err != nil {
		return err
	}

	sum, err := p.resolveRespChecksum(r)
	if err != nil {
		return err
	}

	if xxhash.Sum64(value) != sum {
		return errors.Wrapf(ErrChecksumMismatch, "key %s", string(key))
	}

	ent := newEntry(ParseKey(string(key)), value, nil)

	// command, key, blob and checksum make up the first four segments
	segments -= 4
	if segments > 0 {
		ent.tags = NewTags()
	}

	for j := 0; j < segments; j++ {
		if err := p.resolveTagInto(r, ent.tags); err != nil {
			return err
		}
	}

	return cb(ent)
}

func (p *parser) parseDelCommand(r *bufio.Reader, cb func(d deserializable) error) error {
	key, err := p.resolveRespKey(r)
	if err != nil {
		return err
	}

	return cb(&deleteCmd{key: ParseKey(string(key))})
}

func (p *parser) parseTagCommand(r *bufio.Reader, segments int, cb func(d deserializable) error) error {
	key, err := p.resolveRespKey(r)
	if err != nil {
		return err
	}

	cmd := &tagCmd{key: ParseKey(string(key)), tags: NewTags()}

	for j := 0; j < segments-2; j++ {
		if err := p.resolveTagInto(r, cmd.tags); err != nil {
			return err
		}
	}

	return cb(cmd)
}

func (p *parser) parseUntagCommand(r *bufio.Reader, segments int, cb func(d deserializable) error) error {
	key, err := p.resolveRespKey(r)
	if err != nil {
		return err
	}

	cmd := &untagCmd{key: ParseKey(string(key))}

	for j := 0; j < segments-2; j++ {
		line, err := p.readLine(r)
		if err != nil {
			return err
		}

		if len(line) < 2 || line[0] != '+' {
			return errors.Wrapf(ErrCommandInvalid, "line #%d - %s is not a tag name", p.currentLine, line)
		}

		cmd.names = append(cmd.names, line[1:])
	}

	return cb(cmd)
}

func (p *parser) resolveRespArrayFromLine(r *bufio.Reader) (int, error) {
	line, err := p.readLine(r)
	if err != nil {
		return 0, err
	}

	if len(line) < 2 || line[0] != '*' {
		return 0, errors.Wrapf(ErrCommandInvalid, "line #%d - %s is not an array header", p.currentLine, line)
	}

	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return 0, errors.Wrapf(ErrCommandInvalid, "line #%d - invalid segment count %s", p.currentLine, line)
	}

	return n, nil
}

func (p *parser) resolveRespCommandCode(r *bufio.Reader) (commandCode, error) {
	line, err := p.readLine(r)
	if err != nil {
		return invalidCode, err
	}

	if len(line) < 2 || line[0] != '+' {
		return invalidCode, errors.Wrapf(ErrCommandInvalid, "line #%d - %s is not a command", p.currentLine, line)
	}

	switch line[1:] {
	case recCommand:
		return recCode, nil
	case delCommand:
		return delCode, nil
	case tagCommand:
		return tagCode, nil
	case untagCommand:
		return untagCode, nil
	}

	return invalidCode, errors.Wrapf(ErrCommandInvalid, "line #%d - unknown command %s", p.currentLine, line)
}

func (p *parser) resolveRespKey(r *bufio.Reader) ([]byte, error) {
	return p.resolveRespBlob(r)
}

func (p *parser) resolveRespBlob(r *bufio.Reader) ([]byte, error) {
	line, err := p.readLine(r)
	if err != nil {
		return nil, err
	}

	if len(line) < 2 || line[0] != '$' {
		return nil, errors.Wrapf(ErrCommandInvalid, "line #%d - %s is not a blob header", p.currentLine, line)
	}

	size, err := strconv.Atoi(line[1:])
	if err != nil || size < 0 {
		return nil, errors.Wrapf(ErrCommandInvalid, "line #%d - invalid blob length %s", p.currentLine, line)
	}

	blob := make([]byte, size+2)
	if _, err := io.ReadFull(r, blob); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, errors.Wrap(ErrLogFileReadFailed, err.Error())
	}

	p.currentCmdSize += len(blob)
	return blob[:size], nil
}

func (p *parser) resolveRespChecksum(r *bufio.Reader) (uint64, error) {
	line, err := p.readLine(r)
	if err != nil {
		return 0, err
	}

	prefix, args, err := resolveTagFnTypeAndArguments(line)
	if err != nil || prefix != checksumFn || len(args) != 1 {
		return 0, errors.Wrapf(ErrCommandInvalid, "line #%d - %s is not a checksum", p.currentLine, line)
	}

	sum, err := strconv.ParseUint(args[0], 16, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrCommandInvalid, "line #%d - invalid checksum %s", p.currentLine, line)
	}

	return sum, nil
}

func (p *parser) resolveTagInto(r *bufio.Reader, t *Tags) error {
	line, err := p.readLine(r)
	if err != nil {
		return err
	}

	prefix, args, err := resolveTagFnTypeAndArguments(line)
	if err != nil {
		return err
	}

	if len(args) < 2 {
		return errors.Wrapf(ErrCommandInvalid, "line #%d - tag function %s needs two arguments", p.currentLine, line)
	}

	name := args[0]
	// string tag values may themselves contain commas
	value := strings.Join(args[1:], ",")

	switch prefix {
	case boolTagFn:
		t.Bool(name, value == "true")
	case strTagFn:
		t.Str(name, value)
	case intTagFn:
		v, err := strconv.Atoi(value)
		if err != nil {
			return errors.Errorf("tag function itg contains invalid integer %s at line #%d", value, p.currentLine)
		}
		t.Int(name, v)
	case floatTagFn:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Errorf("tag function ftg contains invalid float %s at line #%d", value, p.currentLine)
		}
		t.Float(name, v)
	default:
		return errors.Wrapf(ErrCommandInvalid, "line #%d - tag function %s not supported", p.currentLine, prefix)
	}

	return nil
}

// readLine consumes one \r\n terminated line and strips the terminator.
func (p *parser) readLine(r *bufio.Reader) (string, error) {
	p.currentLine++

	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}

		return "", errors.Wrap(ErrLogFileReadFailed, err.Error())
	}

	p.currentCmdSize += len(line)

	if !strings.HasSuffix(line, "\r\n") {
		return "", io.ErrUnexpectedEOF
	}

	return line[:len(line)-2], nil
}

func resolveTagFnTypeAndArguments(expression string) (prefix string, args []string, err error) {
	if len(expression) < 2 || expression[0] != '+' {
		err = errors.Wrapf(ErrCommandInvalid, "expression %s is invalid", expression)
		return
	}

	expression = expression[1:]

	for _, fn := range []string{boolTagFn, strTagFn, intTagFn, floatTagFn, checksumFn} {
		if strings.HasPrefix(expression, fn+"(") {
			prefix = fn
			break
		}
	}

	if prefix == "" || !strings.HasSuffix(expression, ")") {
		err = errors.Wrapf(ErrCommandInvalid, "expression %s is not a function", expression)
		return
	}

	argsExp := strings.TrimPrefix(expression, prefix+"(")
	argsExp = strings.TrimSuffix(argsExp, ")")
	args = strings.Split(argsExp, ",")

	return
}
