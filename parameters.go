package sumatra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrParametersInvalid = errors.New("parameter file could not be parsed")
var ErrParameterNotFound = errors.New("parameter not found")

const (
	FormatSimple = "simple"
	FormatJSON   = "json"
	FormatYAML   = "yaml"
)

// ParameterSet is a snapshot of the parameters a run was launched with.
// Nested documents are addressed with dotted paths ("model.size").
type ParameterSet interface {
	Format() string
	Get(path string) (interface{}, error)
	Update(overrides map[string]interface{}) error
	Diff(other ParameterSet) ParameterDiff
	Flatten() map[string]interface{}
	String() string
	Save(path string) error
}

// ParameterDiff lists parameters present on one side only and parameters
// present on both sides with different values. Keys are sorted.
type ParameterDiff struct {
	OnlyA     map[string]interface{}
	OnlyB     map[string]interface{}
	Differing map[string][2]interface{}
}

func (d ParameterDiff) Empty() bool {
	return len(d.OnlyA) == 0 && len(d.OnlyB) == 0 && len(d.Differing) == 0
}

func (d ParameterDiff) Keys() []string {
	var keys []string
	for k := range d.OnlyA {
		keys = append(keys, k)
	}
	for k := range d.OnlyB {
		keys = append(keys, k)
	}
	for k := range d.Differing {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

// BuildParameters reads a parameter file and sniffs its format from the
// extension, falling back to content sniffing.
func BuildParameters(path string) (ParameterSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrParametersInvalid, "could not read %s: %s", path, err.Error())
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseParameters(content, FormatJSON)
	case ".yaml", ".yml":
		return parseParameters(content, FormatYAML)
	case ".param", ".params", ".cfg", ".txt":
		return parseParameters(content, FormatSimple)
	}

	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "{") {
		return parseParameters(content, FormatJSON)
	}

	if ps, err := parseParameters(content, FormatSimple); err == nil {
		return ps, nil
	}

	return parseParameters(content, FormatYAML)
}

func parseParameters(content []byte, format string) (ParameterSet, error) {
	switch format {
	case FormatSimple:
		return newSimpleParameterSet(content)
	case FormatJSON:
		return newJSONParameterSet(content)
	case FormatYAML:
		return newYAMLParameterSet(content)
	}

	return nil, errors.Wrapf(ErrParametersInvalid, "unknown format %s", format)
}

// Snapshot preserves a parameter set on a record.
func Snapshot(ps ParameterSet) ParameterSnapshot {
	if ps == nil {
		return ParameterSnapshot{}
	}

	return ParameterSnapshot{Format: ps.Format(), Content: ps.String()}
}

func diffFlat(a, b map[string]interface{}) ParameterDiff {
	d := ParameterDiff{
		OnlyA:     make(map[string]interface{}),
		OnlyB:     make(map[string]interface{}),
		Differing: make(map[string][2]interface{}),
	}

	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			d.OnlyA[k] = va
			continue
		}

		if fmt.Sprintf("%v", va) != fmt.Sprintf("%v", vb) {
			d.Differing[k] = [2]interface{}{va, vb}
		}
	}

	for k, vb := range b {
		if _, ok := a[k]; !ok {
			d.OnlyB[k] = vb
		}
	}

	return d
}

// SimpleParameterSet holds flat "name = value" parameters, one per line,
// with # comments. Values are typed as bool, int, float or string.
type SimpleParameterSet struct {
	values map[string]interface{}
}

func newSimpleParameterSet(content []byte) (*SimpleParameterSet, error) {
	ps := &SimpleParameterSet{values: make(map[string]interface{})}

	for i, line := range strings.Split(string(content), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, raw, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.Wrapf(ErrParametersInvalid, "line %d: %q is not a name = value pair", i+1, line)
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.Wrapf(ErrParametersInvalid, "line %d: empty parameter name", i+1)
		}

		ps.values[name] = parseScalar(strings.TrimSpace(raw))
	}

	return ps, nil
}

func parseScalar(raw string) interface{} {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}

	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}

	// only the spelled-out literals are booleans; ParseBool would also
	// swallow values like "t" or "F"
	switch raw {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}

	return strings.Trim(raw, `"'`)
}

func (ps *SimpleParameterSet) Format() string { return FormatSimple }

func (ps *SimpleParameterSet) Get(path string) (interface{}, error) {
	v, ok := ps.values[path]
	if !ok {
		return nil, errors.Wrapf(ErrParameterNotFound, "%s", path)
	}

	return v, nil
}

func (ps *SimpleParameterSet) Update(overrides map[string]interface{}) error {
	for k, v := range overrides {
		ps.values[k] = v
	}

	return nil
}

func (ps *SimpleParameterSet) Flatten() map[string]interface{} {
	flat := make(map[string]interface{}, len(ps.values))
	for k, v := range ps.values {
		flat[k] = v
	}

	return flat
}

func (ps *SimpleParameterSet) Diff(other ParameterSet) ParameterDiff {
	return diffFlat(ps.Flatten(), other.Flatten())
}

func (ps *SimpleParameterSet) String() string {
	names := make([]string, 0, len(ps.values))
	for n := range ps.values {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s = %v\n", n, ps.values[n])
	}

	return b.String()
}

func (ps *SimpleParameterSet) Save(path string) error {
	return errors.Wrap(os.WriteFile(path, []byte(ps.String()), 0666), "could not save parameter file")
}

// JSONParameterSet wraps an arbitrary JSON document.
type JSONParameterSet struct {
	content []byte
}

func newJSONParameterSet(content []byte) (*JSONParameterSet, error) {
	if !gjson.ValidBytes(content) {
		return nil, errors.Wrap(ErrParametersInvalid, "invalid json")
	}

	return &JSONParameterSet{content: content}, nil
}

func (ps *JSONParameterSet) Format() string { return FormatJSON }

func (ps *JSONParameterSet) Get(path string) (interface{}, error) {
	res := gjson.GetBytes(ps.content, path)
	if !res.Exists() {
		return nil, errors.Wrapf(ErrParameterNotFound, "%s", path)
	}

	return res.Value(), nil
}

func (ps *JSONParameterSet) Update(overrides map[string]interface{}) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(ps.content, &doc); err != nil {
		return errors.Wrap(ErrParametersInvalid, err.Error())
	}

	for path, v := range overrides {
		setDottedPath(doc, path, v)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not re-serialize parameters")
	}

	ps.content = out
	return nil
}

func (ps *JSONParameterSet) Flatten() map[string]interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal(ps.content, &doc); err != nil {
		return nil
	}

	flat := make(map[string]interface{})
	flattenInto(flat, "", doc)
	return flat
}

func (ps *JSONParameterSet) Diff(other ParameterSet) ParameterDiff {
	return diffFlat(ps.Flatten(), other.Flatten())
}

func (ps *JSONParameterSet) String() string {
	return string(ps.content)
}

func (ps *JSONParameterSet) Save(path string) error {
	return errors.Wrap(os.WriteFile(path, ps.content, 0666), "could not save parameter file")
}

// YAMLParameterSet wraps an arbitrary YAML document.
type YAMLParameterSet struct {
	doc map[string]interface{}
}

func newYAMLParameterSet(content []byte) (*YAMLParameterSet, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, errors.Wrap(ErrParametersInvalid, err.Error())
	}

	if doc == nil {
		doc = make(map[string]interface{})
	}

	return &YAMLParameterSet{doc: doc}, nil
}

func (ps *YAMLParameterSet) Format() string { return FormatYAML }

func (ps *YAMLParameterSet) Get(path string) (interface{}, error) {
	var cur interface{} = ps.doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(ErrParameterNotFound, "%s", path)
		}

		cur, ok = m[seg]
		if !ok {
			return nil, errors.Wrapf(ErrParameterNotFound, "%s", path)
		}
	}

	return cur, nil
}

func (ps *YAMLParameterSet) Update(overrides map[string]interface{}) error {
	for path, v := range overrides {
		setDottedPath(ps.doc, path, v)
	}

	return nil
}

func (ps *YAMLParameterSet) Flatten() map[string]interface{} {
	flat := make(map[string]interface{})
	flattenInto(flat, "", ps.doc)
	return flat
}

func (ps *YAMLParameterSet) Diff(other ParameterSet) ParameterDiff {
	return diffFlat(ps.Flatten(), other.Flatten())
}

func (ps *YAMLParameterSet) String() string {
	out, err := yaml.Marshal(ps.doc)
	if err != nil {
		return ""
	}

	return string(out)
}

func (ps *YAMLParameterSet) Save(path string) error {
	return errors.Wrap(os.WriteFile(path, []byte(ps.String()), 0666), "could not save parameter file")
}

func flattenInto(flat map[string]interface{}, prefix string, v interface{}) {
	switch typedValue := v.(type) {
	case map[string]interface{}:
		for k, nested := range typedValue {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(flat, path, nested)
		}
	default:
		if prefix != "" {
			flat[prefix] = v
		}
	}
}

func setDottedPath(doc map[string]interface{}, path string, v interface{}) {
	segs := strings.Split(path, ".")
	cur := doc

	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = v
			return
		}

		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}

		cur = next
	}
}
