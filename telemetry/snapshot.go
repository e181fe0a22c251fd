package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	// \s alone misses vertical tab, no-break and other Unicode spaces.
	whitespaceRun = regexp.MustCompile(`[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)
	numberAndUnit = regexp.MustCompile(`(-?\d+\.?\d*)[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]*([a-zA-Z]*)`)
)

type Kind int

const (
	KindText Kind = iota
	KindNumber
)

// Value is either a number or the original text of a field.
type Value struct {
	Kind   Kind
	Number float64
	Text   string
}

func Number(v float64) Value { return Value{Kind: KindNumber, Number: v} }

func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func (v Value) IsNumber() bool { return v.Kind == KindNumber }

// Interface returns the value as a float64 or a string.
func (v Value) Interface() interface{} {
	if v.IsNumber() {
		return v.Number
	}
	return v.Text
}

func (v Value) String() string {
	if v.IsNumber() {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

// MarshalJSON writes numbers as JSON numbers. Values too large for a float64
// have no JSON form and are written as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNumber() && !math.IsInf(v.Number, 0) && !math.IsNaN(v.Number) {
		return json.Marshal(v.Number)
	}
	if v.IsNumber() {
		return json.Marshal(formatFixed(v.Number, 0))
	}
	return json.Marshal(v.Text)
}

// Field is one normalized entry of a Snapshot.
type Field struct {
	Key   string
	Value Value
}

// Snapshot is the flattened, unit-tagged view of the latest state.
// Fields keep the order of the state they were built from.
type Snapshot struct {
	fields []Field
	index  map[string]int
}

// NormalizeKey lowercases key and replaces each run of whitespace with "_".
func NormalizeKey(key string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(key), "_")
}

// NormalizeField turns one raw field into its snapshot key and value.
//
// The first "number followed by optional unit" found in value decides the
// result: with a unit the unit is lowercased onto the key ("11800mV" gives
// <key>_mv), without one the key is kept. Values with no number in them are
// passed through as text.
func NormalizeField(key, value string) Field {
	normalized := NormalizeKey(key)
	m := numberAndUnit.FindStringSubmatch(value)
	if m == nil {
		return Field{Key: normalized, Value: Text(value)}
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil && n == 0 {
		return Field{Key: normalized, Value: Text(value)}
	}
	if m[2] != "" {
		normalized = normalized + "_" + strings.ToLower(m[2])
	}
	return Field{Key: normalized, Value: Number(n)}
}

// Normalize builds a Snapshot from state without modifying it. When two raw
// keys normalize to the same key the field keeps its first position and
// takes the later value.
func Normalize(state *State) Snapshot {
	s := Snapshot{index: make(map[string]int, state.Len())}
	state.Each(func(key, value string) {
		s.set(NormalizeField(key, value))
	})
	return s
}

func (s *Snapshot) set(f Field) {
	if i, ok := s.index[f.Key]; ok {
		s.fields[i] = f
		return
	}
	s.index[f.Key] = len(s.fields)
	s.fields = append(s.fields, f)
}

func (s Snapshot) Get(key string) (Value, bool) {
	i, ok := s.index[key]
	if !ok {
		return Value{}, false
	}
	return s.fields[i].Value, true
}

// Number returns the numeric value for key, ok is false if the key is missing
// or holds text.
func (s Snapshot) Number(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok || !v.IsNumber() {
		return 0, false
	}
	return v.Number, true
}

func (s Snapshot) Len() int {
	return len(s.fields)
}

// Fields returns a copy of the fields in order.
func (s Snapshot) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Map returns the snapshot as float64 and string values keyed by field.
func (s Snapshot) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(s.fields))
	for _, f := range s.fields {
		m[f.Key] = f.Value.Interface()
	}
	return m
}

// Numbers returns only the numeric fields.
func (s Snapshot) Numbers() map[string]float64 {
	m := map[string]float64{}
	for _, f := range s.fields {
		if f.Value.IsNumber() {
			m[f.Key] = f.Value.Number
		}
	}
	return m
}

// MarshalJSON writes the snapshot as a JSON object in field order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML writes the snapshot as a YAML mapping in field order.
func (s Snapshot) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range s.fields {
		keyNode := textNode(f.Key)
		valNode := textNode(f.Value.Text)
		if f.Value.IsNumber() {
			valNode.Tag = ""
			switch n := f.Value.Number; {
			case math.IsNaN(n):
				valNode.Value = ".nan"
			case math.IsInf(n, 1):
				valNode.Value = ".inf"
			case math.IsInf(n, -1):
				valNode.Value = "-.inf"
			default:
				valNode.Value = f.Value.String()
			}
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func textNode(s string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if !utf8.ValidString(s) {
		// encoded as !!binary
		node.Tag = ""
	}
	return node
}
