package protocol

import (
	"fmt"
	"sort"

	"github.com/opd-ai/rfm/relpath"
)

// Stats is a flat snapshot of named counters.
type Stats map[string]float64

// Message is one request or response. Payload values are string, int64,
// bool, relpath.RelativePath, []relpath.RelativePath or Stats, depending on
// the key.
type Message struct {
	Tag     Tag
	Payload map[Key]interface{}
}

// New returns a message with an empty payload.
func New(tag Tag) Message {
	return Message{Tag: tag, Payload: make(map[Key]interface{})}
}

// Response builds a response carrying the tag's description as MSG.
func Response(tag Tag) Message {
	return New(tag).With(KeyMsg, tag.Description())
}

// Errorf builds a response with a custom MSG.
func Errorf(tag Tag, format string, args ...interface{}) Message {
	return New(tag).With(KeyMsg, fmt.Sprintf(format, args...))
}

// With returns m with key set to value. Plain ints are widened to int64.
// The receiver's payload map is shared, so With mutates m as well.
func (m Message) With(key Key, value interface{}) Message {
	if m.Payload == nil {
		m.Payload = make(map[Key]interface{})
	}
	switch v := value.(type) {
	case int:
		value = int64(v)
	case uint32:
		value = int64(v)
	case map[string]float64:
		value = Stats(v)
	}
	m.Payload[key] = value
	return m
}

// Has reports whether key is present.
func (m Message) Has(key Key) bool {
	_, ok := m.Payload[key]
	return ok
}

// StringValue returns a string value, or "" if absent or of another type.
func (m Message) StringValue(key Key) string {
	s, _ := m.Payload[key].(string)
	return s
}

// Int returns an integer value.
func (m Message) Int(key Key) (int64, bool) {
	v, ok := m.Payload[key].(int64)
	return v, ok
}

// Bool returns a boolean value; absent keys read as false.
func (m Message) Bool(key Key) bool {
	v, _ := m.Payload[key].(bool)
	return v
}

// Path returns a RelativePath value.
func (m Message) Path(key Key) (relpath.RelativePath, bool) {
	v, ok := m.Payload[key].(relpath.RelativePath)
	return v, ok
}

// Paths returns a list of RelativePath values.
func (m Message) Paths(key Key) []relpath.RelativePath {
	v, _ := m.Payload[key].([]relpath.RelativePath)
	return v
}

// Stats returns a statistics snapshot.
func (m Message) Stats(key Key) Stats {
	v, _ := m.Payload[key].(Stats)
	return v
}

// Text returns MSG, falling back to the tag description.
func (m Message) Text() string {
	if s := m.StringValue(KeyMsg); s != "" {
		return s
	}
	return m.Tag.Description()
}

// sortedKeys gives Encode a deterministic order.
func (m Message) sortedKeys() []Key {
	keys := make([]Key, 0, len(m.Payload))
	for k := range m.Payload {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
