package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opd-ai/rfm/relpath"
)

var (
	// ErrMessageTooShort indicates the body ended before a value was complete.
	ErrMessageTooShort = errors.New("message too short")
	// ErrUnknownKey indicates a payload key outside the closed key set.
	ErrUnknownKey = errors.New("unknown payload key")
	// ErrInvalidValue indicates a value whose type does not match its key.
	ErrInvalidValue = errors.New("invalid payload value")
	// ErrTrailingData indicates bytes left over after the last payload entry.
	ErrTrailingData = errors.New("trailing data after message")
	// ErrTooManyKeys indicates a payload that cannot be counted in one byte.
	ErrTooManyKeys = errors.New("too many payload keys")
)

// Encode serializes msg into a message body. Keys are written in ascending
// order so equal messages encode to equal bytes.
func Encode(msg Message) ([]byte, error) {
	if len(msg.Payload) > math.MaxUint8 {
		return nil, ErrTooManyKeys
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, byte(msg.Tag), byte(len(msg.Payload)))

	for _, key := range msg.sortedKeys() {
		info, ok := keyTable[key]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKey, key)
		}
		buf = append(buf, byte(key), byte(info.typ))

		var err error
		buf, err = appendValue(buf, info.typ, msg.Payload[key])
		if err != nil {
			return nil, fmt.Errorf("key %v: %w", key, err)
		}
	}
	return buf, nil
}

func appendValue(buf []byte, typ valueType, value interface{}) ([]byte, error) {
	switch typ {
	case typeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrInvalidValue, value)
		}
		return appendString(buf, s), nil
	case typeInt:
		n, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: want int64, got %T", ErrInvalidValue, value)
		}
		return binary.BigEndian.AppendUint64(buf, uint64(n)), nil
	case typeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, value)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case typePath:
		p, ok := value.(relpath.RelativePath)
		if !ok {
			return nil, fmt.Errorf("%w: want RelativePath, got %T", ErrInvalidValue, value)
		}
		return appendPath(buf, p), nil
	case typePaths:
		paths, ok := value.([]relpath.RelativePath)
		if !ok {
			return nil, fmt.Errorf("%w: want []RelativePath, got %T", ErrInvalidValue, value)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(paths)))
		for _, p := range paths {
			buf = appendPath(buf, p)
		}
		return buf, nil
	case typeStats:
		stats, ok := value.(Stats)
		if !ok {
			return nil, fmt.Errorf("%w: want Stats, got %T", ErrInvalidValue, value)
		}
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(names)))
		for _, name := range names {
			buf = appendString(buf, name)
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(stats[name]))
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: type %d", ErrInvalidValue, typ)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendPath(buf []byte, p relpath.RelativePath) []byte {
	buf = appendString(buf, p.Location)
	buf = appendString(buf, p.Name)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Size))
	var mtime int64
	if !p.ModTime.IsZero() {
		mtime = p.ModTime.UnixNano()
	}
	return binary.BigEndian.AppendUint64(buf, uint64(mtime))
}

// Decode parses a message body produced by Encode. Unknown tags are accepted
// so a responder can answer them with INVALID_CMD; unknown keys are not.
func Decode(data []byte) (Message, error) {
	if len(data) < 2 {
		return Message{}, ErrMessageTooShort
	}

	r := reader{data: data[2:]}
	msg := New(Tag(data[0]))
	count := int(data[1])

	for i := 0; i < count; i++ {
		header, err := r.next(2)
		if err != nil {
			return Message{}, err
		}
		key, typ := Key(header[0]), valueType(header[1])

		info, ok := keyTable[key]
		if !ok {
			return Message{}, fmt.Errorf("%w: %v", ErrUnknownKey, key)
		}
		if info.typ != typ {
			return Message{}, fmt.Errorf("%w: key %v has type %d", ErrInvalidValue, key, typ)
		}

		value, err := r.value(typ)
		if err != nil {
			return Message{}, fmt.Errorf("key %v: %w", key, err)
		}
		msg.Payload[key] = value
	}

	if len(r.data) != 0 {
		return Message{}, ErrTrailingData
	}
	return msg, nil
}

type reader struct {
	data []byte
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data) < n {
		return nil, ErrMessageTooShort
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(r.data)) {
		return "", ErrMessageTooShort
	}
	b, _ := r.next(int(n))
	return string(b), nil
}

// count reads a u32 element count and checks it against the bytes left,
// given the minimum encoded size of one element.
func (r *reader) count(minElem int) (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minElem) > uint64(len(r.data)) {
		return 0, ErrMessageTooShort
	}
	return int(n), nil
}

func (r *reader) path() (relpath.RelativePath, error) {
	location, err := r.string()
	if err != nil {
		return relpath.RelativePath{}, err
	}
	name, err := r.string()
	if err != nil {
		return relpath.RelativePath{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return relpath.RelativePath{}, err
	}
	mtime, err := r.uint64()
	if err != nil {
		return relpath.RelativePath{}, err
	}

	p := relpath.RelativePath{Location: location, Name: name, Size: int64(size)}
	if mtime != 0 {
		p.ModTime = time.Unix(0, int64(mtime))
	}
	return p, nil
}

// minPathSize is two empty strings plus size and mtime.
const minPathSize = 4 + 4 + 8 + 8

func (r *reader) value(typ valueType) (interface{}, error) {
	switch typ {
	case typeString:
		return r.string()
	case typeInt:
		v, err := r.uint64()
		return int64(v), err
	case typeBool:
		b, err := r.next(1)
		if err != nil {
			return nil, err
		}
		if b[0] > 1 {
			return nil, fmt.Errorf("%w: bool byte %d", ErrInvalidValue, b[0])
		}
		return b[0] == 1, nil
	case typePath:
		return r.path()
	case typePaths:
		n, err := r.count(minPathSize)
		if err != nil {
			return nil, err
		}
		paths := make([]relpath.RelativePath, 0, n)
		for i := 0; i < n; i++ {
			p, err := r.path()
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		return paths, nil
	case typeStats:
		n, err := r.count(4 + 8)
		if err != nil {
			return nil, err
		}
		stats := make(Stats, n)
		for i := 0; i < n; i++ {
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			bits, err := r.uint64()
			if err != nil {
				return nil, err
			}
			stats[name] = math.Float64frombits(bits)
		}
		return stats, nil
	}
	return nil, fmt.Errorf("%w: type %d", ErrInvalidValue, typ)
}
