// Package deserializer extracts the gateway envelope's top-level keys
// (op, s, t) from a raw frame without decoding the d field, which may be
// arbitrarily large. It is a hot path: every upstream frame passes through
// it once, and the dispatcher never pays for a full unmarshal of d.
package deserializer

import (
	"errors"
	"strconv"
)

// ErrMalformedFrame is returned when the frame's outer shape is not a
// JSON object, or a top-level value cannot be skipped.
var ErrMalformedFrame = errors.New("deserializer: malformed frame")

// ErrMissingOp is returned when a syntactically valid frame has no op key.
var ErrMissingOp = errors.New("deserializer: missing op")

// SequenceInfo reports the byte span of the s value's literal text within
// the original frame, so a caller can splice a replacement sequence number
// in place instead of re-serializing the whole frame.
type SequenceInfo struct {
	Value  int64
	Offset int
	Length int
}

// EventTypeInfo reports the dispatch event name carried in t.
type EventTypeInfo struct {
	Name string
}

// Envelope is the result of scanning a frame.
type Envelope struct {
	Op       int64
	Sequence *SequenceInfo
	Event    *EventTypeInfo
}

// Parse scans raw for the top-level op, s and t keys. d and any other
// top-level values are skipped without being unmarshalled.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope

	i := skipWhitespace(raw, 0)
	if i >= len(raw) || raw[i] != '{' {
		return env, ErrMalformedFrame
	}
	i++

	sawOp := false

	for {
		i = skipWhitespace(raw, i)
		if i >= len(raw) {
			return env, ErrMalformedFrame
		}
		if raw[i] == '}' {
			break
		}

		key, next, err := scanString(raw, i)
		if err != nil {
			return env, ErrMalformedFrame
		}
		i = skipWhitespace(raw, next)
		if i >= len(raw) || raw[i] != ':' {
			return env, ErrMalformedFrame
		}
		i = skipWhitespace(raw, i+1)

		valueStart := i
		valueEnd, err := skipValue(raw, i)
		if err != nil {
			return env, ErrMalformedFrame
		}

		switch key {
		case "op":
			n, err := strconv.ParseInt(string(raw[valueStart:valueEnd]), 10, 64)
			if err != nil {
				return env, ErrMalformedFrame
			}
			env.Op = n
			sawOp = true
		case "s":
			if !isNullLiteral(raw[valueStart:valueEnd]) {
				n, err := strconv.ParseInt(string(raw[valueStart:valueEnd]), 10, 64)
				if err != nil {
					return env, ErrMalformedFrame
				}
				env.Sequence = &SequenceInfo{
					Value:  n,
					Offset: valueStart,
					Length: valueEnd - valueStart,
				}
			}
		case "t":
			if !isNullLiteral(raw[valueStart:valueEnd]) {
				name, _, err := scanString(raw, valueStart)
				if err != nil {
					return env, ErrMalformedFrame
				}
				env.Event = &EventTypeInfo{Name: name}
			}
		}

		i = skipWhitespace(raw, valueEnd)
		if i >= len(raw) {
			return env, ErrMalformedFrame
		}
		if raw[i] == ',' {
			i++
			continue
		}
		if raw[i] == '}' {
			i++
			break
		}
		return env, ErrMalformedFrame
	}

	if !sawOp {
		return env, ErrMissingOp
	}

	return env, nil
}

func isNullLiteral(b []byte) bool {
	return len(b) == 4 && b[0] == 'n' && b[1] == 'u' && b[2] == 'l' && b[3] == 'l'
}

func skipWhitespace(raw []byte, i int) int {
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// scanString reads a JSON string literal starting at the opening quote and
// returns its decoded value (escapes are not unescaped here, only skipped,
// since key/event-type comparisons and output never require unescaping
// beyond what Discord ever sends) and the index just past the closing quote.
func scanString(raw []byte, i int) (string, int, error) {
	if i >= len(raw) || raw[i] != '"' {
		return "", i, ErrMalformedFrame
	}
	start := i + 1
	i++
	for i < len(raw) {
		switch raw[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return string(raw[start:i]), i + 1, nil
		default:
			i++
		}
	}
	return "", i, ErrMalformedFrame
}

// skipValue advances past a single JSON value of any type starting at i,
// returning the index just past it.
func skipValue(raw []byte, i int) (int, error) {
	if i >= len(raw) {
		return i, ErrMalformedFrame
	}

	switch raw[i] {
	case '"':
		_, end, err := scanString(raw, i)
		return end, err
	case '{':
		return skipContainer(raw, i, '{', '}')
	case '[':
		return skipContainer(raw, i, '[', ']')
	case 't':
		return expectLiteral(raw, i, "true")
	case 'f':
		return expectLiteral(raw, i, "false")
	case 'n':
		return expectLiteral(raw, i, "null")
	default:
		return skipNumber(raw, i)
	}
}

func expectLiteral(raw []byte, i int, lit string) (int, error) {
	end := i + len(lit)
	if end > len(raw) || string(raw[i:end]) != lit {
		return i, ErrMalformedFrame
	}
	return end, nil
}

func skipNumber(raw []byte, i int) (int, error) {
	start := i
	if i < len(raw) && raw[i] == '-' {
		i++
	}
	for i < len(raw) {
		c := raw[i]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			i++
			continue
		}
		break
	}
	if i == start {
		return i, ErrMalformedFrame
	}
	return i, nil
}

// skipContainer skips a balanced {..} or [..] span, correctly stepping over
// nested containers and string literals (so braces inside strings are not
// mistaken for structure).
func skipContainer(raw []byte, i int, open, close byte) (int, error) {
	if i >= len(raw) || raw[i] != open {
		return i, ErrMalformedFrame
	}
	depth := 0
	for i < len(raw) {
		switch raw[i] {
		case '"':
			_, end, err := scanString(raw, i)
			if err != nil {
				return i, err
			}
			i = end
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
		i++
	}
	return i, ErrMalformedFrame
}
