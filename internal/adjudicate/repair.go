package adjudicate

import (
	"encoding/json"
	"strings"
)

// extractJSON strips markdown code fences and leading commentary from a model
// response, returning the substring starting at the first JSON container.
// Models occasionally wrap output in ```json fences despite being told not
// to.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	start := obj
	if start < 0 || (arr >= 0 && arr < start) {
		start = arr
	}
	if start > 0 {
		s = s[start:]
	}
	return s
}

// cutPoint is a position in the scanned input where the text up to and
// including the position is structurally complete, so the document can be
// closed there by appending closers.
type cutPoint struct {
	// end is the exclusive offset of the cut.
	end int

	// closers terminates every container open at the cut, innermost first.
	closers string
}

// repairTruncated closes a JSON document that was cut off mid-stream. It
// scans the input tracking string and container state, records every offset
// where a value has just ended, then walks those offsets from the rightmost
// backwards, dropping trailing separators and appending the closers recorded
// for that offset, and returns the first candidate that parses. Cutting only
// at value boundaries guarantees the result never contains a dangling
// unterminated string.
func repairTruncated(s string) (string, error) {
	if json.Valid([]byte(s)) {
		return s, nil
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
		points   []cutPoint
	)

	record := func(end int) {
		closers := make([]byte, len(stack))
		for i := range stack {
			closers[i] = stack[len(stack)-1-i]
		}
		points = append(points, cutPoint{end: end, closers: string(closers)})
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				record(i + 1)
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				// Structurally invalid beyond truncation; stop scanning and
				// try the cut points gathered so far.
				i = len(s)
				break
			}
			stack = stack[:len(stack)-1]
			record(i + 1)
		case ',':
			record(i)
		case 'e', 'l': // true/false/null ends
			record(i + 1)
		default:
			if c >= '0' && c <= '9' {
				record(i + 1)
			}
		}
	}

	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		body := strings.TrimRight(s[:p.end], " \t\r\n,")
		candidate := body + p.closers
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrTruncated
}
