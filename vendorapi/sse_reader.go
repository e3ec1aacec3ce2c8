package vendorapi

import (
	"bufio"
	"io"
	"strings"
)

// SSERawEvent is one parsed server-sent event.
type SSERawEvent struct {
	Event string
	Data  string
	ID    string
}

// SSEReader incrementally parses a text/event-stream body. One reader owns
// one response body; it is not safe for concurrent use.
type SSEReader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewSSEReader creates a reader over an open event-stream body.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{scanner: sc}
}

// LastID returns the most recent event id seen on the stream, for
// Last-Event-ID resume on reconnect.
func (s *SSEReader) LastID() string { return s.lastID }

// Next blocks until a complete event is available and returns it.
// io.EOF signals the end of the stream.
func (s *SSEReader) Next() (SSERawEvent, error) {
	ev := SSERawEvent{}
	var data []string
	dirty := false

	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")

		if line == "" {
			// Blank line dispatches the accumulated event. Consecutive
			// blanks between events are skipped.
			if !dirty {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if line[0] == ':' {
			continue // comment / keepalive
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
			s.lastID = value
		case "retry":
			// Server-suggested reconnect delay; the session manager owns
			// backoff, so it is ignored here.
			continue
		default:
			continue
		}
		dirty = true
	}

	if err := s.scanner.Err(); err != nil {
		return SSERawEvent{}, err
	}
	if dirty {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return SSERawEvent{}, io.EOF
}
