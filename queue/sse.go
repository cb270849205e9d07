package queue

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event: the "event:" name plus the payload
// assembled from its "data:" lines.
type sseEvent struct {
	Name string
	Data string
}

// sseScanner reads server-sent events from an io.Reader. Events are
// delimited by blank lines; comment lines (leading ":") and unknown
// fields are ignored. After Next returns false, Err distinguishes a
// clean EOF from a broken connection.
type sseScanner struct {
	r       *bufio.Reader
	current sseEvent
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{r: bufio.NewReaderSize(r, 32*1024)}
}

func (s *sseScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = sseEvent{}

	var dataLines []string
	var name string
	hasEvent := false

	for {
		line, err := s.r.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				if hasEvent {
					s.current = sseEvent{Name: name, Data: strings.Join(dataLines, "\n")}
					s.err = io.EOF
					return true
				}
				s.err = io.EOF
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if line == "" {
			if hasEvent {
				s.current = sseEvent{Name: name, Data: strings.Join(dataLines, "\n")}
				return true
			}
			name = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field, value = line, ""
		} else {
			// A single leading space in the value is not payload.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasEvent = true
		case "event":
			name = value
			hasEvent = true
		case "id", "retry":
			// Recognized but unused.
		}
	}
}

func (s *sseScanner) Event() sseEvent {
	return s.current
}

func (s *sseScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
