package relay

import (
	"bytes"
	"io"
)

// Field names of the event stream format, along with the separator that follows them.
var (
	fieldBytesData    = []byte("data: ")
	fieldBytesEvent   = []byte("event: ")
	fieldBytesComment = []byte(": ")
)

var newline = []byte{'\n'}

// isNewlineChar returns whether the given character is '\n' or '\r'.
func isNewlineChar(b byte) bool {
	return b == '\n' || b == '\r'
}

func isSingleLine(s string) bool {
	for i := 0; i < len(s); i++ {
		if isNewlineChar(s[i]) {
			return false
		}
	}
	return true
}

// A chunk is a single line of a data or comment field. Its text ends with
// the line's newline sequence (\n, \r or \r\n), if it had one.
type chunk struct {
	text       string
	hasNewline bool
	isComment  bool
}

// nextChunk splits the first line off s, keeping its newline sequence.
func nextChunk(s string) (line string, hasNewline bool, rest string) {
	for i := 0; i < len(s); i++ {
		if !isNewlineChar(s[i]) {
			continue
		}
		end := i + 1
		if s[i] == '\r' && end < len(s) && s[end] == '\n' {
			end++
		}
		return s[:end], true, s[end:]
	}
	return s, false, ""
}

func (c *chunk) WriteTo(w io.Writer) (int64, error) {
	name := fieldBytesData
	if c.isComment {
		name = fieldBytesComment
	}
	n, err := w.Write(name)
	if err != nil {
		return int64(n), err
	}
	m, err := io.WriteString(w, c.text)
	n += m
	if err != nil || c.hasNewline {
		return int64(n), err
	}
	m, err = w.Write(newline)
	return int64(n + m), err
}

// A StreamMessage is a single event written to a server-sent events stream.
// The zero value is an empty message, ready to use.
type StreamMessage struct {
	chunks []chunk
	name   string
}

func (e *StreamMessage) appendText(isComment bool, texts ...string) {
	for _, t := range texts {
		for t != "" {
			var c chunk
			c.isComment = isComment
			c.text, c.hasNewline, t = nextChunk(t)
			e.chunks = append(e.chunks, c)
		}
	}
}

// AppendData creates data fields on the message from the given strings, one for each line.
// A line ends at a LF, CR or CRLF sequence; clients join the fields back using LF,
// so CR and CRLF sequences are not preserved.
func (e *StreamMessage) AppendData(data ...string) {
	e.appendText(false, data...)
}

// Comment creates a comment field on the message. If it spans multiple lines,
// new comment lines are created.
func (e *StreamMessage) Comment(comments ...string) {
	e.appendText(true, comments...)
}

// Name returns the message's event name.
func (e *StreamMessage) Name() string {
	return e.name
}

// SetName sets the message's event name.
//
// A name cannot have multiple lines. If it has, the function will return false.
func (e *StreamMessage) SetName(name string) bool {
	if !isSingleLine(name) {
		return false
	}
	e.name = name
	return true
}

func (e *StreamMessage) writeName(w io.Writer) (int64, error) {
	if e.name == "" {
		return 0, nil
	}

	n, err := w.Write(fieldBytesEvent)
	if err != nil {
		return int64(n), err
	}
	m, err := io.WriteString(w, e.name)
	n += m
	if err != nil {
		return int64(n), err
	}
	m, err = w.Write(newline)
	return int64(n + m), err
}

// WriteTo writes the message in the event stream format, terminated by an empty line.
func (e *StreamMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := e.writeName(w)
	if err != nil {
		return n, err
	}
	for i := range e.chunks {
		m, err := e.chunks[i].WriteTo(w)
		n += m
		if err != nil {
			return n, err
		}
	}
	o, err := w.Write(newline)
	return int64(o) + n, err
}

// MarshalText returns the message in the event stream format. The error is always nil.
func (e *StreamMessage) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	_, err := e.WriteTo(&b)
	return b.Bytes(), err
}

// String returns the message in the event stream format.
func (e *StreamMessage) String() string {
	b, _ := e.MarshalText()
	return string(b)
}
