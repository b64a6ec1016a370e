package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// RecordReader parses a chunked "data: <json>\n\n" stream into events. Records
// split across reads are reassembled before decoding, so the sequence of
// events does not depend on how the underlying reader chunks its bytes.
//
// Lines starting with ':' are comments; fields other than "data" are
// ignored; multiple data lines in one record are joined with '\n'.
type RecordReader struct {
	r    *bufio.Reader
	data bytes.Buffer
	n    int
}

// NewRecordReader wraps r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns the next event. At end of input any pending record is flushed
// first; then Next returns io.EOF. Pong records are returned like any other;
// callers decide whether to deliver them.
func (rr *RecordReader) Next() (Event, error) {
	for {
		line, err := rr.r.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok, derr := rr.line(line); derr != nil {
				return Event{}, derr
			} else if ok {
				return ev, nil
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			if rr.n > 0 {
				return rr.flush()
			}
			return Event{}, io.EOF
		}
	}
}

// line consumes one line and reports a completed record.
func (rr *RecordReader) line(line []byte) (Event, bool, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		if rr.n == 0 {
			return Event{}, false, nil
		}
		ev, err := rr.flush()
		return ev, err == nil, err
	}
	if line[0] == ':' {
		return Event{}, false, nil
	}
	field, value, _ := bytes.Cut(line, []byte(":"))
	if string(field) != "data" {
		return Event{}, false, nil
	}
	value = bytes.TrimPrefix(value, []byte(" "))
	if rr.n > 0 {
		rr.data.WriteByte('\n')
	}
	rr.data.Write(value)
	rr.n++
	return Event{}, false, nil
}

func (rr *RecordReader) flush() (Event, error) {
	payload := bytes.Clone(rr.data.Bytes())
	rr.data.Reset()
	rr.n = 0
	return DecodeEvent(payload)
}

// ParseRecords decodes every record in b.
func ParseRecords(b []byte) ([]Event, error) {
	rr := NewRecordReader(bytes.NewReader(b))
	var out []Event
	for {
		ev, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
