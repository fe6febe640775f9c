package chatapi

import (
	"bufio"
	"bytes"
	"io"
)

const maxSSELine = 4 << 20

type sseFrame struct {
	Event string
	Data  []byte
}

// sseReader splits a text/event-stream body into frames. Only the "event" and
// "data" fields are interpreted; ids, retry hints and comments are skipped.
type sseReader struct {
	sc *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxSSELine)
	return &sseReader{sc: sc}
}

// Next returns the next frame with a non-empty data field, or io.EOF.
func (r *sseReader) Next() (sseFrame, error) {
	var (
		frame   sseFrame
		data    bytes.Buffer
		hasData bool
	)
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			if hasData {
				frame.Data = data.Bytes()
				return frame, nil
			}
			frame = sseFrame{}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}
		switch string(field) {
		case "event":
			frame.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		}
	}
	if err := r.sc.Err(); err != nil {
		return sseFrame{}, err
	}
	if hasData {
		frame.Data = data.Bytes()
		return frame, nil
	}
	return sseFrame{}, io.EOF
}
