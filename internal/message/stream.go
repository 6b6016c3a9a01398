package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Delimiter separates messages on stream transports. Compact JSON never
// contains a raw newline, so it cannot appear inside an encoded payload.
const Delimiter = '\n'

// EncodeFrame encodes m and appends the stream delimiter.
func EncodeFrame(m Message) ([]byte, error) {
	b, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return append(b, Delimiter), nil
}

// MaxFrame bounds one stream frame, delimiter included.
const MaxFrame = 64 * 1024

// ErrFrameTooLarge means a frame exceeded MaxFrame. The stream cannot be
// resynchronized and should be closed.
var ErrFrameTooLarge = errors.New("frame too large")

// StreamReader splits a byte stream into delimiter-terminated messages.
// Partial frames stay buffered until the delimiter arrives.
type StreamReader struct {
	sc *bufio.Scanner
}

func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), MaxFrame)
	sc.Split(scanFrames)
	return &StreamReader{sc: sc}
}

// scanFrames is bufio.ScanLines without stripping the delimiter, so token
// length is the size on the wire. A trailing token without delimiter is
// returned as is.
func scanFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, Delimiter); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next returns the next message and its size on the wire, delimiter included.
// Blank lines are skipped and their bytes are added to the size of the next
// frame. A malformed frame returns ErrMalformedPayload with its size; the
// stream stays usable. An unterminated frame at EOF returns
// io.ErrUnexpectedEOF, and a frame longer than MaxFrame ErrFrameTooLarge.
func (s *StreamReader) Next() (Message, int, error) {
	skipped := 0
	for s.sc.Scan() {
		line := s.sc.Bytes()
		payload := bytes.TrimSpace(line)
		if line[len(line)-1] != Delimiter {
			if len(payload) > 0 {
				return Message{}, skipped, io.ErrUnexpectedEOF
			}
			skipped += len(line)
			break
		}
		if len(payload) == 0 {
			skipped += len(line)
			continue
		}
		m, err := Decode(payload)
		return m, skipped + len(line), err
	}
	if err := s.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Message{}, skipped, fmt.Errorf("%w: over %d bytes", ErrFrameTooLarge, MaxFrame)
		}
		return Message{}, skipped, err
	}
	return Message{}, skipped, io.EOF
}
