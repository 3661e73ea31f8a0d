package protocol

import (
	"bufio"
	"errors"
	"io"
)

// MaxRecordBytes caps a single record. A peer that streams more than this
// without a newline is not speaking the protocol.
const MaxRecordBytes = 64 * 1024

// ErrRecordTooLong is returned by LineReader.Next when a record exceeds
// MaxRecordBytes. The stream is unusable afterwards.
var ErrRecordTooLong = errors.New("record exceeds maximum length")

// LineReader splits a byte stream into newline-terminated records. It
// buffers across reads, so one read may yield several records and a
// record may span several reads.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r for record-at-a-time reading.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next record with its trailing newline removed. When
// the stream ends with an unterminated fragment, the fragment is
// returned together with the read error; callers should process the
// record, if non-empty, before acting on the error.
func (lr *LineReader) Next() (string, error) {
	var buf []byte
	for {
		frag, err := lr.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if err == bufio.ErrBufferFull {
			if len(buf) > MaxRecordBytes {
				return "", ErrRecordTooLong
			}
			continue
		}
		if n := len(buf); n > 0 && buf[n-1] == '\n' {
			return string(buf[:n-1]), nil
		}
		return string(buf), err
	}
}
