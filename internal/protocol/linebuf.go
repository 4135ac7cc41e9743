package protocol

import "bytes"

// LineBuffer accumulates bytes from successive reads and yields
// complete lines with the trailing "\n" or "\r\n" removed. A pending
// line reaching Max bytes without a newline is yielded as is.
type LineBuffer struct {
	Max int
	buf []byte
}

func NewLineBuffer(max int) *LineBuffer {
	return &LineBuffer{Max: max}
}

func (l *LineBuffer) Feed(p []byte) []string {
	l.buf = append(l.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(l.buf[:i], []byte{'\r'})))
		l.buf = l.buf[i+1:]
	}

	for l.Max > 0 && len(l.buf) >= l.Max {
		lines = append(lines, string(l.buf[:l.Max]))
		l.buf = l.buf[l.Max:]
	}

	if len(l.buf) == 0 {
		l.buf = nil
	}
	return lines
}

// Pending reports how many bytes are waiting for a newline.
func (l *LineBuffer) Pending() int { return len(l.buf) }
