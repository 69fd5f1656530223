package transport

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var errFrameTooLong = errors.New("frame exceeds size limit")

// readFrame returns the next line without its line terminator. A line
// longer than limit is read to its end, discarded and reported as
// errFrameTooLong; the reader is then positioned at the following line.
// A final line without a newline is returned before io.EOF.
func readFrame(r *bufio.Reader, limit int) (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 { // room for the newline
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return "", errFrameTooLong
			}
			return strings.TrimRight(string(buf), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0 && !tooLong:
			return strings.TrimRight(string(buf), "\r\n"), nil
		default:
			return "", err
		}
	}
}
