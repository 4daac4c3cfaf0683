package lsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// maxHeaderBytes bounds how much unterminated header data is buffered before
// the framer drops garbage and re-synchronises on the next Content-Length.
const maxHeaderBytes = 8 * 1024

var contentLengthKey = []byte("content-length")

// Framer splits a Content-Length framed byte stream into messages.
// It is not safe for concurrent use; each connection owns one reader goroutine.
type Framer struct {
	buf      []byte
	dispatch func(Message)
	onError  func(error)
}

// NewFramer returns a framer that calls dispatch for every decoded message.
func NewFramer(dispatch func(Message)) *Framer {
	return &Framer{
		dispatch: dispatch,
		onError: func(err error) {
			slog.Warn("lsp frame dropped", "error", err)
		},
	}
}

// Buffered returns the number of bytes waiting for a complete frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Push appends chunk and dispatches every complete message now available.
func (f *Framer) Push(chunk []byte) {
	f.buf = append(f.buf, chunk...)

	for len(f.buf) > 0 {
		end, sepLen := headerEnd(f.buf)
		if end < 0 {
			if len(f.buf) > maxHeaderBytes {
				f.resync()
			}
			break
		}

		bodyStart := end + sepLen
		n, err := parseContentLength(f.buf[:end])
		if err != nil {
			f.onError(&lspDomain.ProtocolError{Reason: "bad header block", Err: err})
			f.buf = f.buf[bodyStart:]
			continue
		}
		if len(f.buf)-bodyStart < n {
			break
		}

		body := f.buf[bodyStart : bodyStart+n]
		msg, err := DecodeMessage(body)
		f.buf = f.buf[bodyStart+n:]
		if err != nil {
			f.onError(err)
			continue
		}
		f.dispatch(msg)
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
}

// ReadFrom drives Push from r until EOF. It returns nil on a clean EOF.
func (f *Framer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			f.Push(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// resync drops buffered bytes up to the last Content-Length occurrence. When
// there is none, only a short tail is kept in case the key straddles chunks.
func (f *Framer) resync() {
	// The block at offset 0 is the one that overflowed, so search past it.
	idx := bytes.LastIndex(asciiLower(f.buf[1:]), contentLengthKey)
	if idx >= 0 {
		idx++
	} else {
		idx = len(f.buf) - (len(contentLengthKey) - 1)
	}
	f.onError(&lspDomain.ProtocolError{Reason: fmt.Sprintf("discarded %d bytes of unframed data", idx)})
	f.buf = append([]byte(nil), f.buf[idx:]...)
}

// headerEnd returns the index of the earliest header terminator and its length.
// Both "\r\n\r\n" and "\n\n" are accepted.
func headerEnd(b []byte) (int, int) {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case crlf < 0:
		return lf, 2
	case lf < 0 || crlf < lf:
		return crlf, 4
	default:
		return lf, 2
	}
}

// parseContentLength finds the last Content-Length field in a header block.
// The key may be preceded by stray bytes on its line, such as the tail of a
// dropped body or unframed server output, so it is matched anywhere.
func parseContentLength(header []byte) (int, error) {
	lower := asciiLower(header)
	for end := len(lower); ; {
		idx := bytes.LastIndex(lower[:end], contentLengthKey)
		if idx < 0 {
			return 0, errors.New("missing Content-Length header")
		}
		rest := strings.TrimLeft(string(header[idx+len(contentLengthKey):]), " \t")
		if !strings.HasPrefix(rest, ":") {
			end = idx
			continue
		}
		value, _, _ := strings.Cut(rest[1:], "\n")
		value = strings.TrimSpace(value)
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid Content-Length %q", value)
		}
		return n, nil
	}
}

// asciiLower lower-cases A-Z only, so offsets into the result match the input.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// WriteFrame writes body with a Content-Length header in a single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
