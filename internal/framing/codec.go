// Package framing implements the Content-Length framing shared by LSP and DAP.
//
//	Content-Length: <decimal bytes>\r\n
//	\r\n
//	<UTF-8 JSON of exactly <bytes> octets>
package framing

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// MaxBodySize caps a single frame body.
	MaxBodySize = 256 << 20
	// MaxHeaderLine caps one header line, terminator included.
	MaxHeaderLine = 8 << 10
	// MaxHeaderBlock caps everything read before a frame body.
	MaxHeaderBlock = 64 << 10
)

var (
	// ErrUnexpectedEOF reports a stream that ended inside a frame.
	ErrUnexpectedEOF = errors.New("framing: unexpected eof")
	// ErrInvalidHeader reports a header line or block over its size cap.
	ErrInvalidHeader = errors.New("framing: invalid header")
	// ErrMissingContentLength reports a header block without Content-Length.
	ErrMissingContentLength = errors.New("framing: missing content-length header")
	// ErrInvalidContentLength reports a Content-Length that is not a usable size.
	ErrInvalidContentLength = errors.New("framing: invalid content-length header")
	// ErrTruncatedBody reports a body shorter than its Content-Length.
	ErrTruncatedBody = errors.New("framing: truncated body")
	// ErrInvalidUTF8 reports a body that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("framing: body is not valid utf-8")
	// ErrInvalidJSON reports a body that is not a single JSON value.
	ErrInvalidJSON = errors.New("framing: body is not valid json")
)

// Reader decodes frames. It is not safe for concurrent use.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the body of the next frame. A stream that ends cleanly between
// frames yields io.EOF. Any other error is fatal for the stream.
func (r *Reader) Next() (json.RawMessage, error) {
	length := -1
	headers := 0
	budget := MaxHeaderBlock
	for {
		line, err := r.readLine(min(MaxHeaderLine, budget))
		budget -= len(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if headers == 0 && strings.TrimSpace(line) == "" {
					return nil, io.EOF
				}
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" && headers > 0 {
			break
		}
		if strings.TrimSpace(line) == "" && headers == 0 {
			// Whitespace between frames.
			continue
		}
		headers++
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 || n > MaxBodySize {
			return nil, fmt.Errorf("%w: %q", ErrInvalidContentLength, strings.TrimSpace(value))
		}
		length = n
	}
	if length < 0 {
		return nil, ErrMissingContentLength
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedBody
		}
		return nil, err
	}
	if !utf8.Valid(body) {
		return nil, ErrInvalidUTF8
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(body), nil
}

// readLine reads up to and including the next newline. A line longer than
// limit fails with ErrInvalidHeader without reading the rest of it.
func (r *Reader) readLine(limit int) (string, error) {
	var line []byte
	for {
		frag, err := r.r.ReadSlice('\n')
		if len(line)+len(frag) > limit {
			return "", fmt.Errorf("%w: header exceeds %d bytes", ErrInvalidHeader, limit)
		}
		line = append(line, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// Writer encodes frames. It is safe for concurrent use; each frame is written
// with a single Write call.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw frames body as-is.
func (w *Writer) WriteRaw(body []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(body)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf.Bytes())
	return err
}

// Write marshals v and frames it.
func (w *Writer) Write(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(body)
}
