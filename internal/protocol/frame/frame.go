// Package frame implements Content-Length framing for JSON-RPC messages.
//
// One frame is an ASCII header terminated by \r\n\r\n followed by exactly
// Content-Length bytes of UTF-8 JSON. The length counts bytes, not
// characters.
package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/codyctl/internal/protocol"
)

const headerTerminator = "\r\n\r\n"

// Limits constrains frame decode memory use.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 4 * 1024,
		MaxBodyBytes:   16 * 1024 * 1024,
	}
}

// WriteMessage encodes msg as compact JSON and writes one complete frame to w.
func WriteMessage(w io.Writer, msg protocol.Message, limits Limits) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("frame: encode message: %w", err)
	}
	if limits.MaxBodyBytes > 0 && len(body) > limits.MaxBodyBytes {
		return protocol.ErrBodyTooLarge
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d%s", len(body), headerTerminator); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads exactly one frame from r and decodes its body.
//
// The reader is consumed byte-for-byte up to the end of the declared body and
// no further, so r remains positioned at the start of the next frame. Framing
// failures are unrecoverable mid-stream; the caller must treat the connection
// as unusable after any non-nil error other than io.EOF.
func ReadMessage(r *bufio.Reader, limits Limits) (protocol.Message, error) {
	header, err := readHeader(r, limits)
	if err != nil {
		return protocol.Message{}, err
	}

	length, err := contentLength(header)
	if err != nil {
		return protocol.Message{}, err
	}
	if limits.MaxBodyBytes > 0 && length > limits.MaxBodyBytes {
		return protocol.Message{}, protocol.ErrBodyTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return protocol.Message{}, protocol.ErrTruncated
		}
		return protocol.Message{}, err
	}

	var msg protocol.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", protocol.ErrInvalidBody, err)
	}
	return msg, nil
}

// readHeader consumes bytes until the \r\n\r\n terminator, inclusive.
// Reads one byte at a time so the buffered reader never holds bytes past the
// frame boundary it was asked for.
func readHeader(r *bufio.Reader, limits Limits) ([]byte, error) {
	var header bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && header.Len() == 0 {
				return nil, io.EOF
			}
			return nil, protocol.ErrTruncated
		}
		header.WriteByte(b)
		if limits.MaxHeaderBytes > 0 && header.Len() > limits.MaxHeaderBytes {
			return nil, protocol.ErrHeaderTooLarge
		}
		if header.Len() >= len(headerTerminator) &&
			bytes.HasSuffix(header.Bytes(), []byte(headerTerminator)) {
			return header.Bytes(), nil
		}
	}
}

// contentLength extracts the Content-Length field from a raw header block.
func contentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, protocol.ErrInvalidContentLength
		}
		return n, nil
	}
	return 0, protocol.ErrMissingContentLength
}
