package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	textunicode "golang.org/x/text/encoding/unicode"
)

const (
	// Delimiter terminates every frame and every server message.
	Delimiter = '\n'

	// DefaultMaxFrameSize bounds a single line, delimiter included.
	DefaultMaxFrameSize = 4096

	// minFrameSize is the smallest buffer bufio will allocate.
	minFrameSize = 16
)

var (
	// ErrEmptyFrame is returned for a line carrying no opcode. Callers skip it.
	ErrEmptyFrame = errors.New("protocol: empty frame")

	// ErrFrameTooLarge is returned when a line exceeds the reader's maximum
	// size. The oversized line has been consumed through its delimiter.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// Frame is one decoded client-to-server command.
type Frame struct {
	Op      Opcode
	Payload string
}

// DecodeFrame decodes one raw line (delimiter included, if present).
// A line of zero or one byte is ErrEmptyFrame. The payload is decoded
// lossily: invalid UTF-8 is replaced, never rejected.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) <= 1 {
		return Frame{}, ErrEmptyFrame
	}
	body := trimDelimiter(raw[1:])
	return Frame{Op: Opcode(raw[0]), Payload: DecodeText(body)}, nil
}

// EncodeFrame builds the wire form of a client command. Line breaks inside
// the payload are flattened to spaces so they cannot split the frame.
func EncodeFrame(op Opcode, payload string) []byte {
	payload = flattenLines(payload)
	buf := make([]byte, 0, len(payload)+2)
	buf = append(buf, byte(op))
	buf = append(buf, payload...)
	return append(buf, Delimiter)
}

// EncodeLine builds a server push: the text followed by exactly one newline.
func EncodeLine(text string) []byte {
	text = strings.TrimRight(text, "\r\n")
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	return append(buf, Delimiter)
}

// DecodeText converts raw bytes to a string, replacing invalid UTF-8
// sequences with U+FFFD.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := textunicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

// FrameReader reads newline-delimited lines of bounded size from a stream.
type FrameReader struct {
	r   *bufio.Reader
	max int
}

// NewFrameReader wraps r. A maxFrameSize below the bufio minimum falls back
// to DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxFrameSize int) *FrameReader {
	if maxFrameSize < minFrameSize {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: bufio.NewReaderSize(r, maxFrameSize), max: maxFrameSize}
}

// MaxFrameSize returns the line size limit, delimiter included.
func (fr *FrameReader) MaxFrameSize() int {
	return fr.max
}

// ReadLine returns the next raw line including its delimiter. A final line
// cut short by EOF is returned without one; the following call reports EOF.
func (fr *FrameReader) ReadLine() ([]byte, error) {
	line, err := fr.r.ReadSlice(Delimiter)
	switch {
	case err == nil:
		return bytes.Clone(line), nil
	case errors.Is(err, bufio.ErrBufferFull):
		if derr := fr.discardLine(); derr != nil {
			return nil, derr
		}
		return nil, ErrFrameTooLarge
	case errors.Is(err, io.EOF) && len(line) > 0:
		return bytes.Clone(line), nil
	default:
		return nil, err
	}
}

// ReadFrame reads and decodes the next frame. ErrEmptyFrame and
// ErrFrameTooLarge leave the reader usable.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	line, err := fr.ReadLine()
	if err != nil {
		return Frame{}, err
	}
	return DecodeFrame(line)
}

func (fr *FrameReader) discardLine() error {
	for {
		_, err := fr.r.ReadSlice(Delimiter)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func trimDelimiter(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{Delimiter})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

func flattenLines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
