package hl7

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

const (
	// StartBlock is the MLLP start-of-message byte (VT / vertical tab).
	StartBlock = 0x0B

	// EndBlock is the MLLP end-of-message byte (FS / file separator).
	EndBlock = 0x1C

	// CarriageReturn is the trailing CR after the end block.
	CarriageReturn = 0x0D

	// DefaultMaxFrameSize caps a single MLLP payload (1 MiB).
	DefaultMaxFrameSize = 1 << 20
)

// Frame wraps raw HL7 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, data...)
	frame = append(frame, EndBlock, CarriageReturn)
	return frame
}

// Unframe extracts HL7 bytes from an MLLP frame inside data. It discards
// everything before the first start block, then looks for end block + CR.
// It returns the payload, any remaining bytes after the frame, and whether a
// complete frame was found.
func Unframe(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, StartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{EndBlock, CarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// Deframer reads MLLP frames from a byte stream, enforcing a payload size cap.
type Deframer struct {
	r       *bufio.Reader
	maxSize int
}

// NewDeframer wraps r. maxSize <= 0 selects DefaultMaxFrameSize.
func NewDeframer(r io.Reader, maxSize int) *Deframer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Deframer{r: bufio.NewReader(r), maxSize: maxSize}
}

// Next reads one complete frame and returns its payload. io.EOF is returned
// unchanged when the stream ends cleanly between frames; an EOF in the middle
// of a frame yields FrameTruncated, and a payload past the cap yields
// FrameOversize.
func (d *Deframer) Next() ([]byte, error) {
	// Skip noise until the start block.
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	payload := make([]byte, 0, 1024)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, wireErr(CodeFrameTruncated, "stream ended inside MLLP frame")
		}
		if b == EndBlock {
			// Consume the trailing CR when present.
			if next, err := d.r.ReadByte(); err == nil && next != CarriageReturn {
				_ = d.r.UnreadByte()
			}
			return payload, nil
		}
		payload = append(payload, b)
		if len(payload) > d.maxSize {
			return nil, wireErr(CodeFrameOversize, "MLLP payload exceeds maximum size",
				"max_bytes", strconv.Itoa(d.maxSize))
		}
	}
}

// Delimiters holds the five HL7 separators declared in MSH-1/MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters is the French-profile default set "|^~\&".
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	Subcomponent: '&',
}

// delimitersFrom validates MSH-2 and returns the declared separator set.
func delimitersFrom(encoding string) (Delimiters, error) {
	if encoding == "" {
		return DefaultDelimiters, nil
	}
	if len(encoding) != 4 {
		return Delimiters{}, wireErr(CodeUnknownEncoding,
			"MSH-2 must declare exactly four encoding characters", "msh2", encoding)
	}
	return Delimiters{
		Field:        '|',
		Component:    encoding[0],
		Repetition:   encoding[1],
		Escape:       encoding[2],
		Subcomponent: encoding[3],
	}, nil
}

// Escape encodes HL7 separator characters:
//
//	\F\ = |   \S\ = ^   \R\ = ~   \E\ = \   \T\ = &
func Escape(s string) string {
	// Backslash first so later replacements are not re-escaped.
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

// Unescape decodes the \F\ \S\ \T\ \R\ \E\ sequences back into literals.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+2 < len(s) && s[i+2] == '\\' {
			switch s[i+1] {
			case 'F':
				b.WriteByte('|')
				i += 2
				continue
			case 'S':
				b.WriteByte('^')
				i += 2
				continue
			case 'T':
				b.WriteByte('&')
				i += 2
				continue
			case 'R':
				b.WriteByte('~')
				i += 2
				continue
			case 'E':
				b.WriteByte('\\')
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
