package hl7

import (
	"strings"
	"time"
)

// Message is a tokenized HL7 v2 message. Field values are kept verbatim so
// serialization round-trips the wire form, including empty fields.
type Message struct {
	Delims   Delimiters
	Segments []Segment
}

// Segment is a single HL7 segment.
type Segment struct {
	Name   string // "MSH", "PID", "PV1", "ZBE", ...
	Fields []Field
}

// Field holds a raw field value plus its repetition/component breakdown.
type Field struct {
	Value   string
	Repeats [][]string // repetition (~) x component (^)
}

// Components returns the component split of the first repetition.
func (f Field) Components() []string {
	if len(f.Repeats) == 0 {
		return []string{f.Value}
	}
	return f.Repeats[0]
}

// Parse tokenizes raw HL7 bytes. Segments split on CR (LF and CRLF are
// tolerated), fields on '|', repetitions on '~', components on '^'. The first
// segment must be MSH; MSH-2 declares the separator set.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, parseErr(CodeMissingMSH, "message is empty")
	}

	text := string(raw)
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, parseErr(CodeMissingMSH, "no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH|") {
		return nil, parseErr(CodeMissingMSH, "first segment must be MSH",
			"got", lines[0][:min(3, len(lines[0]))])
	}

	// MSH-2 is the four encoding characters directly after "MSH|".
	encEnd := strings.IndexByte(lines[0][4:], '|')
	encoding := ""
	if encEnd >= 0 {
		encoding = lines[0][4 : 4+encEnd]
	} else {
		encoding = lines[0][4:]
	}
	delims, err := delimitersFrom(encoding)
	if err != nil {
		return nil, err
	}

	msg := &Message{Delims: delims}
	for _, line := range lines {
		msg.Segments = append(msg.Segments, parseSegment(line, delims))
	}
	return msg, nil
}

// parseSegment tokenizes one segment line.
func parseSegment(line string, delims Delimiters) Segment {
	seg := Segment{}

	// MSH is special: MSH-1 is the field separator character itself and MSH-2
	// must not be split on its own separators.
	if strings.HasPrefix(line, "MSH|") {
		seg.Name = "MSH"
		seg.Fields = append(seg.Fields, Field{Value: "|", Repeats: [][]string{{"|"}}})
		rest := strings.Split(line[4:], "|")
		for i, f := range rest {
			if i == 0 {
				// Encoding characters: verbatim, never tokenized.
				seg.Fields = append(seg.Fields, Field{Value: f, Repeats: [][]string{{f}}})
				continue
			}
			seg.Fields = append(seg.Fields, parseField(f, delims))
		}
		return seg
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f, delims))
		}
	}
	return seg
}

func parseField(raw string, delims Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(delims.Repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(delims.Component)))
	}
	return f
}

// Serialize renders the message back into wire form with CR separators.
func (m *Message) Serialize() []byte {
	parts := make([]string, 0, len(m.Segments))
	for _, seg := range m.Segments {
		parts = append(parts, seg.serialize())
	}
	return []byte(strings.Join(parts, "\r"))
}

func (s Segment) serialize() string {
	if s.Name == "MSH" {
		if len(s.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(s.Fields)-1)
		for i := 1; i < len(s.Fields); i++ {
			parts = append(parts, s.Fields[i].Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Value
	}
	return s.Name + "|" + strings.Join(parts, "|")
}

// Segment returns the first segment with the given name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// AllSegments returns every segment with the given name.
func (m *Message) AllSegments(name string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// Field returns a field value by 1-based HL7 index. For MSH, index 1 is the
// separator character itself.
func (s *Segment) Field(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// Component returns a component value by 1-based field and component indices,
// from the first repetition.
func (s *Segment) Component(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components()
	if compIdx-1 < 0 || compIdx-1 >= len(comps) {
		return ""
	}
	return comps[compIdx-1]
}

// Repetitions returns all repetitions of a field as component slices.
func (s *Segment) Repetitions(fieldIdx int) [][]string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	if s.Fields[idx].Value == "" {
		return nil
	}
	return s.Fields[idx].Repeats
}

// Subcomponent splits a component on '&' and returns the 1-based entry.
func Subcomponent(component string, idx int) string {
	subs := strings.Split(component, "&")
	if idx-1 < 0 || idx-1 >= len(subs) {
		return ""
	}
	return subs[idx-1]
}

// ParseTimestamp parses HL7 date/time strings: 8 digits are a date, 12 or 14
// digits a timestamp. The segment/position tags feed the error context.
func ParseTimestamp(s, segment, position string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var t time.Time
	var err error
	switch {
	case len(s) >= 14:
		t, err = time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		t, err = time.Parse("200601021504", s[:12])
	case len(s) == 8:
		t, err = time.Parse("20060102", s)
	default:
		err = parseErr(CodeDateFormatInvalid, "unrecognized date/time form",
			"segment", segment, "position", position, "value", s)
		return time.Time{}, err
	}
	if err != nil {
		return time.Time{}, parseErr(CodeDateFormatInvalid, "malformed date/time",
			"segment", segment, "position", position, "value", s)
	}
	return t, nil
}

// FormatTimestamp renders a 14-digit HL7 timestamp.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// FormatDate renders an 8-digit HL7 date.
func FormatDate(t time.Time) string {
	return t.Format("20060102")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
