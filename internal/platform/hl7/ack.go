package hl7

import (
	"fmt"
	"strings"
	"time"
)

// Acknowledgment codes (MSA-1).
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// Ack describes the acknowledgment to return for one inbound message.
type Ack struct {
	Code      string // MSA-1
	ControlID string // MSA-2, echo of the inbound MSH-10
	Text      string // MSA-3
	ErrCode   string // ERR-3 when Code != AA
}

// IsAccept reports whether the ACK is a plain AA.
func (a Ack) IsAccept() bool { return a.Code == AckAccept }

// AckFor derives the ACK for a failed inbound message from the typed error.
func AckFor(controlID string, err error) Ack {
	e := AsError(err)
	text := e.Message
	if text == "" {
		text = e.Code
	}
	return Ack{
		Code:      e.AckCode(),
		ControlID: controlID,
		Text:      text,
		ErrCode:   e.Code,
	}
}

// BuildAck renders an ACK message for the given inbound header. Sender and
// receiver identities are swapped; MSA-2 echoes the inbound control id. On
// non-AA outcomes an ERR segment carries the stable error code.
func BuildAck(in MSHRecord, ack Ack, now time.Time) []byte {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ts := FormatTimestamp(now)
	controlID := "ACK" + now.Format("20060102150405.000")

	version := in.Version
	if version == "" {
		version = "2.5"
	}

	msh := strings.Join([]string{
		"MSH", `^~\&`,
		in.ReceivingApp, in.ReceivingFacility,
		in.SendingApp, in.SendingFacility,
		ts, "",
		"ACK^" + in.Trigger,
		controlID, "P", version,
	}, "|")

	msa := fmt.Sprintf("MSA|%s|%s", ack.Code, ack.ControlID)
	if ack.Text != "" {
		msa += "|" + Escape(ack.Text)
	}

	segments := []string{msh, msa}
	if ack.Code != AckAccept && ack.ErrCode != "" {
		severity := "E"
		if ack.Code == AckReject {
			severity = "W"
		}
		segments = append(segments, fmt.Sprintf("ERR|||%s|%s", ack.ErrCode, severity))
	}

	return []byte(strings.Join(segments, "\r"))
}

// ParseAck reads MSA-1/MSA-2/MSA-3 out of an ACK payload.
func ParseAck(raw []byte) (Ack, error) {
	msg, err := Parse(raw)
	if err != nil {
		return Ack{}, err
	}
	msa := msg.Segment("MSA")
	if msa == nil {
		return Ack{}, parseErr(CodeFieldCount, "ACK carries no MSA segment")
	}
	return Ack{
		Code:      msa.Field(1),
		ControlID: msa.Field(2),
		Text:      Unescape(msa.Field(3)),
	}, nil
}
