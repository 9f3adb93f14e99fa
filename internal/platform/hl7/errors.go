package hl7

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies gateway errors by how the caller should react.
type ErrorKind string

const (
	// KindWire covers MLLP framing problems. ACKed as AR (sender may retry).
	KindWire ErrorKind = "wire"

	// KindParse covers HL7 tokenizing and segment extraction problems. ACKed as AE.
	KindParse ErrorKind = "parse"

	// KindSemantic covers domain rule violations (transitions, identity, ZBE). ACKed as AE.
	KindSemantic ErrorKind = "semantic"

	// KindTransient covers serialization conflicts the sender should retry. ACKed as AR.
	KindTransient ErrorKind = "transient"

	// KindSubscriber covers outbound-only delivery failures. Never surfaced inbound.
	KindSubscriber ErrorKind = "subscriber"
)

// Stable error codes. The code string is part of the wire contract: it appears
// in MSA-3 / ERR segments and in message log rows.
const (
	CodeFrameTruncated  = "FrameTruncated"
	CodeFrameOversize   = "FrameOversize"
	CodeUnknownEncoding = "UnknownEncoding"

	CodeMissingMSH        = "MissingMSH"
	CodeMissingMSH9       = "MissingMSH9"
	CodeInvalidMSH9       = "InvalidMSH9"
	CodeUnknownSegment    = "UnknownSegment"
	CodeDateFormatInvalid = "DateFormatInvalid"
	CodeFieldCount        = "FieldCountMismatch"
	CodeMissingPV1        = "MissingPV1"

	CodeUnsupportedTrigger        = "UnsupportedTrigger"
	CodeInvalidTransition         = "InvalidTransition"
	CodeInvalidClassChange        = "InvalidClassChange"
	CodeInvalidCorrectionContext  = "InvalidCorrectionContext"
	CodeAmbiguousIdentity         = "AmbiguousIdentity"
	CodeMissingZBE                = "MissingZBE"
	CodeMissingMRG                = "MergeSegmentMissing"
	CodeInvalidZ99Target          = "InvalidZ99Target"
	CodeStrictModeBlocked         = "StrictModeBlocked"
	CodeSequenceConflict          = "SequenceAllocationConflict"
	CodeSerializationFailure      = "TransactionSerializationFailure"

	CodeGeneratorError    = "GeneratorError"
	CodeSendTimeout       = "SendTimeout"
	CodeAckNotAA          = "AckNotAA"
	CodeConnectionRefused = "ConnectionRefused"
)

// Error is the typed gateway error. Every error that crosses a component
// boundary carries a kind, a stable code, a human-readable message and an
// optional context map (segment, field position, state, trigger...).
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Context map[string]string
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, 0, len(e.Context))
	for k, v := range e.Context {
		parts = append(parts, k+"="+v)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, " "))
}

// AckCode maps the error kind to the MSA-1 acknowledgment code.
func (e *Error) AckCode() string {
	switch e.Kind {
	case KindWire, KindTransient:
		return AckReject
	default:
		return AckError
	}
}

// NewError builds a typed error. Context pairs are given as alternating
// key/value strings.
func NewError(kind ErrorKind, code, message string, kv ...string) *Error {
	e := &Error{Kind: kind, Code: code, Message: message}
	if len(kv) > 0 {
		e.Context = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Context[kv[i]] = kv[i+1]
		}
	}
	return e
}

func wireErr(code, message string, kv ...string) *Error {
	return NewError(KindWire, code, message, kv...)
}

func parseErr(code, message string, kv ...string) *Error {
	return NewError(KindParse, code, message, kv...)
}

// SemanticErr builds a semantic (AE) error.
func SemanticErr(code, message string, kv ...string) *Error {
	return NewError(KindSemantic, code, message, kv...)
}

// TransientErr builds a transient (AR) error.
func TransientErr(code, message string, kv ...string) *Error {
	return NewError(KindTransient, code, message, kv...)
}

// SubscriberErr builds an outbound delivery error.
func SubscriberErr(code, message string, kv ...string) *Error {
	return NewError(KindSubscriber, code, message, kv...)
}

// AsError unwraps err into a typed *Error, or wraps it as an internal parse
// error when the chain carries no typed error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindParse, Code: "InternalError", Message: err.Error()}
}

// CodeOf returns the stable code of err, or empty when untyped.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
