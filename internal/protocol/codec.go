package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var (
	ErrEmptyLine   = errors.New("protocol: empty line")
	ErrMalformed   = errors.New("protocol: malformed envelope")
	ErrMissingType = errors.New("protocol: missing type")
	ErrInvalid     = errors.New("protocol: invalid envelope")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(envelopeRules, Envelope{})
	v.RegisterStructValidation(mediaHeaderRules, MediaHeader{})
	return v
}

// envelopeRules enforces the required fields of each client kind.
func envelopeRules(sl validator.StructLevel) {
	e := sl.Current().Interface().(Envelope)

	require := func(value, field string) {
		if value == "" {
			sl.ReportError(value, field, field, "required", "")
		}
	}
	requireOneOf := func(a, fa, b, fb string) {
		if a == "" && b == "" {
			sl.ReportError(a, fa, fa, "required_without", fb)
		}
	}

	switch e.Type {
	case KindBroadcast:
		require(e.Msg, "Msg")
	case KindPrivate:
		require(e.To, "To")
		require(e.Msg, "Msg")
	case KindRoomMessage:
		require(e.Room, "Room")
		require(e.Msg, "Msg")
	case KindCreateRoom, KindJoinRoom, KindLeaveRoom, KindGroupCallRequest, KindGroupCallJoin:
		require(e.Room, "Room")
	case KindFileInit, KindFile:
		requireOneOf(e.To, "To", e.Room, "Room")
		require(e.Filename, "Filename")
	case KindFileChunk, KindFileEnd:
		requireOneOf(e.To, "To", e.Room, "Room")
	case KindMediaRegister:
		if e.Port == 0 {
			sl.ReportError(e.Port, "Port", "Port", "required", "")
		}
	case KindCallRequest, KindCallAccepted, KindCallRejected:
		require(e.To, "To")
	case KindCallResponse:
		require(e.To, "To")
		if e.Accepted == nil {
			sl.ReportError(e.Accepted, "Accepted", "Accepted", "required", "")
		}
	case KindEndCall:
		if e.IsGroup {
			require(e.Room, "Room")
		}
	case KindCallData:
		requireOneOf(e.Target(), "Peer", e.Room, "Room")
	}
}

// Decode parses and validates one line. Unknown kinds decode successfully so
// the caller can answer them; anything that fails validation is an error.
func Decode(line []byte) (Envelope, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Envelope{}, ErrEmptyLine
	}
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return Envelope{}, ErrMissingType
	}
	normalizeLegacy(&e)
	if err := validate.Struct(e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrInvalid, e.Type, err)
	}
	return e, nil
}

// normalizeLegacy folds the older field spellings into the current ones.
func normalizeLegacy(e *Envelope) {
	if e.Type == KindChat {
		e.Type = KindRoomMessage
	}
	if e.To == "" && e.Recipient != "" {
		e.To = e.Recipient
	}
	if e.To == "" && e.Caller != "" && e.Type == KindCallResponse {
		e.To = e.Caller
	}
	if e.Msg == "" && e.Message != "" {
		e.Msg = e.Message
	}
	if e.Room == "" && e.RoomName != "" {
		e.Room = e.RoomName
	}
	if e.Mode == "" && e.CallType != "" {
		e.Mode = e.CallType
	}
	if e.Data == "" && e.FileData != "" {
		e.Data = e.FileData
	}
	e.Recipient, e.Message, e.RoomName, e.CallType, e.Caller, e.FileData = "", "", "", "", "", ""
}

// Encode serializes e without the trailing newline.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", e.Type, err)
	}
	return b, nil
}
