package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

const (
	// MediaDelimiter separates the JSON header from the payload.
	MediaDelimiter byte = 0x00

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507
)

var (
	ErrNoDelimiter = errors.New("protocol: media packet has no delimiter")
	ErrBadHeader   = errors.New("protocol: bad media header")
	ErrTooLarge    = errors.New("protocol: media packet too large")
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type MediaHeader struct {
	Kind   MediaKind `json:"kind" validate:"required,oneof=audio video"`
	Sender string    `json:"sender" validate:"required"`
	To     string    `json:"to,omitempty"`
	Room   string    `json:"room,omitempty"`
}

func mediaHeaderRules(sl validator.StructLevel) {
	h := sl.Current().Interface().(MediaHeader)
	if h.To != "" && h.Room != "" {
		sl.ReportError(h.Room, "Room", "Room", "excluded_with", "To")
	}
}

// MediaPacket is a parsed datagram. Raw aliases the input and is what gets
// forwarded; Payload is the slice of Raw after the delimiter.
type MediaPacket struct {
	Header  MediaHeader
	Payload []byte
	Raw     []byte
}

// ParseMediaPacket splits b at the first delimiter and validates the header.
// A header with neither To nor Room parses fine; routing decides to drop it.
func ParseMediaPacket(b []byte) (MediaPacket, error) {
	if len(b) > MaxDatagram {
		return MediaPacket{}, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), MaxDatagram)
	}
	i := bytes.IndexByte(b, MediaDelimiter)
	if i < 0 {
		return MediaPacket{}, ErrNoDelimiter
	}
	var h MediaHeader
	if err := json.Unmarshal(b[:i], &h); err != nil {
		return MediaPacket{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if err := validate.Struct(h); err != nil {
		return MediaPacket{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return MediaPacket{Header: h, Payload: b[i+1:], Raw: b}, nil
}

// EncodeMediaPacket builds header||0x00||payload.
func EncodeMediaPacket(h MediaHeader, payload []byte) ([]byte, error) {
	if err := validate.Struct(h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode media header: %w", err)
	}
	n := len(hdr) + 1 + len(payload)
	if n > MaxDatagram {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, MaxDatagram)
	}
	out := make([]byte, 0, n)
	out = append(out, hdr...)
	out = append(out, MediaDelimiter)
	out = append(out, payload...)
	return out, nil
}
