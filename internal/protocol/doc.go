// Package protocol defines the two wire formats of the relay.
//
// Control plane: one JSON envelope per line over a stream transport. The
// "type" field selects the variant; required fields are checked per variant
// at decode time so handlers never see a half-filled envelope.
//
// Media plane: a JSON header, a single 0x00 byte, then the opaque payload,
// all in one datagram. JSON never emits a raw 0x00 byte, so the first 0x00
// always ends the header.
package protocol
