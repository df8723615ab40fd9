// Package ts implements the Telemetry Stream (TS) wire protocol: a
// unidirectional, connection-oriented, length-prefixed binary frame
// protocol carrying rover state reports over a reliable stream transport.
package ts

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Wire layout sizes. The header carries 7 single-byte telemetry fields, a
// CRC32, a payload length, and a report frequency, padded with 3 reserved
// bytes to the fixed 16-byte size spec.md mandates.
const (
	HeaderSize  = 16
	headerUsed  = 13 // bytes actually assigned before reserved padding
	reservedLen = HeaderSize - headerUsed

	InfoPayloadSize = 9
)

// Frame types.
const (
	FrameHello uint8 = 0
	FrameInfo  uint8 = 2
	FrameEnd   uint8 = 3
	FrameFin   uint8 = 4
)

var (
	// ErrInvalidLength is returned when the supplied payload does not match
	// the header's declared payload_len.
	ErrInvalidLength = errors.New("ts: payload length mismatch")
	// ErrChecksumMismatch is returned when the CRC32 over the payload does
	// not match the header's checksum field.
	ErrChecksumMismatch = errors.New("ts: checksum mismatch")
)

// Header is the fixed 16-byte TS frame header.
type Header struct {
	Type       uint8
	RoverID    uint8
	Battery    uint8
	PosX       uint8
	PosY       uint8
	PosZ       uint8
	State      uint8
	Checksum   uint32
	PayloadLen uint8
	Freq       uint8
}

// InfoPayload is the 9-byte payload carried by INFO frames.
type InfoPayload struct {
	ProcUse  uint8
	Storage  uint8
	Velocity uint8
	Heading  uint8
	Sensors  uint8
	Progress uint8
	DestX    uint8
	DestY    uint8
	DestZ    uint8
}

// Frame is a fully decoded TS frame. Payload is nil for HELLO/END/FIN.
type Frame struct {
	Header  Header
	Payload *InfoPayload
}

// FrameInput carries the floating-point rover fields used to build a
// frame; byte header fields are saturating casts of these values.
type FrameInput struct {
	RoverID  uint8
	Battery  float64
	PosX     float64
	PosY     float64
	PosZ     float64
	State    uint8
	ProcUse  uint8
	Storage  uint8
	Velocity float64
	Heading  float64
	Sensors  uint8
	Progress uint8
	DestX    float64
	DestY    float64
	DestZ    float64
}

// saturate clamps a float64 into the 0..255 range and truncates to uint8.
func saturate(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// SaturateFreq clamps a reporting-frequency value (Hz) into the wire
// frequency byte's 0..255 range.
func SaturateFreq(hz float64) uint8 {
	return saturate(hz)
}

// Encode assembles a complete TS frame (header + payload) for frameType,
// computing the CRC32 over the payload bytes (0 when the payload is
// empty, i.e. HELLO/END/FIN).
func Encode(frameType uint8, in FrameInput, freq uint8) []byte {
	var payload []byte
	if frameType == FrameInfo {
		p := InfoPayload{
			ProcUse:  in.ProcUse,
			Storage:  in.Storage,
			Velocity: saturate(in.Velocity),
			Heading:  saturate(in.Heading),
			Sensors:  in.Sensors,
			Progress: in.Progress,
			DestX:    saturate(in.DestX),
			DestY:    saturate(in.DestY),
			DestZ:    saturate(in.DestZ),
		}
		payload = encodeInfoPayload(p)
	}

	checksum := uint32(0)
	if len(payload) > 0 {
		checksum = crc32.ChecksumIEEE(payload)
	}

	header := Header{
		Type:       frameType,
		RoverID:    in.RoverID,
		Battery:    saturate(in.Battery),
		PosX:       saturate(in.PosX),
		PosY:       saturate(in.PosY),
		PosZ:       saturate(in.PosZ),
		State:      in.State,
		Checksum:   checksum,
		PayloadLen: uint8(len(payload)),
		Freq:       freq,
	}

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, encodeHeader(header)...)
	out = append(out, payload...)
	return out
}

// encodeHeader serializes Header to the 16-byte big-endian wire layout.
func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Type
	buf[1] = h.RoverID
	buf[2] = h.Battery
	buf[3] = h.PosX
	buf[4] = h.PosY
	buf[5] = h.PosZ
	buf[6] = h.State
	binary.BigEndian.PutUint32(buf[7:11], h.Checksum)
	buf[11] = h.PayloadLen
	buf[12] = h.Freq
	// buf[13:16] stays zeroed (reserved padding)
	return buf
}

// decodeHeader parses the 16-byte wire header.
func decodeHeader(buf []byte) Header {
	return Header{
		Type:       buf[0],
		RoverID:    buf[1],
		Battery:    buf[2],
		PosX:       buf[3],
		PosY:       buf[4],
		PosZ:       buf[5],
		State:      buf[6],
		Checksum:   binary.BigEndian.Uint32(buf[7:11]),
		PayloadLen: buf[11],
		Freq:       buf[12],
	}
}

func encodeInfoPayload(p InfoPayload) []byte {
	return []byte{
		p.ProcUse, p.Storage, p.Velocity, p.Heading, p.Sensors,
		p.Progress, p.DestX, p.DestY, p.DestZ,
	}
}

func decodeInfoPayload(buf []byte) InfoPayload {
	return InfoPayload{
		ProcUse:  buf[0],
		Storage:  buf[1],
		Velocity: buf[2],
		Heading:  buf[3],
		Sensors:  buf[4],
		Progress: buf[5],
		DestX:    buf[6],
		DestY:    buf[7],
		DestZ:    buf[8],
	}
}

// HeaderPayloadLen extracts the payload_len field from a raw header
// buffer so callers can size the next read before full decoding.
func HeaderPayloadLen(headerBytes []byte) (uint8, error) {
	if len(headerBytes) != HeaderSize {
		return 0, ErrInvalidLength
	}
	return headerBytes[11], nil
}

// Decode parses a TS frame from separately-read header and payload
// buffers, verifying payload_len and the CRC32 checksum.
func Decode(headerBytes, payloadBytes []byte) (Frame, error) {
	if len(headerBytes) != HeaderSize {
		return Frame{}, ErrInvalidLength
	}
	h := decodeHeader(headerBytes)

	if int(h.PayloadLen) != len(payloadBytes) {
		return Frame{}, ErrInvalidLength
	}

	checksum := uint32(0)
	if len(payloadBytes) > 0 {
		checksum = crc32.ChecksumIEEE(payloadBytes)
	}
	if checksum != h.Checksum {
		return Frame{}, ErrChecksumMismatch
	}

	frame := Frame{Header: h}
	if len(payloadBytes) > 0 {
		if len(payloadBytes) != InfoPayloadSize {
			return Frame{}, ErrInvalidLength
		}
		p := decodeInfoPayload(payloadBytes)
		frame.Payload = &p
	}

	return frame, nil
}
