// Package ml implements the MissionLink (ML) wire protocol: a
// bidirectional, datagram-based request/response protocol with explicit
// sequence numbers, piggyback and standalone acknowledgements,
// retransmission, duplicate suppression, and idempotent reply caching.
package ml

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

// HeaderSize is the fixed size of the ML wire header.
const HeaderSize = 20

// Version is the only supported wire protocol version.
const Version uint8 = 1

// Message types.
const (
	MsgReady          uint8 = 0
	MsgMission        uint8 = 1
	MsgProgress       uint8 = 2
	MsgDone           uint8 = 3
	MsgAck            uint8 = 4
	MsgNoMission      uint8 = 5
	MsgRequestMission uint8 = 6
)

// Flag bits, combinable.
const (
	FlagNeedsAck uint8 = 0x01
	FlagAckOnly  uint8 = 0x02
	FlagRetx     uint8 = 0x04
)

var (
	// ErrTooShort is returned when a buffer is shorter than HeaderSize.
	ErrTooShort = errors.New("ml: message shorter than header")
	// ErrPayloadLengthMismatch is returned when the header's payload_len
	// does not match the number of trailing bytes.
	ErrPayloadLengthMismatch = errors.New("ml: payload length mismatch")
	// ErrChecksumMismatch is returned when the CRC32 over the payload does
	// not match the header's checksum field.
	ErrChecksumMismatch = errors.New("ml: checksum mismatch")
)

// Header is the fixed 20-byte ML message header.
type Header struct {
	Version    uint8
	MsgType    uint8
	Flags      uint8
	HdrLen     uint8
	Seq        uint32
	Ack        uint32
	StreamID   uint16
	PayloadLen uint16
	Checksum   uint32
}

// HasFlag reports whether f is set in the header's flag byte.
func (h Header) HasFlag(f uint8) bool {
	return h.Flags&f != 0
}

// MissionPayload is the MISSION message payload.
type MissionPayload struct {
	MissionID  uint8
	TaskNumber uint16
	X          float32
	Y          float32
	Radius     float32
	Duration   float32
}

// ProgressPayload is the PROGRESS message payload.
type ProgressPayload struct {
	MissionID uint8
	Status    uint8
	Percent   uint8
	Battery   uint8
	X         float32
	Y         float32
}

// DonePayload is the DONE message payload.
type DonePayload struct {
	MissionID  uint8
	ResultCode uint8
}

// encodeHeader serializes a Header to its 20-byte big-endian wire layout.
func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = h.MsgType
	buf[2] = h.Flags
	buf[3] = h.HdrLen
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	binary.BigEndian.PutUint16(buf[12:14], h.StreamID)
	binary.BigEndian.PutUint16(buf[14:16], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[16:20], h.Checksum)
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		Version:    buf[0],
		MsgType:    buf[1],
		Flags:      buf[2],
		HdrLen:     buf[3],
		Seq:        binary.BigEndian.Uint32(buf[4:8]),
		Ack:        binary.BigEndian.Uint32(buf[8:12]),
		StreamID:   binary.BigEndian.Uint16(buf[12:14]),
		PayloadLen: binary.BigEndian.Uint16(buf[14:16]),
		Checksum:   binary.BigEndian.Uint32(buf[16:20]),
	}
}

// EncodeMissionPayload serializes a MissionPayload (19 bytes: u8 + u16 + 4*f32).
func EncodeMissionPayload(p MissionPayload) []byte {
	buf := make([]byte, 19)
	buf[0] = p.MissionID
	binary.BigEndian.PutUint16(buf[1:3], p.TaskNumber)
	binary.BigEndian.PutUint32(buf[3:7], math.Float32bits(p.X))
	binary.BigEndian.PutUint32(buf[7:11], math.Float32bits(p.Y))
	binary.BigEndian.PutUint32(buf[11:15], math.Float32bits(p.Radius))
	binary.BigEndian.PutUint32(buf[15:19], math.Float32bits(p.Duration))
	return buf
}

// DecodeMissionPayload parses a MISSION payload.
func DecodeMissionPayload(buf []byte) (MissionPayload, error) {
	if len(buf) != 19 {
		return MissionPayload{}, ErrPayloadLengthMismatch
	}
	return MissionPayload{
		MissionID:  buf[0],
		TaskNumber: binary.BigEndian.Uint16(buf[1:3]),
		X:          math.Float32frombits(binary.BigEndian.Uint32(buf[3:7])),
		Y:          math.Float32frombits(binary.BigEndian.Uint32(buf[7:11])),
		Radius:     math.Float32frombits(binary.BigEndian.Uint32(buf[11:15])),
		Duration:   math.Float32frombits(binary.BigEndian.Uint32(buf[15:19])),
	}, nil
}

// EncodeProgressPayload serializes a ProgressPayload (12 bytes).
func EncodeProgressPayload(p ProgressPayload) []byte {
	buf := make([]byte, 12)
	buf[0] = p.MissionID
	buf[1] = p.Status
	buf[2] = p.Percent
	buf[3] = p.Battery
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(p.X))
	binary.BigEndian.PutUint32(buf[8:12], math.Float32bits(p.Y))
	return buf
}

// DecodeProgressPayload parses a PROGRESS payload.
func DecodeProgressPayload(buf []byte) (ProgressPayload, error) {
	if len(buf) != 12 {
		return ProgressPayload{}, ErrPayloadLengthMismatch
	}
	return ProgressPayload{
		MissionID: buf[0],
		Status:    buf[1],
		Percent:   buf[2],
		Battery:   buf[3],
		X:         math.Float32frombits(binary.BigEndian.Uint32(buf[4:8])),
		Y:         math.Float32frombits(binary.BigEndian.Uint32(buf[8:12])),
	}, nil
}

// EncodeDonePayload serializes a DonePayload (2 bytes).
func EncodeDonePayload(p DonePayload) []byte {
	return []byte{p.MissionID, p.ResultCode}
}

// DecodeDonePayload parses a DONE payload.
func DecodeDonePayload(buf []byte) (DonePayload, error) {
	if len(buf) != 2 {
		return DonePayload{}, ErrPayloadLengthMismatch
	}
	return DonePayload{MissionID: buf[0], ResultCode: buf[1]}, nil
}

// Build assembles a complete ML message (header + payload), computing the
// header's payload_len and CRC32 checksum over payload (0 when empty).
func Build(msgType, flags uint8, seq, ack uint32, streamID uint16, payload []byte) []byte {
	checksum := uint32(0)
	if len(payload) > 0 {
		checksum = crc32.ChecksumIEEE(payload)
	}

	h := Header{
		Version:    Version,
		MsgType:    msgType,
		Flags:      flags,
		HdrLen:     HeaderSize,
		Seq:        seq,
		Ack:        ack,
		StreamID:   streamID,
		PayloadLen: uint16(len(payload)),
		Checksum:   checksum,
	}

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, encodeHeader(h)...)
	out = append(out, payload...)
	return out
}

// Parse decodes a complete wire message (header + payload in one buffer),
// rejecting short buffers, length mismatches, and checksum failures.
func Parse(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, ErrTooShort
	}

	h := decodeHeader(buf[:HeaderSize])
	payload := buf[HeaderSize:]

	if int(h.PayloadLen) != len(payload) {
		return Header{}, nil, ErrPayloadLengthMismatch
	}

	checksum := uint32(0)
	if len(payload) > 0 {
		checksum = crc32.ChecksumIEEE(payload)
	}
	if checksum != h.Checksum {
		return Header{}, nil, ErrChecksumMismatch
	}

	return h, payload, nil
}
