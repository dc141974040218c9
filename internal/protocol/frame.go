package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WebSocket frame opcodes
const (
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2
	OpcodeClose        = 0x8
	OpcodePing         = 0x9
	OpcodePong         = 0xA
)

// maxControlPayload is the RFC 6455 limit for close/ping/pong payloads.
const maxControlPayload = 125

// Frame represents a WebSocket frame
type Frame struct {
	FIN     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  byte
	Masked  bool
	Length  uint64
	MaskKey [4]byte
	Payload []byte // unmasked
}

// IsControl reports whether the frame is a close, ping or pong frame.
func (f *Frame) IsControl() bool {
	return f.Opcode&0x8 != 0
}

// ReadFrame reads a WebSocket frame from the reader. Payloads longer than
// maxPayload are refused before any of them is read; maxPayload <= 0 means
// no limit.
func ReadFrame(r io.Reader, maxPayload int64) (*Frame, error) {
	frame := &Frame{}

	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	frame.FIN = (header[0] & 0x80) != 0
	frame.RSV1 = (header[0] & 0x40) != 0
	frame.RSV2 = (header[0] & 0x20) != 0
	frame.RSV3 = (header[0] & 0x10) != 0
	frame.Opcode = header[0] & 0x0F

	frame.Masked = (header[1] & 0x80) != 0
	payloadLen := uint64(header[1] & 0x7F)

	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		frame.Length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		frame.Length = binary.BigEndian.Uint64(ext[:])
		if frame.Length&(1<<63) != 0 {
			return nil, &ProtocolError{Code: CloseProtocolError, Msg: "64-bit payload length has its most significant bit set"}
		}
	default:
		frame.Length = payloadLen
	}

	if err := frame.validate(); err != nil {
		return nil, err
	}
	if maxPayload > 0 && frame.Length > uint64(maxPayload) {
		return nil, &ProtocolError{
			Code: CloseMessageTooBig,
			Msg:  fmt.Sprintf("frame payload of %d bytes exceeds limit of %d", frame.Length, maxPayload),
		}
	}

	if frame.Masked {
		if _, err := io.ReadFull(r, frame.MaskKey[:]); err != nil {
			return nil, fmt.Errorf("failed to read mask key: %w", err)
		}
	}

	if frame.Length > 0 {
		payload := make([]byte, frame.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if frame.Masked {
			maskInPlace(payload, frame.MaskKey)
		}
		frame.Payload = payload
	}

	return frame, nil
}

// validate rejects frames this implementation cannot accept: unknown
// opcodes, extension bits (none are negotiated) and malformed control frames.
func (f *Frame) validate() error {
	switch f.Opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return &ProtocolError{Code: CloseProtocolError, Msg: fmt.Sprintf("reserved opcode 0x%X", f.Opcode)}
	}
	if f.RSV1 || f.RSV2 || f.RSV3 {
		return &ProtocolError{Code: CloseProtocolError, Msg: "reserved bits set without a negotiated extension"}
	}
	if f.IsControl() {
		if !f.FIN {
			return &ProtocolError{Code: CloseProtocolError, Msg: "fragmented control frame"}
		}
		if f.Length > maxControlPayload {
			return &ProtocolError{Code: CloseProtocolError, Msg: "control frame payload too long"}
		}
	}
	return nil
}

// AppendFrame appends the wire encoding of a frame to dst. A nil mask
// produces an unmasked frame, which is what a server must send.
func AppendFrame(dst []byte, opcode byte, fin bool, payload []byte, mask *[4]byte) []byte {
	b0 := opcode & 0x0F
	if fin {
		b0 |= 0x80
	}
	dst = append(dst, b0)

	var maskBit byte
	if mask != nil {
		maskBit = 0x80
	}

	n := len(payload)
	switch {
	case n < 126:
		dst = append(dst, maskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, maskBit|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, maskBit|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if mask == nil {
		return append(dst, payload...)
	}

	dst = append(dst, mask[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskInPlace(dst[start:], *mask)
	return dst
}

// EncodeFrame returns a complete final frame.
func EncodeFrame(opcode byte, payload []byte, mask *[4]byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+14), opcode, true, payload, mask)
}

// MaskPayload returns a copy of payload XORed with key. Applying it twice
// with the same key yields the original bytes.
func MaskPayload(payload []byte, key [4]byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	maskInPlace(out, key)
	return out
}

func maskInPlace(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// OpcodeString returns a human-readable opcode name
func (f *Frame) OpcodeString() string {
	switch f.Opcode {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", f.Opcode)
	}
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.OpcodeString(), f.Masked, f.Length)
}
