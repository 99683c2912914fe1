package proto

import (
	"encoding/binary"
	"fmt"
)

// Magic is the "ORGB" tag that opens every frame.
const Magic uint32 = 1111970383

// HeaderSize is the encoded size of a Header.
const HeaderSize = 16

// Header precedes every frame body.
type Header struct {
	DeviceID uint32
	Command  Command
	Length   uint32
}

// Encode returns the 16-byte wire form of h.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf
}

// Put writes h into buf, which must hold at least HeaderSize bytes.
func (h Header) Put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.DeviceID)
	binary.LittleEndian.PutUint32(buf[8:12], h.Command.ID())
	binary.LittleEndian.PutUint32(buf[12:16], h.Length)
}

// DecodeHeader parses a frame header. The magic is checked before the
// command id, so a foreign stream always reports ErrProtocolMismatch.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrUnexpectedEOD, HeaderSize, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic 0x%08X", ErrProtocolMismatch, magic)
	}
	cmd, err := CommandFromID(binary.LittleEndian.Uint32(buf[8:12]))
	if err != nil {
		return Header{}, err
	}
	return Header{
		DeviceID: binary.LittleEndian.Uint32(buf[4:8]),
		Command:  cmd,
		Length:   binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}
