package protocol

import (
	"errors"
	"io"
)

const (
	// MaxFrameSize is the maximum allowed frame size (1 MB)
	MaxFrameSize = 1024 * 1024

	// FrameVersion is the version of the frame layout itself. It is independent of
	// the negotiated ProtocolVersion.
	FrameVersion = 1

	// frameHeaderSize covers Version, Type, Flags, ID and CorrelationID
	frameHeaderSize = 1 + 1 + 1 + 8 + 8
)

var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size (1 MB)")
	ErrInvalidVersion     = errors.New("invalid frame version")
	ErrInvalidFrameLength = errors.New("invalid frame length")
)

// Frame represents a protocol frame
// Format: [Length (4 bytes)][Version (1 byte)][Type (1 byte)][Flags (1 byte)]
//
//	[ID (8 bytes)][CorrelationID (8 bytes)][Payload (N bytes)]
type Frame struct {
	Version       uint8  // Frame layout version (currently 1)
	Type          uint8  // Message type
	Flags         uint8  // Reserved, always 0
	ID            uint64 // Sender-assigned message id
	CorrelationID uint64 // Id of the message this one answers, 0 if unsolicited
	Payload       []byte // Message payload
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	length := uint32(frameHeaderSize + len(f.Payload))

	// Check max frame size (excluding the 4-byte length field itself)
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	// Assemble in one buffer so a frame is a single Write on the connection
	buf := make([]byte, 0, 4+length)
	buf = appendUint32(buf, length)
	buf = append(buf, f.Version, f.Type, f.Flags)
	buf = appendUint64(buf, f.ID)
	buf = appendUint64(buf, f.CorrelationID)
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}

// DecodeFrame reads a frame from the reader
func DecodeFrame(r io.Reader) (*Frame, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}

	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	if length < frameHeaderSize {
		return nil, ErrInvalidFrameLength
	}

	version, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	if version != FrameVersion {
		return nil, ErrInvalidVersion
	}

	msgType, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}

	flags, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}

	id, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}

	correlationID, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length-frameHeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{
		Version:       version,
		Type:          msgType,
		Flags:         flags,
		ID:            id,
		CorrelationID: correlationID,
		Payload:       payload,
	}, nil
}
