package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

var (
	ErrStringTooLong = errors.New("string exceeds maximum length (65535 bytes)")
	ErrBytesTooLong  = errors.New("byte string exceeds maximum length (65535 bytes)")
	ErrInvalidUTF8   = errors.New("invalid UTF-8 string")
)

func appendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func appendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte
func ReadUint8(r io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteUint16 writes a 16-bit unsigned integer in big-endian
func WriteUint16(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint16 reads a 16-bit unsigned integer in big-endian
func ReadUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// WriteUint32 writes a 32-bit unsigned integer in big-endian
func WriteUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint32 reads a 32-bit unsigned integer in big-endian
func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteUint64 writes a 64-bit unsigned integer in big-endian
func WriteUint64(w io.Writer, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint64 reads a 64-bit unsigned integer in big-endian
func ReadUint64(r io.Reader) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// WriteString writes a length-prefixed UTF-8 string
// Format: [Length (uint16)][Data (N bytes UTF-8)]
func WriteString(w io.Writer, s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	if len(s) > 65535 {
		return ErrStringTooLong
	}

	if err := WriteUint16(w, uint16(len(s))); err != nil {
		return err
	}

	if len(s) > 0 {
		_, err := io.WriteString(w, s)
		return err
	}
	return nil
}

// ReadString reads a length-prefixed UTF-8 string
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// WriteBytes writes a length-prefixed byte string
// Format: [Length (uint16)][Data (N bytes)]
func WriteBytes(w io.Writer, b []byte) error {
	if len(b) > 65535 {
		return ErrBytesTooLong
	}

	if err := WriteUint16(w, uint16(len(b))); err != nil {
		return err
	}

	if len(b) > 0 {
		_, err := w.Write(b)
		return err
	}
	return nil
}

// ReadBytes reads a length-prefixed byte string
func ReadBytes(r io.Reader) ([]byte, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if length == 0 {
		return data, nil
	}

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
