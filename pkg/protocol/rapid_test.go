package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTrip tests that any valid frame can be encoded and decoded
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloadLen := rapid.IntRange(0, 1024).Draw(t, "payloadLen")
		original := &Frame{
			Version:       FrameVersion,
			Type:          rapid.Byte().Draw(t, "type"),
			Flags:         rapid.Byte().Draw(t, "flags"),
			ID:            rapid.Uint64().Draw(t, "id"),
			CorrelationID: rapid.Uint64().Draw(t, "correlationID"),
			Payload:       rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload"),
		}

		var buf bytes.Buffer
		if err := EncodeFrame(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeFrame(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != original.Type || decoded.Flags != original.Flags {
			t.Fatalf("header mismatch: got %+v, want %+v", decoded, original)
		}
		if decoded.ID != original.ID || decoded.CorrelationID != original.CorrelationID {
			t.Fatalf("id mismatch: got %d/%d, want %d/%d", decoded.ID, decoded.CorrelationID, original.ID, original.CorrelationID)
		}
		if !bytes.Equal(decoded.Payload, original.Payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// TestStringRoundTrip tests that any valid string can be encoded and decoded
func TestStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := rapid.String().Draw(t, "string")

		var buf bytes.Buffer
		if err := WriteString(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := ReadString(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded != original {
			t.Fatalf("string mismatch: got %q, want %q", decoded, original)
		}
	})
}

// TestBeginAuthenticationRequestRoundTrip tests challenge material encoding
func TestBeginAuthenticationRequestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := &BeginAuthenticationRequestMessage{
			Challenge: rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "challenge"),
			Salt:      rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "salt"),
		}

		var buf bytes.Buffer
		if err := original.EncodeTo(&buf); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded := &BeginAuthenticationRequestMessage{}
		if err := decoded.Decode(buf.Bytes()); err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if !bytes.Equal(decoded.Challenge, original.Challenge) || !bytes.Equal(decoded.Salt, original.Salt) {
			t.Fatalf("challenge material mismatch")
		}
	})
}

// TestMessageFrameRoundTrip tests that ids survive the message/frame conversion
func TestMessageFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := &Message{
			ID:            MessageID(rapid.Uint64Min(1).Draw(t, "id")),
			CorrelationID: MessageID(rapid.Uint64().Draw(t, "correlationID")),
			Body: &BeginAuthenticationResponseMessage{
				PlayerName: rapid.StringMatching(`[a-zA-Z0-9_-]{1,32}`).Draw(t, "playerName"),
				Response:   rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "response"),
			},
		}

		frame, err := original.ToFrame()
		if err != nil {
			t.Fatalf("ToFrame failed: %v", err)
		}

		decoded, err := FromFrame(frame)
		if err != nil {
			t.Fatalf("FromFrame failed: %v", err)
		}

		if decoded.ID != original.ID || decoded.CorrelationID != original.CorrelationID {
			t.Fatalf("id mismatch")
		}
		body, ok := decoded.Body.(*BeginAuthenticationResponseMessage)
		if !ok {
			t.Fatalf("unexpected body %T", decoded.Body)
		}
		want := original.Body.(*BeginAuthenticationResponseMessage)
		if body.PlayerName != want.PlayerName || !bytes.Equal(body.Response, want.Response) {
			t.Fatalf("body mismatch")
		}
	})
}
