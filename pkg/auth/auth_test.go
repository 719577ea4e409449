package auth

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestCreateChallengeAndSalt(t *testing.T) {
	c1, c2 := CreateChallenge(), CreateChallenge()
	if len(c1) != ChallengeLength {
		t.Fatalf("challenge length = %d, want %d", len(c1), ChallengeLength)
	}
	if bytes.Equal(c1, c2) {
		t.Error("two challenges were identical")
	}

	s1, s2 := CreateSalt(), CreateSalt()
	if len(s1) != SaltLength {
		t.Fatalf("salt length = %d, want %d", len(s1), SaltLength)
	}
	if bytes.Equal(s1, s2) {
		t.Error("two salts were identical")
	}
}

func TestCreateResponse_Deterministic(t *testing.T) {
	challenge := CreateChallenge()
	salt := CreateSalt()

	r1 := CreateResponse(challenge, "tablePassword", salt)
	r2 := CreateResponse(challenge, "tablePassword", salt)

	if !bytes.Equal(r1, r2) {
		t.Errorf("CreateResponse not deterministic: %x != %x", r1, r2)
	}
	if len(r1) != ResponseLength {
		t.Errorf("response length = %d, want %d", len(r1), ResponseLength)
	}
}

func TestCreateResponse_InputsMatter(t *testing.T) {
	challenge := CreateChallenge()
	salt := CreateSalt()
	base := CreateResponse(challenge, "password", salt)

	tests := []struct {
		name      string
		challenge []byte
		password  string
		salt      []byte
	}{
		{"different password", challenge, "password2", salt},
		{"different challenge", CreateChallenge(), "password", salt},
		{"different salt", challenge, "password", CreateSalt()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if bytes.Equal(base, CreateResponse(tt.challenge, tt.password, tt.salt)) {
				t.Errorf("%s produced the same response", tt.name)
			}
		})
	}
}

func TestVerifyResponse(t *testing.T) {
	challenge := CreateChallenge()
	salt := CreateSalt()
	response := CreateResponse(challenge, "secret", salt)

	if !VerifyResponse(challenge, "secret", salt, response) {
		t.Error("VerifyResponse rejected a correct response")
	}
	if VerifyResponse(challenge, "wrong", salt, response) {
		t.Error("VerifyResponse accepted a response for the wrong password")
	}
	if VerifyResponse(challenge, "secret", salt, response[:len(response)-1]) {
		t.Error("VerifyResponse accepted a truncated response")
	}
	if VerifyResponse(challenge, "secret", salt, nil) {
		t.Error("VerifyResponse accepted an empty response")
	}
}

func TestVerifyResponse_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		challenge := rapid.SliceOfN(rapid.Byte(), ChallengeLength, ChallengeLength).Draw(t, "challenge")
		salt := rapid.SliceOfN(rapid.Byte(), SaltLength, SaltLength).Draw(t, "salt")
		password := rapid.String().Draw(t, "password")

		if !VerifyResponse(challenge, password, salt, CreateResponse(challenge, password, salt)) {
			t.Fatalf("round trip failed for password %q", password)
		}

		other := rapid.String().Filter(func(s string) bool { return s != password }).Draw(t, "otherPassword")
		if VerifyResponse(challenge, password, salt, CreateResponse(challenge, other, salt)) {
			t.Fatalf("response for %q verified against %q", other, password)
		}
	})
}

func TestVerifyResponse_ChallengeAndSaltProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		challenge := rapid.SliceOfN(rapid.Byte(), ChallengeLength, ChallengeLength).Draw(t, "challenge")
		otherChallenge := rapid.SliceOfN(rapid.Byte(), ChallengeLength, ChallengeLength).
			Filter(func(b []byte) bool { return !bytes.Equal(b, challenge) }).Draw(t, "otherChallenge")
		salt := rapid.SliceOfN(rapid.Byte(), SaltLength, SaltLength).Draw(t, "salt")
		otherSalt := rapid.SliceOfN(rapid.Byte(), SaltLength, SaltLength).
			Filter(func(b []byte) bool { return !bytes.Equal(b, salt) }).Draw(t, "otherSalt")

		if VerifyResponse(challenge, "pw", salt, CreateResponse(otherChallenge, "pw", salt)) {
			t.Fatalf("response for another challenge verified")
		}
		if VerifyResponse(challenge, "pw", salt, CreateResponse(challenge, "pw", otherSalt)) {
			t.Fatalf("response for another salt verified")
		}
	})
}

// Benchmark the proof to keep it usable during an interactive handshake
func BenchmarkCreateResponse(b *testing.B) {
	challenge := CreateChallenge()
	salt := CreateSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CreateResponse(challenge, "mySecurePassword123", salt)
	}
}
