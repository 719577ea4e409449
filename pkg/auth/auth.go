// Package auth implements the challenge-response proof used to authenticate a
// player against a table password. The password never crosses the wire: the
// client proves knowledge of it by keying a MAC over a server-issued challenge.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

const (
	// ChallengeLength is the size of a challenge in bytes
	ChallengeLength = 16
	// SaltLength is the size of a salt in bytes
	SaltLength = 16
	// ResponseLength is the size of a response in bytes
	ResponseLength = sha256.Size
)

// Argon2 parameters for deriving the MAC key from the password
const (
	argonTime    = 1         // Number of iterations
	argonMemory  = 19 * 1024 // Memory in KB (19 MB)
	argonThreads = 2         // Number of threads
	argonKeyLen  = 32        // Output key length in bytes
)

// KeyMemory is the memory in bytes one CreateResponse or VerifyResponse call
// allocates. Servers pay it once per authentication attempt.
const KeyMemory = argonMemory * 1024

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return b
}

// CreateChallenge returns a fresh random challenge
func CreateChallenge() []byte {
	return randomBytes(ChallengeLength)
}

// CreateSalt returns a fresh random salt
func CreateSalt() []byte {
	return randomBytes(SaltLength)
}

// CreateResponse computes the proof that the caller knows password.
//
// The key is argon2id(password, salt) and the response is HMAC-SHA256 of the
// challenge under that key, so the result is deterministic in all three inputs.
func CreateResponse(challenge []byte, password string, salt []byte) []byte {
	key := argon2.IDKey(
		[]byte(password),
		salt,
		argonTime,
		argonMemory,
		argonThreads,
		argonKeyLen,
	)

	mac := hmac.New(sha256.New, key)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// VerifyResponse reports whether response was produced by CreateResponse with
// the same challenge, password and salt. The comparison is constant-time.
func VerifyResponse(challenge []byte, password string, salt []byte, response []byte) bool {
	return hmac.Equal(CreateResponse(challenge, password, salt), response)
}
