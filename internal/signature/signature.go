package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
)

// Prefix is the scheme marker GitHub puts in front of the hex digest in the
// X-Hub-Signature header.
const Prefix = "sha1="

// Verify checks a GitHub-style HMAC-SHA1 signature header against the raw
// request body.
//
// The expected header value is "sha1=" + hex(HMAC-SHA1(secret, body)). A
// length mismatch is rejected up front (constant-time comparison requires
// equal-length inputs); equal-length values are compared with crypto/subtle
// so a mismatch never reveals how many leading bytes were correct.
// Missing inputs return false, never an error.
func Verify(body []byte, secret, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}

	expected := Compute(body, secret)
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// Compute returns the full signature header value for body, including the
// "sha1=" prefix. Used by tests and by tooling that replays payloads.
func Compute(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}
