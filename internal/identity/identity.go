// Package identity derives short user and session fingerprints from request metadata.
//
// Claude Code sends metadata.user_id shaped as
//
//	user_{hash}_account_{uuid}_session_{uuid}
//
// The user part and the session part are each reduced to the first 8 hex
// characters of their MD5 digest. Fingerprints are debugging labels for
// directory names, not security tokens.
package identity

import (
	"crypto/md5" // #nosec G501 -- non-cryptographic fingerprint
	"encoding/hex"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/capture-gateway/internal/body"
)

const (
	userPrefix    = "user_"
	sessionMarker = "session_"

	// FingerprintLen is the number of hex characters kept from the digest.
	FingerprintLen = 8
)

// Identity is the pair of fingerprints extracted from a request.
// Empty strings mean the value could not be derived.
type Identity struct {
	UserID    string
	SessionID string
}

// HasUser reports whether a user fingerprint was derived.
func (id Identity) HasUser() bool { return id.UserID != "" }

// HasSession reports whether a session fingerprint was derived.
func (id Identity) HasSession() bool { return id.SessionID != "" }

// Extract reads metadata.user_id from a request body.
// Raw bodies are classified first, so a JSON string body works too.
func Extract(b body.Body) Identity {
	if !b.IsStructured() {
		b = body.Classify(b.Text())
	}
	if !b.IsObject() {
		return Identity{}
	}
	metadata := b.Get("metadata")
	if !metadata.IsObject() {
		return Identity{}
	}
	userID := metadata.Get("user_id")
	if userID.Type != gjson.String {
		return Identity{}
	}
	return FromUserID(userID.String())
}

// FromUserID fingerprints a raw user_id value.
func FromUserID(full string) Identity {
	if !strings.HasPrefix(full, userPrefix) {
		return Identity{}
	}

	parts := strings.Split(full, "_")
	userPart := strings.Join(parts[:2], "_")
	id := Identity{UserID: Fingerprint(userPart)}

	_, sessionKey, ok := strings.Cut(full, sessionMarker)
	if !ok {
		return id
	}
	id.SessionID = Fingerprint(sessionKey)
	return id
}

// Fingerprint returns the first FingerprintLen hex characters of the MD5 of s.
func Fingerprint(s string) string {
	sum := md5.Sum([]byte(s)) // #nosec G401 -- label, not a security boundary
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}
