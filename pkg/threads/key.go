package threads

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ThreadID identifies a logical conversation upstream.
type ThreadID string

// SessionKey is the lookup key for a conversation's ThreadID.
type SessionKey string

// DeriveKey computes the session key for a conversation from its first
// message. Identical content always yields the same key, so unrelated
// conversations that open with the same text share a thread. Passing a
// non-empty sessionToken scopes the key to that token.
func DeriveKey(firstContent, sessionToken string) SessionKey {
	h := xxhash.New()
	if sessionToken != "" {
		// The length prefix keeps token/content boundaries unambiguous.
		_, _ = h.WriteString(strconv.Itoa(len(sessionToken)))
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(sessionToken)
		_, _ = h.WriteString(":")
	}
	_, _ = h.WriteString(firstContent)
	return SessionKey(strconv.FormatUint(h.Sum64(), 16))
}
