package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Guard decides whether a presented bearer credential is allowed to use
// the mutation endpoints.
type Guard interface {
	Authorize(credential string) bool
}

// TokenSet is a static allow-list guard. Entries are either plaintext
// tokens or bcrypt hashes ("$2" prefix), so operators can keep hashed
// tokens in the environment instead of the tokens themselves.
type TokenSet struct {
	plain  []string
	hashed [][]byte
}

// NewTokenSet builds a guard from the configured allow-list.
func NewTokenSet(entries []string) *TokenSet {
	ts := &TokenSet{}
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "$2") {
			ts.hashed = append(ts.hashed, []byte(entry))
		} else {
			ts.plain = append(ts.plain, entry)
		}
	}
	return ts
}

// Authorize reports whether the credential matches any allow-list entry.
// A blank credential or an empty allow-list always rejects.
func (ts *TokenSet) Authorize(credential string) bool {
	if credential == "" {
		return false
	}
	for _, token := range ts.plain {
		if subtle.ConstantTimeCompare([]byte(token), []byte(credential)) == 1 {
			return true
		}
	}
	for _, hash := range ts.hashed {
		if bcrypt.CompareHashAndPassword(hash, []byte(credential)) == nil {
			return true
		}
	}
	return false
}

// Size returns the number of configured entries, used for startup logging.
func (ts *TokenSet) Size() int {
	return len(ts.plain) + len(ts.hashed)
}
