package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"goyais.org/hub/internal/ids"
)

const (
	tokenPrefix = "hub_"
	tokenBytes  = 32
)

// IssuedToken is a freshly minted bearer token. Token is shown to the caller
// exactly once; only Record is persisted.
type IssuedToken struct {
	Token  string
	Record AuthToken
}

// IssueToken mints a random opaque token for userID valid for ttl.
func IssueToken(userID string, ttl time.Duration, now time.Time) (IssuedToken, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return IssuedToken{}, err
	}
	raw := tokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	now = now.UTC()
	return IssuedToken{
		Token: raw,
		Record: AuthToken{
			ID:        ids.New(),
			UserID:    userID,
			TokenHash: HashToken(raw),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
	}, nil
}

// HashToken returns the hex SHA-256 of a raw token, the only form stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func subtleCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
