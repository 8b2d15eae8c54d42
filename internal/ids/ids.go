package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Prefixed returns New() with a lower-case type prefix, e.g. "secret_01J...".
func Prefixed(prefix string) string {
	return strings.TrimSuffix(prefix, "_") + "_" + New()
}

// NewTraceID returns a random correlation identifier for a request.
func NewTraceID() string {
	return uuid.NewString()
}
