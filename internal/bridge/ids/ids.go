// Package ids generates the identifiers used on the wire: correlation IDs
// for call round trips and inbox IDs for per-process reply channels.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationID returns the identifier that pairs a call request with its
// response. Correlation IDs are ULIDs so concurrent calls stay sortable in
// transport logs.
func NewCorrelationID() string {
	return CreateULID()
}

// NewInboxID returns a random identifier suitable for naming a per-process
// reply inbox channel.
func NewInboxID() string {
	return uuid.NewString()
}
