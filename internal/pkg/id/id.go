package id

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

var (
	mu sync.Mutex
	// entropy is monotonic so IDs minted within one millisecond still sort
	// in creation order.
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string used as the surrogate ID for key and
// registrant records.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}
