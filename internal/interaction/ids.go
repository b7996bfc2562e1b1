package interaction

import "github.com/google/uuid"

// IDGenerator produces unique interaction ids.
// Implemented by UUIDGenerator (production) and testutil.SequenceGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random (v4) UUID interaction ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}
