package coordinator

import "errors"

// ErrNoQuorum is the single client-visible coordinator failure (spec §7):
// phase 1 did not collect enough OKs from primaries.
var ErrNoQuorum = errors.New("NO_QUORUM")

// Result reports the outcome of a successful lock or release call: how
// many primaries voted OK in phase 1, and how many nodes (primaries ∪
// replicas) acknowledged the phase-2 broadcast. Partial phase-2 success
// is not an error (spec §7) — callers decide what to do with Committed <
// len(AllNodes).
type Result struct {
	OK        bool
	W         int
	Voted     int
	Committed int
}
