package coordinator

import (
	"github.com/google/uuid"

	"distributed-lockstore/internal/replica"
)

// NewTag mints a fresh, cluster-wide-unique tag for one coordinator
// attempt (spec §9: "use 128-bit random identifiers").
func NewTag() replica.Tag {
	return replica.Tag(uuid.NewString())
}
