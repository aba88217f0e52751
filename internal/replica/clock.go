package replica

import "time"

// systemClock reports wall-clock milliseconds since epoch. The spec only
// requires comparisons within one node to be consistent, so wall clock is
// acceptable as long as it is not subject to large jumps (spec §9).
type systemClock struct{}

func (systemClock) NowMS() int64 {
	return time.Now().UnixMilli()
}
