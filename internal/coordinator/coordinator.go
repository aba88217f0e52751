// Package coordinator implements the two-phase, quorum-coordinated write
// protocol (spec §4.8–§4.10). Any node may instantiate a Coordinator to
// drive a client operation; unlike the replica's RequestHandler, the
// coordinator is concurrent — it fans requests out to every relevant node
// in parallel and does not hold any node's serializer while waiting (spec
// §5).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"distributed-lockstore/internal/replica"
)

// CallTimeout is the per-call RPC deadline mandated by spec §6.
const CallTimeout = 1 * time.Second

// Coordinator drives lock/release/extend_lease against a membership
// snapshot supplied by the caller (usually the local node's own
// Handler.GetNodes()).
type Coordinator struct {
	rpc         RPC
	callTimeout time.Duration
	log         *logrus.Entry
}

// New creates a Coordinator that talks to peers through rpc.
func New(rpc RPC, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{rpc: rpc, callTimeout: CallTimeout, log: log}
}

// phase1Lock broadcasts get_write_lock to every primary under the given
// tag and returns how many voted OK.
func (c *Coordinator) phase1Lock(ctx context.Context, primaries []replica.Node, key replica.Key, expected replica.Value, tag replica.Tag) int {
	type reply struct {
		status replica.Status
		err    error
	}
	results := make(chan reply, len(primaries))
	for _, n := range primaries {
		go func(n replica.Node) {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			status, err := c.rpc.GetWriteLock(cctx, n, key, expected, tag)
			results <- reply{status, err}
		}(n)
	}

	voted := 0
	for range primaries {
		r := <-results
		if r.err == nil && r.status == replica.StatusOK {
			voted++
		}
	}
	return voted
}

// bestEffortReleaseLocks broadcasts release_write_lock to primaries and
// ignores the outcome (spec §4.8 step 5: "best-effort, ignore replies").
func (c *Coordinator) bestEffortReleaseLocks(ctx context.Context, primaries []replica.Node, tag replica.Tag) {
	for _, n := range primaries {
		go func(n replica.Node) {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			_, _ = c.rpc.ReleaseWriteLock(cctx, n, tag)
		}(n)
	}
}

// Lock runs the full two-phase write protocol of spec §4.8.
func (c *Coordinator) Lock(ctx context.Context, m replica.Membership, key replica.Key, value replica.Value, leaseLengthMS int64) (Result, error) {
	tag := NewTag()
	voted := c.phase1Lock(ctx, m.Primaries, key, replica.NotFound, tag)

	if voted < m.W {
		c.bestEffortReleaseLocks(ctx, m.Primaries, tag)
		c.log.WithFields(logrus.Fields{"key": key, "voted": voted, "w": m.W}).Warn("lock: no quorum")
		return Result{}, ErrNoQuorum
	}

	all := m.AllNodes()
	committed := c.broadcastWrite(ctx, all, tag, key, value, leaseLengthMS)

	return Result{OK: true, W: m.W, Voted: voted, Committed: committed}, nil
}

func (c *Coordinator) broadcastWrite(ctx context.Context, nodes []replica.Node, tag replica.Tag, key replica.Key, value replica.Value, leaseLengthMS int64) int {
	results := make(chan bool, len(nodes))
	for _, n := range nodes {
		go func(n replica.Node) {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			err := c.rpc.Write(cctx, n, tag, key, value, leaseLengthMS)
			results <- err == nil
		}(n)
	}
	committed := 0
	for range nodes {
		if <-results {
			committed++
		}
	}
	return committed
}

// Release runs the two-phase delete protocol of spec §4.9.
func (c *Coordinator) Release(ctx context.Context, m replica.Membership, key replica.Key, value replica.Value) (Result, error) {
	tag := NewTag()
	voted := c.phase1Lock(ctx, m.Primaries, key, value, tag)

	if voted < m.W {
		c.bestEffortReleaseLocks(ctx, m.Primaries, tag)
		c.log.WithFields(logrus.Fields{"key": key, "voted": voted, "w": m.W}).Warn("release: no quorum")
		return Result{}, ErrNoQuorum
	}

	all := m.AllNodes()
	type reply struct {
		status replica.Status
		err    error
	}
	results := make(chan reply, len(all))
	for _, n := range all {
		go func(n replica.Node) {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			status, err := c.rpc.Release(cctx, n, key, value, tag)
			results <- reply{status, err}
		}(n)
	}
	committed := 0
	for range all {
		r := <-results
		if r.err == nil && r.status == replica.StatusOK {
			committed++
		}
	}

	return Result{OK: true, W: m.W, Voted: voted, Committed: committed}, nil
}

// ExtendLease runs the two-phase lease-extension protocol of spec §4.10.
//
// Unlike Lock and Release this returns a bare error instead of a Result —
// the spec preserves this asymmetry from the source rather than unifying
// the return shape (spec §9 Open Questions).
func (c *Coordinator) ExtendLease(ctx context.Context, m replica.Membership, key replica.Key, value replica.Value, extendLengthMS int64) error {
	tag := NewTag()
	voted := c.phase1Lock(ctx, m.Primaries, key, value, tag)

	if voted < m.W {
		c.bestEffortReleaseLocks(ctx, m.Primaries, tag)
		c.log.WithFields(logrus.Fields{"key": key, "voted": voted, "w": m.W}).Warn("extend_lease: no quorum")
		return ErrNoQuorum
	}

	all := m.AllNodes()
	type reply struct {
		node   replica.Node
		status replica.Status
		err    error
	}
	results := make(chan reply, len(all))
	for _, n := range all {
		go func(n replica.Node) {
			cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			status, err := c.rpc.ExtendLease(cctx, n, tag, key, value, extendLengthMS)
			results <- reply{n, status, err}
		}(n)
	}

	// Unlike Write (which folds lock-release into commit), a non-OK or
	// unreachable phase-2 extend_lease leaves a dangling lock behind on
	// that node. The sweeper would eventually catch it, but spec §4.10
	// has the coordinator clean it up explicitly to shorten that window.
	// The cleanup replies are ignored, but ExtendLease waits for the calls
	// to finish before returning.
	var cleanup sync.WaitGroup
	for range all {
		r := <-results
		if r.err != nil || r.status != replica.StatusOK {
			cleanup.Add(1)
			go func(n replica.Node) {
				defer cleanup.Done()
				cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
				defer cancel()
				_, _ = c.rpc.ReleaseWriteLock(cctx, n, tag)
			}(r.node)
		}
	}
	cleanup.Wait()

	return nil
}
