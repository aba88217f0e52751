package replica

import (
	"github.com/sirupsen/logrus"
)

// Config bundles the tunables spec §6 calls out as configuration rather
// than protocol.
type Config struct {
	LockTTLMS        int64 // default 1000
	LockSweepPeriod  int64 // ms, default ~1000
	LeaseSweepPeriod int64 // ms, default ~10000
	DefaultLeaseMS   int64 // default 2000, used by callers that don't specify one
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		LockTTLMS:        1000,
		LockSweepPeriod:  1000,
		LeaseSweepPeriod: 10000,
		DefaultLeaseMS:   2000,
	}
}

// DebugState is the reply to get_debug_state (spec §6).
type DebugState struct {
	Locks         []WriteLock
	StoreContents map[Key]StoreEntry
	Membership    Membership
	Config        Config
}

// command is one unit of work executed on the serializer goroutine.
type command struct {
	run  func()
	done chan struct{}
}

// Handler is the RequestHandler of spec §2/§5: a single-writer serializer
// that owns Store, LockTable, and Membership exclusively. Every exported
// method enqueues a closure onto cmds and blocks until the serializer
// goroutine has run it, which is what makes every operation below atomic
// with respect to every other one — including the sweepers, which enqueue
// their own sweep commands onto the same channel instead of taking a
// separate lock.
type Handler struct {
	self   NodeID
	clock  Clock
	cfg    Config
	log    *logrus.Entry
	cmds   chan command
	stopCh chan struct{}

	store      *store
	locks      *lockTable
	membership Membership
}

// NewHandler creates a Handler for node self, seeded with the given
// initial membership. Call Run in its own goroutine to start serving, and
// StartSweepers to begin the periodic lock/lease expiry.
func NewHandler(self NodeID, initial Membership, cfg Config, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		self:       self,
		clock:      systemClock{},
		cfg:        cfg,
		log:        log.WithField("node", self),
		cmds:       make(chan command),
		stopCh:     make(chan struct{}),
		store:      newStore(),
		locks:      newLockTable(),
		membership: initial,
	}
}

// SetClock overrides the clock used for lease/lock timestamps; tests use
// this to avoid sleeping for real TTLs.
func (h *Handler) SetClock(c Clock) { h.clock = c }

// Config returns the handler's configured tunables. cfg is set once at
// construction and never mutated, so this is safe to read without going
// through the serializer.
func (h *Handler) Config() Config { return h.cfg }

// Run is the serializer loop. It must run in exactly one goroutine for
// the lifetime of the Handler.
func (h *Handler) Run() {
	for {
		select {
		case cmd := <-h.cmds:
			cmd.run()
			close(cmd.done)
		case <-h.stopCh:
			return
		}
	}
}

// Stop terminates the serializer loop. In-flight submit calls made after
// Stop will block forever, so callers must stop issuing requests first.
func (h *Handler) Stop() {
	close(h.stopCh)
}

// submit runs fn on the serializer goroutine and waits for it to finish.
func (h *Handler) submit(fn func()) {
	done := make(chan struct{})
	h.cmds <- command{run: fn, done: done}
	<-done
}

// ─── §4.1 get_write_lock ────────────────────────────────────────────────

func (h *Handler) GetWriteLock(key Key, expected Value, tag Tag) Status {
	var result Status
	h.submit(func() {
		if h.locks.isLocked(key) {
			result = StatusAlreadyLocked
			return
		}
		entry, exists := h.store.get(key)
		switch {
		case exists && entry.Value == expected:
			h.locks.acquire(WriteLock{Tag: tag, Key: key, ExpectedValue: expected, AcquiredMS: h.clock.NowMS()})
			result = StatusOK
		case !exists && expected == NotFound:
			h.locks.acquire(WriteLock{Tag: tag, Key: key, ExpectedValue: expected, AcquiredMS: h.clock.NowMS()})
			result = StatusOK
		default:
			result = StatusNotExpectedValue
		}
	})
	return result
}

// ─── §4.2 release_write_lock ────────────────────────────────────────────

func (h *Handler) ReleaseWriteLock(tag Tag) Status {
	var result Status
	h.submit(func() {
		if h.locks.removeByTag(tag) {
			result = StatusOK
		} else {
			result = StatusLockExpired
		}
	})
	return result
}

// ─── §4.3 write (commit) ────────────────────────────────────────────────

// Write unconditionally commits value under key with the given lease
// length and drops tag's lock if present. The replica trusts the
// coordinator to have secured a quorum; it performs no precondition
// check (spec §4.3).
func (h *Handler) Write(tag Tag, key Key, value Value, leaseLengthMS int64) {
	h.submit(func() {
		now := h.clock.NowMS()
		h.store.set(key, StoreEntry{Value: value, LeaseExpiryMS: now + leaseLengthMS})
		h.locks.removeByTag(tag)
	})
}

// ─── §4.4 release (delete) ──────────────────────────────────────────────

func (h *Handler) Release(key Key, value Value, tag Tag) Status {
	var result Status
	h.submit(func() {
		entry, exists := h.store.get(key)
		switch {
		case !exists:
			result = StatusNotFound
		case entry.Value != value:
			result = StatusNotOwner
		default:
			h.store.delete(key)
			h.locks.removeByTag(tag)
			result = StatusOK
		}
	})
	return result
}

// ─── §4.5 extend_lease ──────────────────────────────────────────────────

func (h *Handler) ExtendLease(tag Tag, key Key, value Value, extendLengthMS int64) Status {
	var result Status
	h.submit(func() {
		now := h.clock.NowMS()
		entry, exists := h.store.get(key)
		switch {
		case exists && entry.Value == value:
			h.store.set(key, StoreEntry{Value: value, LeaseExpiryMS: now + extendLengthMS})
			h.locks.removeByTag(tag)
			result = StatusOK
		case exists:
			result = StatusNotOwner
		case h.membership.IsReplicaMember(h.self):
			// A late-joining replica installs the lease it never saw
			// committed: extending doubles as the install mechanism
			// (spec §4.5).
			h.store.set(key, StoreEntry{Value: value, LeaseExpiryMS: now + extendLengthMS})
			h.locks.removeByTag(tag)
			result = StatusOK
		default:
			result = StatusNotFound
		}
	})
	return result
}

// ─── §4.6 dirty_read ────────────────────────────────────────────────────

func (h *Handler) DirtyRead(key Key) (Value, bool) {
	var value Value
	var ok bool
	h.submit(func() {
		entry, exists := h.store.get(key)
		if exists {
			value, ok = entry.Value, true
		}
	})
	return value, ok
}

// ─── §4.11 membership operations ────────────────────────────────────────

func (h *Handler) SetNodes(primaries, replicas []Node) {
	h.submit(func() {
		h.membership.Primaries = append([]Node(nil), primaries...)
		h.membership.Replicas = append([]Node(nil), replicas...)
	})
}

func (h *Handler) SetW(w int) {
	h.submit(func() {
		h.membership.W = w
	})
}

// RemoveNode removes id from the local primary and replica sets. The one-hop
// reciprocal call to the removed node (spec §4.11) is the transport
// layer's responsibility, since Handler has no notion of addressing a
// peer on its own.
func (h *Handler) RemoveNode(id NodeID) {
	h.submit(func() {
		h.membership.Primaries = removeNodeID(h.membership.Primaries, id)
		h.membership.Replicas = removeNodeID(h.membership.Replicas, id)
	})
}

func (h *Handler) GetNodes() Membership {
	var m Membership
	h.submit(func() {
		m = h.membership.Clone()
	})
	return m
}

func (h *Handler) GetDebugState() DebugState {
	var ds DebugState
	h.submit(func() {
		ds = DebugState{
			Locks:         h.locks.all(),
			StoreContents: h.store.snapshot(),
			Membership:    h.membership.Clone(),
			Config:        h.cfg,
		}
	})
	return ds
}
