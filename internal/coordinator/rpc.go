package coordinator

import (
	"context"

	"distributed-lockstore/internal/replica"
)

// RPC is the set of peer calls a Coordinator needs to drive phase 1 and
// phase 2 (spec §4.8–§4.10). internal/transport provides the concrete,
// HTTP-backed implementation; tests provide in-process fakes. Every call
// here is a single request/reply with no internal retry — the bounded
// per-call deadline is the caller's responsibility via ctx, per spec
// §4.8's "the coordinator does NOT retry individual failed nodes within
// one attempt".
type RPC interface {
	GetWriteLock(ctx context.Context, node replica.Node, key replica.Key, expected replica.Value, tag replica.Tag) (replica.Status, error)
	ReleaseWriteLock(ctx context.Context, node replica.Node, tag replica.Tag) (replica.Status, error)
	Write(ctx context.Context, node replica.Node, tag replica.Tag, key replica.Key, value replica.Value, leaseLengthMS int64) error
	Release(ctx context.Context, node replica.Node, key replica.Key, value replica.Value, tag replica.Tag) (replica.Status, error)
	ExtendLease(ctx context.Context, node replica.Node, tag replica.Tag, key replica.Key, value replica.Value, extendLengthMS int64) (replica.Status, error)
}
