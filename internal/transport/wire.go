// Package transport implements the RPC surface of spec §6 over HTTP: a
// gin-backed server exposing one route per request kind, and a
// context-deadline-bounded client used both by the coordinator's fan-out
// and by the admin CLI. Cluster membership discovery, health detection,
// and transport reliability (retries, reconnects) are explicitly out of
// scope (spec §1) — every call here is a single, bounded request/reply.
package transport

import "distributed-lockstore/internal/replica"

// Wire request/reply bodies, one pair per row of spec §6's table.

type getWriteLockRequest struct {
	Key      replica.Key   `json:"key"`
	Expected replica.Value `json:"expected_value"`
	Tag      replica.Tag   `json:"tag"`
}

type releaseWriteLockRequest struct {
	Tag replica.Tag `json:"tag"`
}

type writeRequest struct {
	Tag           replica.Tag   `json:"tag"`
	Key           replica.Key   `json:"key"`
	Value         replica.Value `json:"value"`
	LeaseLengthMS int64         `json:"lease_length_ms"`
}

type releaseRequest struct {
	Key   replica.Key   `json:"key"`
	Value replica.Value `json:"value"`
	Tag   replica.Tag   `json:"tag"`
}

type extendLeaseRequest struct {
	Tag            replica.Tag   `json:"tag"`
	Key            replica.Key   `json:"key"`
	Value          replica.Value `json:"value"`
	ExtendLengthMS int64         `json:"extend_length_ms"`
}

type statusReply struct {
	Status replica.Status `json:"status"`
}

type setNodesRequest struct {
	Primaries []replica.Node `json:"primaries"`
	Replicas  []replica.Node `json:"replicas"`
}

type setWRequest struct {
	W int `json:"w"`
}

type removeNodeRequest struct {
	Node       replica.NodeID `json:"node"`
	Reciprocal bool           `json:"reciprocal_flag"`
}

type getNodesReply struct {
	Primaries []replica.Node `json:"primaries"`
	Replicas  []replica.Node `json:"replicas"`
	W         int            `json:"w"`
}

type debugStateReply struct {
	Locks         []replica.WriteLock                `json:"locks"`
	StoreContents map[replica.Key]replica.StoreEntry `json:"store_contents"`
	Primaries     []replica.Node                      `json:"primaries"`
	Replicas      []replica.Node                      `json:"replicas"`
	W             int                                  `json:"w"`
}

type dirtyReadReply struct {
	Value replica.Value `json:"value"`
}

// Client-facing coordinator request/reply bodies.

type lockRequest struct {
	Key           replica.Key   `json:"key" binding:"required"`
	Value         replica.Value `json:"value"`
	LeaseLengthMS int64         `json:"lease_length_ms"`
}

type releaseClientRequest struct {
	Key   replica.Key   `json:"key" binding:"required"`
	Value replica.Value `json:"value"`
}

type extendLeaseClientRequest struct {
	Key            replica.Key   `json:"key" binding:"required"`
	Value          replica.Value `json:"value"`
	ExtendLengthMS int64         `json:"extend_length_ms"`
}

type coordinatorResultReply struct {
	OK        bool `json:"ok"`
	W         int  `json:"w"`
	Voted     int  `json:"voted"`
	Committed int  `json:"committed"`
}
