package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"distributed-lockstore/internal/coordinator"
	"distributed-lockstore/internal/replica"
)

// Client talks to one node's HTTP endpoints. It implements
// coordinator.RPC, so a Coordinator can fan requests out through it, and
// it also exposes the admin/membership/dirty-read calls used by cmd/nodectl.
//
// Each call takes its deadline from ctx (the caller — the coordinator, or
// an admin CLI command — is responsible for bounding it), matching spec
// §6's "per-call deadline: 1000ms unless specified otherwise" instead of
// a single client-wide timeout as ppriyankuu-godkv's client does.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client. The underlying http.Client has no timeout
// of its own; every request is bounded by the context passed to it.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// APIError carries the HTTP status and message from a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = string(data)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── coordinator.RPC implementation (peer-to-peer calls) ───────────────

func (c *Client) GetWriteLock(ctx context.Context, n replica.Node, key replica.Key, expected replica.Value, tag replica.Tag) (replica.Status, error) {
	var reply statusReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/get_write_lock"),
		getWriteLockRequest{Key: key, Expected: expected, Tag: tag}, &reply)
	return reply.Status, err
}

func (c *Client) ReleaseWriteLock(ctx context.Context, n replica.Node, tag replica.Tag) (replica.Status, error) {
	var reply statusReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/release_write_lock"),
		releaseWriteLockRequest{Tag: tag}, &reply)
	return reply.Status, err
}

func (c *Client) Write(ctx context.Context, n replica.Node, tag replica.Tag, key replica.Key, value replica.Value, leaseLengthMS int64) error {
	return c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/write"),
		writeRequest{Tag: tag, Key: key, Value: value, LeaseLengthMS: leaseLengthMS}, nil)
}

func (c *Client) Release(ctx context.Context, n replica.Node, key replica.Key, value replica.Value, tag replica.Tag) (replica.Status, error) {
	var reply statusReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/release"),
		releaseRequest{Key: key, Value: value, Tag: tag}, &reply)
	return reply.Status, err
}

func (c *Client) ExtendLease(ctx context.Context, n replica.Node, tag replica.Tag, key replica.Key, value replica.Value, extendLengthMS int64) (replica.Status, error) {
	var reply statusReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/extend_lease"),
		extendLeaseRequest{Tag: tag, Key: key, Value: value, ExtendLengthMS: extendLengthMS}, &reply)
	return reply.Status, err
}

// ─── Membership + introspection calls ──────────────────────────────────

func (c *Client) SetNodes(ctx context.Context, n replica.Node, primaries, replicas []replica.Node) error {
	return c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/set_nodes"),
		setNodesRequest{Primaries: primaries, Replicas: replicas}, nil)
}

func (c *Client) SetW(ctx context.Context, n replica.Node, w int) error {
	return c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/set_w"), setWRequest{W: w}, nil)
}

func (c *Client) RemoveNode(ctx context.Context, n replica.Node, target replica.NodeID, reciprocal bool) error {
	return c.doJSON(ctx, http.MethodPost, nodeURL(n, "/internal/remove_node"),
		removeNodeRequest{Node: target, Reciprocal: reciprocal}, nil)
}

func (c *Client) GetNodes(ctx context.Context, n replica.Node) (replica.Membership, error) {
	var reply getNodesReply
	err := c.doJSON(ctx, http.MethodGet, nodeURL(n, "/internal/get_nodes"), nil, &reply)
	return replica.Membership{Primaries: reply.Primaries, Replicas: reply.Replicas, W: reply.W}, err
}

func (c *Client) GetDebugState(ctx context.Context, n replica.Node) (replica.DebugState, error) {
	var reply debugStateReply
	err := c.doJSON(ctx, http.MethodGet, nodeURL(n, "/internal/get_debug_state"), nil, &reply)
	return replica.DebugState{
		Locks:         reply.Locks,
		StoreContents: reply.StoreContents,
		Membership:    replica.Membership{Primaries: reply.Primaries, Replicas: reply.Replicas, W: reply.W},
	}, err
}

func (c *Client) DirtyRead(ctx context.Context, n replica.Node, key replica.Key) (replica.Value, error) {
	var reply dirtyReadReply
	err := c.doJSON(ctx, http.MethodGet, nodeURL(n, "/internal/dirty_read/"+string(key)), nil, &reply)
	return reply.Value, err
}

// ─── Client-facing coordinator calls ───────────────────────────────────

func (c *Client) Lock(ctx context.Context, n replica.Node, key replica.Key, value replica.Value, leaseLengthMS int64) (coordinator.Result, error) {
	var reply coordinatorResultReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/v1/lock"),
		lockRequest{Key: key, Value: value, LeaseLengthMS: leaseLengthMS}, &reply)
	return coordinator.Result{OK: reply.OK, W: reply.W, Voted: reply.Voted, Committed: reply.Committed}, err
}

func (c *Client) ReleaseKey(ctx context.Context, n replica.Node, key replica.Key, value replica.Value) (coordinator.Result, error) {
	var reply coordinatorResultReply
	err := c.doJSON(ctx, http.MethodPost, nodeURL(n, "/v1/release"),
		releaseClientRequest{Key: key, Value: value}, &reply)
	return coordinator.Result{OK: reply.OK, W: reply.W, Voted: reply.Voted, Committed: reply.Committed}, err
}

func (c *Client) ExtendLeaseKey(ctx context.Context, n replica.Node, key replica.Key, value replica.Value, extendLengthMS int64) error {
	return c.doJSON(ctx, http.MethodPost, nodeURL(n, "/v1/extend_lease"),
		extendLeaseClientRequest{Key: key, Value: value, ExtendLengthMS: extendLengthMS}, nil)
}

func nodeURL(n replica.Node, path string) string {
	return fmt.Sprintf("http://%s%s", n.Addr, path)
}
