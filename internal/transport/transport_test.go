package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-lockstore/internal/coordinator"
	"distributed-lockstore/internal/replica"
)

// testNode starts a Server backed by a real replica.Handler on an
// httptest.Server and returns the replica.Node describing it plus the
// server. Both the handler and the server are shut down via t.Cleanup.
func testNode(t *testing.T, id replica.NodeID, m replica.Membership) (replica.Node, *httptest.Server) {
	t.Helper()
	h := replica.NewHandler(id, m, replica.DefaultConfig(), nil)
	go h.Run()
	t.Cleanup(h.Stop)

	client := NewClient()
	coord := coordinator.New(client, nil)

	ts := httptest.NewUnstartedServer(nil)
	node := replica.Node{ID: id, Addr: ts.Listener.Addr().String()}

	srv := NewServer(node, h, coord, client, nil)
	ts.Config.Handler = srv.Engine()
	ts.Start()
	t.Cleanup(ts.Close)

	return node, ts
}

func TestClientServer_GetWriteLockAndWrite(t *testing.T) {
	m := replica.Membership{W: 1}
	node, _ := testNode(t, "n1", m)

	c := NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, err := c.GetWriteLock(ctx, node, "k", replica.NotFound, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, replica.StatusOK, status)

	err = c.Write(ctx, node, "tag-1", "k", "v1", 5000)
	require.NoError(t, err)

	value, err := c.DirtyRead(ctx, node, "k")
	require.NoError(t, err)
	assert.Equal(t, replica.Value("v1"), value)
}

func TestClientServer_DirtyReadMissingKey(t *testing.T) {
	node, _ := testNode(t, "n1", replica.Membership{W: 1})
	c := NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.DirtyRead(ctx, node, "missing")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestClientServer_LockEndToEnd(t *testing.T) {
	rpcClient := NewClient()

	nodes := make([]replica.Node, 0, 3)
	handlers := make([]*replica.Handler, 0, 3)
	for _, id := range []replica.NodeID{"n1", "n2", "n3"} {
		h := replica.NewHandler(id, replica.Membership{}, replica.DefaultConfig(), nil)
		go h.Run()
		t.Cleanup(h.Stop)
		handlers = append(handlers, h)

		ts := httptest.NewUnstartedServer(nil)
		t.Cleanup(ts.Close)
		node := replica.Node{ID: id, Addr: ts.Listener.Addr().String()}
		nodes = append(nodes, node)

		coord := coordinator.New(rpcClient, nil)
		srv := NewServer(node, h, coord, rpcClient, nil)
		ts.Config.Handler = srv.Engine()
		ts.Start()
	}

	m := replica.Membership{Primaries: nodes, W: 2}
	for _, h := range handlers {
		h.SetNodes(m.Primaries, m.Replicas)
		h.SetW(m.W)
	}

	coord := coordinator.New(rpcClient, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := coord.Lock(ctx, m, "shared-key", "hello", 5000)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 3, result.Committed)

	for _, n := range nodes {
		v, err := rpcClient.DirtyRead(ctx, n, "shared-key")
		require.NoError(t, err)
		assert.Equal(t, replica.Value("hello"), v)
	}
}

func TestClientServer_RemoveNodeReciprocal(t *testing.T) {
	rpcClient := NewClient()

	n1h := replica.NewHandler("n1", replica.Membership{}, replica.DefaultConfig(), nil)
	go n1h.Run()
	t.Cleanup(n1h.Stop)
	n2h := replica.NewHandler("n2", replica.Membership{}, replica.DefaultConfig(), nil)
	go n2h.Run()
	t.Cleanup(n2h.Stop)

	ts1 := httptest.NewUnstartedServer(nil)
	t.Cleanup(ts1.Close)
	n1 := replica.Node{ID: "n1", Addr: ts1.Listener.Addr().String()}

	ts2 := httptest.NewUnstartedServer(nil)
	t.Cleanup(ts2.Close)
	n2 := replica.Node{ID: "n2", Addr: ts2.Listener.Addr().String()}

	coord1 := coordinator.New(rpcClient, nil)
	coord2 := coordinator.New(rpcClient, nil)
	srv1 := NewServer(n1, n1h, coord1, rpcClient, nil)
	ts1.Config.Handler = srv1.Engine()
	ts1.Start()
	srv2 := NewServer(n2, n2h, coord2, rpcClient, nil)
	ts2.Config.Handler = srv2.Engine()
	ts2.Start()

	n1h.SetNodes([]replica.Node{n1, n2}, nil)
	n2h.SetNodes([]replica.Node{n1, n2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rpcClient.RemoveNode(ctx, n1, "n2", false))

	// Give the fire-and-forget reciprocal call a moment to land.
	require.Eventually(t, func() bool {
		m := n2h.GetNodes()
		for _, n := range m.Primaries {
			if n.ID == "n1" {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	m1 := n1h.GetNodes()
	for _, n := range m1.Primaries {
		assert.NotEqual(t, replica.NodeID("n2"), n.ID)
	}
}
