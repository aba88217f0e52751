package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"distributed-lockstore/internal/coordinator"
	"distributed-lockstore/internal/replica"
)

// Server exposes one node's replica.Handler and coordinator.Coordinator
// over HTTP: /internal/* for peer-to-peer RPCs (spec §6's table) and
// /v1/* for the client-facing coordinator operations.
type Server struct {
	self   replica.Node
	h      *replica.Handler
	coord  *coordinator.Coordinator
	client *Client // used for the remove_node reciprocal call (spec §4.11)
	log    *logrus.Entry
	engine *gin.Engine
}

// NewServer wires h and coord onto a fresh gin.Engine. client is used only
// to make the one-hop reciprocal remove_node call; pass the same Client
// the coordinator's RPC implementation uses.
func NewServer(self replica.Node, h *replica.Handler, coord *coordinator.Coordinator, client *Client, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{self: self, h: h, coord: coord, client: client, log: log}
	s.engine = gin.New()
	s.engine.Use(Logger(log), Recovery(log))
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin.Engine, e.g. for embedding in an
// http.Server.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	internal := s.engine.Group("/internal")
	internal.POST("/get_write_lock", s.handleGetWriteLock)
	internal.POST("/release_write_lock", s.handleReleaseWriteLock)
	internal.POST("/write", s.handleWrite)
	internal.POST("/release", s.handleRelease)
	internal.POST("/extend_lease", s.handleExtendLease)
	internal.POST("/set_nodes", s.handleSetNodes)
	internal.POST("/set_w", s.handleSetW)
	internal.POST("/remove_node", s.handleRemoveNode)
	internal.GET("/get_nodes", s.handleGetNodes)
	internal.GET("/get_debug_state", s.handleGetDebugState)
	internal.GET("/dirty_read/:key", s.handleDirtyRead)

	v1 := s.engine.Group("/v1")
	v1.POST("/lock", s.handleLock)
	v1.POST("/release", s.handleClientRelease)
	v1.POST("/extend_lease", s.handleClientExtendLease)
}

func (s *Server) handleHealth(c *gin.Context) {
	m := s.h.GetNodes()
	c.JSON(http.StatusOK, gin.H{
		"node":   s.self.ID,
		"status": "ok",
		"nodes":  len(m.Primaries) + len(m.Replicas),
	})
}

// ─── /internal/* — peer-to-peer RPCs ────────────────────────────────────

func (s *Server) handleGetWriteLock(c *gin.Context) {
	var req getWriteLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := s.h.GetWriteLock(req.Key, req.Expected, req.Tag)
	c.JSON(http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleReleaseWriteLock(c *gin.Context) {
	var req releaseWriteLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := s.h.ReleaseWriteLock(req.Tag)
	c.JSON(http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleWrite(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.h.Write(req.Tag, req.Key, req.Value, req.LeaseLengthMS)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRelease(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := s.h.Release(req.Key, req.Value, req.Tag)
	c.JSON(http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleExtendLease(c *gin.Context) {
	var req extendLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := s.h.ExtendLease(req.Tag, req.Key, req.Value, req.ExtendLengthMS)
	c.JSON(http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleSetNodes(c *gin.Context) {
	var req setNodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.h.SetNodes(req.Primaries, req.Replicas)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetW(c *gin.Context) {
	var req setWRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.h.SetW(req.W)
	c.Status(http.StatusNoContent)
}

// handleRemoveNode implements spec §4.11's one-hop reciprocal call: a
// non-reciprocal remove_node also tells the removed node to remove self,
// best-effort, so a two-node edge doesn't need an external orchestrator to
// heal both sides.
func (s *Server) handleRemoveNode(c *gin.Context) {
	var req removeNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed, found := lookupNode(s.h.GetNodes(), req.Node)
	s.h.RemoveNode(req.Node)

	if !req.Reciprocal && found && s.client != nil {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), coordinator.CallTimeout)
			defer cancel()
			_ = s.client.RemoveNode(cctx, removed, s.self.ID, true)
		}()
	}
	c.Status(http.StatusNoContent)
}

// lookupNode finds id's address in m, which must be taken before the
// removal runs — Handler forgets a node's address the instant it's
// dropped from membership.
func lookupNode(m replica.Membership, id replica.NodeID) (replica.Node, bool) {
	for _, n := range m.AllNodes() {
		if n.ID == id {
			return n, true
		}
	}
	return replica.Node{}, false
}

func (s *Server) handleGetNodes(c *gin.Context) {
	m := s.h.GetNodes()
	c.JSON(http.StatusOK, getNodesReply{Primaries: m.Primaries, Replicas: m.Replicas, W: m.W})
}

func (s *Server) handleGetDebugState(c *gin.Context) {
	ds := s.h.GetDebugState()
	c.JSON(http.StatusOK, debugStateReply{
		Locks:         ds.Locks,
		StoreContents: ds.StoreContents,
		Primaries:     ds.Membership.Primaries,
		Replicas:      ds.Membership.Replicas,
		W:             ds.Membership.W,
	})
}

func (s *Server) handleDirtyRead(c *gin.Context) {
	key := replica.Key(c.Param("key"))
	value, ok := s.h.DirtyRead(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, dirtyReadReply{Value: value})
}

// ─── /v1/* — client-facing coordinator operations ───────────────────────

func (s *Server) handleLock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	leaseLengthMS := req.LeaseLengthMS
	if leaseLengthMS == 0 {
		leaseLengthMS = s.h.Config().DefaultLeaseMS
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	result, err := s.coord.Lock(ctx, s.h.GetNodes(), req.Key, req.Value, leaseLengthMS)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, coordinatorResultReply{OK: result.OK, W: result.W, Voted: result.Voted, Committed: result.Committed})
}

func (s *Server) handleClientRelease(c *gin.Context) {
	var req releaseClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	result, err := s.coord.Release(ctx, s.h.GetNodes(), req.Key, req.Value)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, coordinatorResultReply{OK: result.OK, W: result.W, Voted: result.Voted, Committed: result.Committed})
}

func (s *Server) handleClientExtendLease(c *gin.Context) {
	var req extendLeaseClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.coord.ExtendLease(ctx, s.h.GetNodes(), req.Key, req.Value, req.ExtendLengthMS); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
