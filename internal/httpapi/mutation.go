package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/raftlog"
)

// ingestEventRequest is the POST body for
// /v1/users/{tenant}/apps/{app}/streams/{stream}/events.
type ingestEventRequest struct {
	Content struct {
		Type string `json:"type" binding:"required"`
		Data string `json:"data" binding:"required"`
	} `json:"content" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleIngestEvent(c *gin.Context) {
	tenant, app, stream := c.Param("tenant"), c.Param("app"), c.Param("stream")
	var req ingestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, memerr.Validation("invalid event body", err))
		return
	}

	shard, ok := s.shardFor(c, tenant)
	if !ok {
		return
	}

	ev := model.Event{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		App:       app,
		Stream:    stream,
		Timestamp: time.Now(),
		Content:   model.Content{Type: req.Content.Type, Data: []byte(req.Content.Data)},
		Metadata:  req.Metadata,
	}

	res, err := shard.propose(c.Request.Context(), raftlog.Command{Kind: raftlog.KindIngestEvent, Event: &ev})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": ev.ID, "log_index": res.Index})
}

type clusterInitializeRequest struct {
	ShardID uint64 `json:"shard_id"`
}

func (s *Server) handleClusterInitialize(c *gin.Context) {
	var req clusterInitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, memerr.Validation("invalid initialize body", err))
		return
	}
	shard, ok := s.cluster.Shards[req.ShardID]
	if !ok {
		writeError(c, memerr.Validation("unknown shard_id", nil))
		return
	}
	if err := shard.Log.Bootstrap(s.cluster.NodeID, s.cluster.Addr); err != nil {
		writeError(c, memerr.TransientIO("bootstrap failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

type clusterJoinRequest struct {
	ShardID uint64 `json:"shard_id"`
	NodeID  string `json:"node_id" binding:"required"`
	Address string `json:"address" binding:"required"`
	Voter   bool   `json:"voter"`
}

func (s *Server) handleClusterJoin(c *gin.Context) {
	var req clusterJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, memerr.Validation("invalid join body", err))
		return
	}
	shard, ok := s.cluster.Shards[req.ShardID]
	if !ok {
		writeError(c, memerr.Validation("unknown shard_id", nil))
		return
	}

	var err error
	if req.Voter {
		err = shard.Log.AddVoter(req.NodeID, req.Address)
	} else {
		err = shard.Log.AddLearner(req.NodeID, req.Address)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}
