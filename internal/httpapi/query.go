package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
)

type searchRequest struct {
	Tenant   string `json:"tenant" binding:"required"`
	App      string `json:"app"`
	Text     string `json:"text" binding:"required"`
	Mode     string `json:"mode"`
	Level    int    `json:"level"`
	K        int    `json:"k"`
	Rerank   bool   `json:"rerank"`
	ReadLocal bool  `json:"read_local"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, memerr.Validation("invalid search body", err))
		return
	}
	shard, ok := s.shardFor(c, req.Tenant)
	if !ok {
		return
	}

	mode := hybridindex.ModeHybrid
	switch req.Mode {
	case "text":
		mode = hybridindex.ModeText
	case "vector":
		mode = hybridindex.ModeVector
	}

	q := hybridindex.Query{
		Text: req.Text,
		Mode: mode,
		Filters: hybridindex.Filters{
			Tenant: req.Tenant,
			App:    req.App,
			Level:  model.MemoryLevel(req.Level),
		},
		K:                 req.K,
		EnableArbitration: req.Rerank,
	}

	var results []hybridindex.Result
	run := func(read *hybridindex.ReadHandle) error {
		r, err := read.Search(c.Request.Context(), q, shard.Scoring, shard.Cap)
		if err != nil {
			return err
		}
		results = r
		return nil
	}

	start := time.Now()
	var err error
	if req.ReadLocal {
		err = shard.readLocal(c.Request.Context(), run)
	} else {
		err = shard.readLinearizable(c.Request.Context(), run)
	}
	if shard.metrics != nil {
		shard.metrics.SearchLatency.WithLabelValues(shard.ID, req.Mode).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		writeError(c, err)
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	go shard.proposeAccessBump(ids)

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleGetMemory(c *gin.Context) {
	tenant := c.Query("tenant")
	shard, ok := s.shardFor(c, tenant)
	if !ok {
		return
	}
	id := c.Param("id")

	var memory *model.Memory
	err := shard.readLocal(c.Request.Context(), func(read *hybridindex.ReadHandle) error {
		m, err := read.GetMemory(c.Request.Context(), id)
		memory = m
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if memory == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "reason": "no such memory"}})
		return
	}
	c.JSON(http.StatusOK, memory)
}

func (s *Server) handleListMemories(c *gin.Context) {
	tenant := c.Query("tenant")
	shard, ok := s.shardFor(c, tenant)
	if !ok {
		return
	}
	level, _ := strconv.Atoi(c.Query("level"))

	q := hybridindex.Query{
		Text:    "",
		Mode:    hybridindex.ModeText,
		Filters: hybridindex.Filters{Tenant: tenant, Level: model.MemoryLevel(level)},
		K:       100,
	}
	var g *hybridindex.Graph
	err := shard.readLocal(c.Request.Context(), func(read *hybridindex.ReadHandle) error {
		graph, err := read.Graph(c.Request.Context(), q.K, tenant)
		g = graph
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}

	var out []model.Memory
	for _, m := range g.Nodes {
		if level != 0 && int(m.Level) != level {
			continue
		}
		out = append(out, m)
	}
	c.JSON(http.StatusOK, gin.H{"memories": out})
}

func (s *Server) handleGraph(c *gin.Context) {
	tenant := c.Query("tenant")
	shard, ok := s.shardFor(c, tenant)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	var g *hybridindex.Graph
	err := shard.readLocal(c.Request.Context(), func(read *hybridindex.ReadHandle) error {
		graph, err := read.Graph(c.Request.Context(), limit, tenant)
		g = graph
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
