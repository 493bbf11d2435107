package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/memerr"
)

type fakeLocator struct {
	shardID uint64
}

func (f *fakeLocator) ShardFor(tenant string) uint64 { return f.shardID }

func newTestServer(t *testing.T, shards map[uint64]*Shard, locator ShardLocator) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cluster := &Cluster{Shards: shards, Router: locator, NodeID: "node-1", Addr: "127.0.0.1:7100"}
	return NewServer(cluster, config.Server{Mode: gin.TestMode}, logger, nil)
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	return w
}

func TestWriteErrorStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", memerr.Validation("bad input", nil), http.StatusBadRequest, "validation"},
		{"not_leader", memerr.NotLeader("node-2"), http.StatusTemporaryRedirect, "not_leader"},
		{"timeout", memerr.Timeout("too slow", nil), http.StatusGatewayTimeout, "timeout"},
		{"capacity", memerr.Capacity("full", nil), http.StatusServiceUnavailable, "capacity"},
		{"unavailable", memerr.Unavailable("down", nil), http.StatusServiceUnavailable, "unavailable"},
		{"rejected", memerr.Rejected("conflict"), http.StatusConflict, "rejected"},
		{"plain error", assertError{}, http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tc.err)
			assert.Equal(t, tc.status, w.Code)

			var body map[string]map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body["error"]["kind"])
		})
	}
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestNotLeaderErrorCarriesLeaderHint(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeError(c, memerr.NotLeader("node-2"))

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "node-2", body["error"]["leader_hint"])
}

func TestShardForReturns404WhenRouterPointsAtUnknownShard(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/search", map[string]interface{}{
		"tenant": "acme", "text": "hello",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleIngestEventRejectsInvalidBody(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/users/acme/apps/app1/streams/s1/events", map[string]interface{}{
		"metadata": map[string]string{"k": "v"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleClusterInitializeRejectsUnknownShard(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/cluster/initialize", map[string]interface{}{
		"shard_id": 7,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleClusterJoinRejectsUnknownShard(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/cluster/join", map[string]interface{}{
		"shard_id": 7, "node_id": "node-2", "address": "127.0.0.1:7101",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleClusterJoinRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/cluster/join", map[string]interface{}{
		"shard_id": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchRejectsMissingRequiredFields(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodPost, "/v1/search", map[string]interface{}{
		"app": "app1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleClusterStatusReportsEmptyShardMap(t *testing.T) {
	srv := newTestServer(t, map[uint64]*Shard{}, &fakeLocator{shardID: 0})

	w := doRequest(srv, http.MethodGet, "/v1/cluster/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "node-1", body["node_id"])
	assert.Empty(t, body["shards"])
}
