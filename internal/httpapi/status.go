package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleClusterStatus reports every shard this node serves: term, leader,
// voters/learners, replication lag.
func (s *Server) handleClusterStatus(c *gin.Context) {
	shards := make(gin.H, len(s.cluster.Shards))
	for id, shard := range s.cluster.Shards {
		st := shard.Log.Status()
		shards[strconv.FormatUint(id, 10)] = gin.H{
			"state":                    st.State,
			"term":                     st.Term,
			"last_log_index":           st.LastLogIndex,
			"last_applied":             st.LastApplied,
			"leader":                   st.Leader,
			"voters":                   st.Voters,
			"learners":                 st.Learners,
			"replication_lag_per_peer": st.ReplicationLagPerPeer,
		}
	}
	c.JSON(http.StatusOK, gin.H{"node_id": s.cluster.NodeID, "shards": shards})
}
