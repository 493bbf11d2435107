package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/model"
)

func TestConnectedComponentsGroupsLinkedNodes(t *testing.T) {
	nodes := []model.Memory{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	edges := []model.Edge{
		{SourceID: "a", TargetID: "b"},
		{SourceID: "b", TargetID: "c"},
	}
	groups := detectCommunities(nodes, edges, config.Community{MaxIterations: 100})
	sizes := map[int]int{}
	for _, g := range groups {
		sizes[len(g)]++
	}
	assert.Equal(t, 1, sizes[3], "expected one 3-node group {a,b,c}")
	assert.Equal(t, 1, sizes[1], "expected one 1-node group {d}")
}

func TestLabelPropagationConvergesOnStarGraph(t *testing.T) {
	nodes := []model.Memory{{ID: "hub"}, {ID: "a"}, {ID: "b"}, {ID: "c"}}
	var edges []model.Edge
	for _, leaf := range []string{"a", "b", "c"} {
		edges = append(edges, model.Edge{SourceID: "hub", TargetID: leaf})
	}
	groups := labelPropagation(nodes, edges, 100)
	assert.Len(t, groups, 1, "a fully connected star should converge to a single community")
}

func TestMajorityLabelBreaksTiesDeterministically(t *testing.T) {
	counts := map[string]int{"b": 2, "a": 2}
	assert.Equal(t, "a", majorityLabel(counts))
}
