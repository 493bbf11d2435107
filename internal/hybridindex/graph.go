package hybridindex

import (
	"context"
	"encoding/json"

	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
)

// GraphStats summarizes the shape of a graph snapshot.
type GraphStats struct {
	NodeCount           int
	EdgeCount           int
	RelationDistribution map[string]int
}

// Graph is a bounded snapshot of nodes and edges for visualization.
type Graph struct {
	Nodes []model.Memory
	Edges []model.Edge
	Stats GraphStats
}

// Graph returns up to limit memories for tenant (or all tenants if empty)
// plus every edge between them.
func (idx *Index) Graph(ctx context.Context, limit int, tenant string) (*Graph, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := idx.store.KV.ScanPrefix(ctx, []byte(memoryKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: graph scan", err)
	}

	nodes := make([]model.Memory, 0, limit)
	nodeIDs := map[string]struct{}{}
	for _, row := range rows {
		if len(nodes) >= limit {
			break
		}
		m, err := decodeMemory(row.Value)
		if err != nil {
			return nil, err
		}
		if tenant != "" && m.Tenant != tenant {
			continue
		}
		nodes = append(nodes, *m)
		nodeIDs[m.ID] = struct{}{}
	}

	var edges []model.Edge
	dist := map[string]int{}
	for _, node := range nodes {
		id := node.ID
		neighbors, err := idx.store.KV.Neighbors(ctx, id, nil)
		if err != nil {
			return nil, memerr.TransientIO("hybridindex: graph neighbors", err)
		}
		for _, n := range neighbors {
			if _, ok := nodeIDs[n.TargetID]; !ok {
				continue
			}
			edges = append(edges, model.Edge{
				SourceID: n.SourceID,
				TargetID: n.TargetID,
				Relation: model.Relation(n.Relation),
				Weight:   n.Weight,
			})
			dist[n.Relation]++
		}
	}

	return &Graph{
		Nodes: nodes,
		Edges: edges,
		Stats: GraphStats{NodeCount: len(nodes), EdgeCount: len(edges), RelationDistribution: dist},
	}, nil
}

// PathStep is one hop in a Neighbors traversal.
type PathStep struct {
	Memory   model.Memory
	Relation model.Relation
	Depth    int
}

// Neighbors walks the adjacency graph from id up to depth hops, restricted
// to relationMask if non-empty. Traversal uses an explicit visited set and
// a bounded queue — never pointer-linked nodes — so cycles in the graph
// terminate naturally.
func (idx *Index) Neighbors(ctx context.Context, id string, depth int, relationMask []model.Relation) ([]PathStep, error) {
	if depth <= 0 {
		depth = 1
	}
	relations := make([]string, len(relationMask))
	for i, r := range relationMask {
		relations[i] = string(r)
	}

	visited := map[string]struct{}{id: {}}
	type frontierItem struct {
		id    string
		depth int
	}
	frontier := []frontierItem{{id: id, depth: 0}}
	var out []PathStep

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= depth {
			continue
		}
		rows, err := idx.store.KV.Neighbors(ctx, cur.id, relations)
		if err != nil {
			return nil, memerr.TransientIO("hybridindex: neighbors", err)
		}
		for _, r := range rows {
			if _, seen := visited[r.TargetID]; seen {
				continue
			}
			visited[r.TargetID] = struct{}{}
			m, err := idx.GetMemory(ctx, r.TargetID)
			if err != nil {
				return nil, err
			}
			if m == nil {
				continue
			}
			out = append(out, PathStep{Memory: *m, Relation: model.Relation(r.Relation), Depth: cur.depth + 1})
			frontier = append(frontier, frontierItem{id: r.TargetID, depth: cur.depth + 1})
		}
	}
	return out, nil
}

func decodeMemory(blob []byte) (*model.Memory, error) {
	var m model.Memory
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, memerr.FatalInvariant("hybridindex: corrupt memory row", err)
	}
	return &m, nil
}
