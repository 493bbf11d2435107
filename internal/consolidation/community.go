package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/raftlog"
)

// L2Pass periodically rolls L1 communities into L2 insight memories.
// Community detection over the adjacency graph is grounded in
// vthunder-bud2's clusterEpisodesByEdges
// connected-components walk, generalized here into label propagation for
// the medium/large size tiers.
type L2Pass struct {
	read     *hybridindex.ReadHandle
	cap      llmcap.Capability
	proposer Proposer
	cfg      config.Community
	logger   *logrus.Entry
}

func NewL2Pass(read *hybridindex.ReadHandle, cap llmcap.Capability, proposer Proposer, cfg config.Community, logger *logrus.Entry) *L2Pass {
	return &L2Pass{read: read, cap: cap, proposer: proposer, cfg: cfg, logger: logger}
}

// RunOnce detects communities over one tenant's L1 graph and proposes one
// L2 memory per community surviving min_community_size.
func (p *L2Pass) RunOnce(ctx context.Context, tenant string) (int, error) {
	g, err := p.read.Graph(ctx, 1_000_000, tenant)
	if err != nil {
		return 0, err
	}
	l1 := make([]model.Memory, 0, len(g.Nodes))
	for _, m := range g.Nodes {
		if m.Level == model.LevelL1 {
			l1 = append(l1, m)
		}
	}
	if len(l1) == 0 {
		return 0, nil
	}

	communities := detectCommunities(l1, g.Edges, p.cfg)

	created := 0
	for _, members := range communities {
		if len(members) < p.cfg.MinSize {
			continue
		}
		if err := p.commitCommunity(ctx, tenant, members); err != nil {
			p.logger.WithError(err).Warn("l2 community commit failed")
			continue
		}
		created++
	}
	return created, nil
}

// detectCommunities picks a strategy by graph size, unless cfg.Algorithm
// pins one explicitly.
func detectCommunities(nodes []model.Memory, edges []model.Edge, cfg config.Community) [][]model.Memory {
	switch cfg.Algorithm {
	case "louvain":
		return connectedComponents(nodes, edges)
	case "label_propagation":
		return labelPropagation(nodes, edges, cfg.MaxIterations)
	case "two_phase":
		return labelPropagation(nodes, edges, 10)
	}

	switch {
	case len(nodes) < 1000:
		return connectedComponents(nodes, edges)
	case len(nodes) <= 10000:
		return labelPropagation(nodes, edges, cfg.MaxIterations)
	default:
		return labelPropagation(nodes, edges, 10)
	}
}

// connectedComponents is the pass used for small graphs and for the
// "louvain" setting: every edge is treated as same-community and the
// components are found via DFS. No modularity optimisation is done.
func connectedComponents(nodes []model.Memory, edges []model.Edge) [][]model.Memory {
	byID := make(map[string]model.Memory, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	visited := make(map[string]bool, len(nodes))
	var groups [][]model.Memory
	ids := sortedIDs(nodes)
	for _, id := range ids {
		if visited[id] {
			continue
		}
		var group []model.Memory
		stack := []string{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			if m, ok := byID[cur]; ok {
				group = append(group, m)
			}
			for _, next := range adj[cur] {
				if !visited[next] {
					stack = append(stack, next)
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// labelPropagation assigns each node its own label, then repeatedly
// adopts the majority label among neighbors, breaking ties by
// deterministic id ordering until convergence (<1% of labels change) or
// maxIterations is reached.
func labelPropagation(nodes []model.Memory, edges []model.Edge, maxIterations int) [][]model.Memory {
	byID := make(map[string]model.Memory, len(nodes))
	label := make(map[string]string, len(nodes))
	ids := sortedIDs(nodes)
	for _, id := range ids {
		label[id] = id
	}
	for _, n := range nodes {
		byID[n.ID] = n
	}

	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := 0
		for _, id := range ids {
			neighbors := adj[id]
			if len(neighbors) == 0 {
				continue
			}
			counts := map[string]int{}
			for _, n := range neighbors {
				counts[label[n]]++
			}
			best := majorityLabel(counts)
			if best != label[id] {
				label[id] = best
				changed++
			}
		}
		if float64(changed) < 0.01*float64(len(ids)) {
			break
		}
	}

	groups := map[string][]model.Memory{}
	for _, id := range ids {
		groups[label[id]] = append(groups[label[id]], byID[id])
	}
	out := make([][]model.Memory, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out
}

// majorityLabel returns the highest-count label, ties broken by the
// lexicographically smallest label id.
func majorityLabel(counts map[string]int) string {
	var best string
	bestCount := -1
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if counts[l] > bestCount {
			best = l
			bestCount = counts[l]
		}
	}
	return best
}

func sortedIDs(nodes []model.Memory) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return ids
}

func (p *L2Pass) commitCommunity(ctx context.Context, tenant string, members []model.Memory) error {
	var builder strings.Builder
	const tokenBudget = 4000
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
		if builder.Len() < tokenBudget {
			builder.WriteString(m.Content)
			builder.WriteString("\n")
		}
	}

	summary, err := p.cap.Summarize(ctx, []string{builder.String()})
	if err != nil {
		return fmt.Errorf("consolidation: l2 summarize: %w", err)
	}
	embedding, err := p.cap.Embed(ctx, summary.Content)
	if err != nil {
		return fmt.Errorf("consolidation: l2 embed: %w", err)
	}

	communityID := fmt.Sprintf("community-%x", fnvHash(strings.Join(memberIDs, ",")))
	l2 := model.Memory{
		ID:              fmt.Sprintf("l2-%x", fnvHash(communityID+summary.Content)),
		Tenant:          tenant,
		Content:         summary.Content,
		Embedding:       embedding,
		Importance:      summary.Importance,
		Level:           model.LevelL2,
		MemoryType:      model.MemoryTypeFactual,
		DerivedFrom:     memberIDs,
		TransactionTime: time.Now(),
		LastAccessed:    time.Now(),
	}
	l2.ClampImportance()

	cmd := raftlog.Command{Kind: raftlog.KindUpsertMemory, UpsertMemories: []model.Memory{l2}}
	for _, id := range memberIDs {
		cmd.UpsertEdges = append(cmd.UpsertEdges, model.Edge{
			SourceID: l2.ID, TargetID: id, Relation: model.RelationDerivedFrom, Weight: 1, UpdatedAt: time.Now(),
		})
	}
	_, err = p.proposer.Propose(ctx, cmd)
	return err
}
