// Package consolidation is the ConsolidationEngine: it drains
// L0 events into L1 memories, periodically rolls L1 communities into L2
// insights, and ticks temporal decay — all as proposals through the same
// replicated log the mutation API uses, never via direct store writes.
// Grounded in SuperAgent's internal/llm capability facade for the model
// calls and in the pack's vthunder-bud2 consolidate.Run for the batch/
// cluster/commit shape.
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/raftlog"
)

// L1Pipeline runs one shard's entropy-filter -> batch -> summarize ->
// embed -> arbitrate -> edge-construct -> commit sub-pipeline.
type L1Pipeline struct {
	read     *hybridindex.ReadHandle
	cap      llmcap.Capability
	proposer Proposer
	cfg      config.Consolidation
	logger   *logrus.Entry
}

func NewL1Pipeline(read *hybridindex.ReadHandle, cap llmcap.Capability, proposer Proposer, cfg config.Consolidation, logger *logrus.Entry) *L1Pipeline {
	return &L1Pipeline{read: read, cap: cap, proposer: proposer, cfg: cfg, logger: logger}
}

// RunOnce drains all currently pending events, grouped into per-stream
// batches, and proposes one commit command per batch. It returns the
// number of batches successfully committed.
func (p *L1Pipeline) RunOnce(ctx context.Context) (int, error) {
	events, err := p.read.PendingEventsAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	batches := groupByStream(events, p.cfg.BatchSize)
	committed := 0
	for key, batch := range batches {
		if err := p.runBatch(ctx, key, batch); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"tenant": key.Tenant, "app": key.App, "stream": key.Stream,
			}).Warn("consolidation batch aborted, events remain pending")
			continue
		}
		committed++
	}
	return committed, nil
}

func (p *L1Pipeline) runBatch(ctx context.Context, key streamKey, batch []model.Event) error {
	// Step 1: entropy filter.
	var kept []model.Event
	var rejected []hybridindex.RejectedEvent
	for _, ev := range batch {
		text := textOf(ev)
		if passesEntropyFilter(text, p.cfg.EntropyThreshold) {
			kept = append(kept, ev)
		} else {
			rejected = append(rejected, hybridindex.RejectedEvent{EventID: ev.ID, Reason: "entropy_rejected"})
		}
	}

	cmd := raftlog.Command{Kind: raftlog.KindUpsertMemory, RejectedEvents: rejected}

	if len(kept) == 0 {
		return p.commit(ctx, cmd)
	}

	// Step 3: summarizer.
	texts := make([]string, len(kept))
	for i, ev := range kept {
		texts[i] = textOf(ev)
	}
	summary, err := p.cap.Summarize(ctx, texts)
	if err != nil {
		return fmt.Errorf("consolidation: summarize: %w", err)
	}

	// Step 4: embedder.
	embedding, err := p.cap.Embed(ctx, summary.Content)
	if err != nil {
		return fmt.Errorf("consolidation: embed: %w", err)
	}

	candidate := model.Memory{
		ID:              newCandidateID(key, summary.Content),
		Tenant:          key.Tenant,
		App:             key.App,
		Stream:          key.Stream,
		Content:         summary.Content,
		Embedding:       embedding,
		Importance:      summary.Importance,
		Keywords:        summary.Keywords,
		Level:           model.LevelL1,
		MemoryType:      model.MemoryTypeFactual,
		TransactionTime: time.Now(),
		LastAccessed:    time.Now(),
	}
	if summary.Procedural {
		candidate.MemoryType = model.MemoryTypeProcedural
	}
	for _, ev := range kept {
		candidate.References = append(candidate.References, ev.ID)
	}
	candidate.ClampImportance()

	// Step 5: arbitrator.
	arbitrated, conflictEdge, err := p.arbitrate(ctx, candidate)
	if err != nil {
		return fmt.Errorf("consolidation: arbitrate: %w", err)
	}
	cmd.UpsertMemories = append(cmd.UpsertMemories, arbitrated)
	if conflictEdge != nil {
		cmd.UpsertEdges = append(cmd.UpsertEdges, *conflictEdge)
	}

	// Step 6: edge construction — similar edges to top-K neighbors, and
	// derived_from edges to every cited L0 event.
	neighbors, err := p.read.Search(ctx, hybridindex.Query{
		Text:    arbitrated.Content,
		Mode:    hybridindex.ModeVector,
		Filters: hybridindex.Filters{Tenant: key.Tenant, Level: model.LevelL1},
		K:       p.cfg.TopKNeighbors,
	}, config.Scoring{WVector: 1}, p.cap)
	if err != nil {
		return fmt.Errorf("consolidation: neighbor search: %w", err)
	}
	for _, n := range neighbors {
		if n.Memory.ID == arbitrated.ID || n.Score < p.cfg.LinkThreshold {
			continue
		}
		cmd.UpsertEdges = append(cmd.UpsertEdges, model.Edge{
			SourceID: arbitrated.ID, TargetID: n.Memory.ID,
			Relation: model.RelationSimilar, Weight: n.Score, UpdatedAt: time.Now(),
		})
	}
	for _, ev := range kept {
		cmd.UpsertEdges = append(cmd.UpsertEdges, model.Edge{
			SourceID: arbitrated.ID, TargetID: ev.ID,
			Relation: model.RelationDerivedFrom, Weight: 1, UpdatedAt: time.Now(),
		})
	}
	for _, ev := range kept {
		cmd.ConsumedEvents = append(cmd.ConsumedEvents, ev.ID)
	}

	// Step 7: commit as a single batch command.
	return p.commit(ctx, cmd)
}

// arbitrate runs the dedup/conflict decision and
// returns the memory to upsert (the existing one, merged in place, or the
// new candidate) plus an optional conflicts edge.
func (p *L1Pipeline) arbitrate(ctx context.Context, candidate model.Memory) (model.Memory, *model.Edge, error) {
	hits, err := p.read.Search(ctx, hybridindex.Query{
		Text:    candidate.Content,
		Mode:    hybridindex.ModeVector,
		Filters: hybridindex.Filters{Tenant: candidate.Tenant, Level: model.LevelL1},
		K:       5,
	}, config.Scoring{WVector: 1}, p.cap)
	if err != nil {
		return candidate, nil, err
	}
	if len(hits) == 0 {
		return candidate, nil, nil
	}
	top := hits[0]

	if top.Score >= p.cfg.DedupThreshold {
		merged := top.Memory
		merged.References = append(merged.References, candidate.References...)
		merged.Importance = maxF(merged.Importance, 0.9*candidate.Importance)
		merged.Keywords = unionStrings(merged.Keywords, candidate.Keywords)
		merged.ClampImportance()
		return merged, nil, nil
	}

	if top.Score >= 0.7 {
		verdict, err := p.cap.Arbitrate(ctx, candidate.Content, top.Memory.Content)
		if err != nil {
			return candidate, nil, err
		}
		if verdict.Conflicts {
			edge := model.Edge{
				SourceID: candidate.ID, TargetID: top.Memory.ID,
				Relation: model.RelationConflicts, Weight: verdict.Similarity, UpdatedAt: time.Now(),
			}
			return candidate, &edge, nil
		}
	}

	return candidate, nil, nil
}

func (p *L1Pipeline) commit(ctx context.Context, cmd raftlog.Command) error {
	if len(cmd.UpsertMemories) == 0 && len(cmd.UpsertEdges) == 0 && len(cmd.ConsumedEvents) == 0 && len(cmd.RejectedEvents) == 0 {
		return nil
	}
	_, err := p.proposer.Propose(ctx, cmd)
	return err
}

func textOf(ev model.Event) string {
	return string(ev.Content.Data)
}

// newCandidateID is deterministic on content so a new leader re-deriving
// the same batch from still-pending events produces the same id instead
// of a fresh duplicate when a new leader re-derives the same batch.
func newCandidateID(key streamKey, content string) string {
	h := fnvHash(key.Tenant + "/" + key.App + "/" + key.Stream + "/" + content)
	return fmt.Sprintf("mem-%x", h)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
