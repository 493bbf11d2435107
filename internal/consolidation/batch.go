package consolidation

import (
	"sort"

	"github.com/memorose/memorose/internal/model"
)

// streamKey groups pending events the way the batcher scopes its draws:
// batches scoped to (tenant, app, stream).
type streamKey struct {
	Tenant, App, Stream string
}

// groupByStream partitions pending events into per-(tenant,app,stream)
// batches, each capped at batchSize, oldest-first — mirroring the
// teacher's consolidate.Run draining unconsolidated items in
// timestamp order before clustering them.
func groupByStream(events []model.Event, batchSize int) map[streamKey][]model.Event {
	byKey := make(map[streamKey][]model.Event)
	for _, ev := range events {
		k := streamKey{ev.Tenant, ev.App, ev.Stream}
		byKey[k] = append(byKey[k], ev)
	}
	out := make(map[streamKey][]model.Event, len(byKey))
	for k, evs := range byKey {
		sortEventsByTime(evs)
		if len(evs) > batchSize {
			evs = evs[:batchSize]
		}
		out[k] = evs
	}
	return out
}

func sortEventsByTime(evs []model.Event) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
}
