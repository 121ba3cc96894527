package dal

import (
	"context"

	"github.com/stevemurr/agentbench/store"
)

// ListRuns returns an agent's legacy runs, newest first.
func (d *DAL) ListRuns(ctx context.Context, agentID string) (_ []Run, err error) {
	defer d.track("listRuns")(&err)
	if agentID == "" {
		return []Run{}, nil
	}
	q := store.Collection(RunsPath(agentID)).OrderBy("timestamp", store.Desc)
	docs, err := d.query(ctx, "runs of agent "+agentID, q)
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeRun(agentID, doc))
	}
	return out, nil
}

// SubscribeToRun follows one run. onUpdate receives the run on every change,
// a *NotFoundError while the run does not exist, and a store error once if
// the listener fails.
func (d *DAL) SubscribeToRun(ctx context.Context, agentID, runID string, onUpdate func(*Run, error)) Unsubscribe {
	log := d.log.With().Str("agent", agentID).Str("run", runID).Logger()
	cancel := d.store.WatchDocument(ctx, RunsPath(agentID), runID, func(doc *store.Document, err error) {
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("run subscription failed")
			onUpdate(nil, err)
		case doc == nil:
			onUpdate(nil, &NotFoundError{Kind: "run", ID: runID})
		default:
			r := decodeRun(agentID, *doc)
			onUpdate(&r, nil)
		}
	})
	return d.subscription("run", cancel)
}
