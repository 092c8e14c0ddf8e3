package agent

import (
	"context"
	"log/slog"

	"github.com/ggoodman/xrce-agent-go/sessions"
)

// directoryChange is one queued update for the session directory. Record is
// nil for deletions.
type directoryChange struct {
	event  sessions.Event
	record *sessions.ClientRecord
}

// enqueue queues a change for c without blocking. Changes other than
// deletion read c's table and must run with c.mu held. Changes are queued
// under a.qmu in the order they were applied, and nothing is queued for c
// once its deletion is.
func (a *Agent) enqueue(ctx context.Context, typ sessions.EventType, c *ProxyClient) {
	if a.queue == nil {
		return
	}
	a.qmu.Lock()
	defer a.qmu.Unlock()
	if c.detached {
		return
	}
	at := a.now()
	change := directoryChange{
		event: sessions.Event{
			Type:      typ,
			AgentID:   a.id,
			ClientKey: c.key,
			At:        at,
		},
	}
	if typ == sessions.EventClientDeleted {
		c.detached = true
	} else {
		change.event.Objects = c.table.Len()
		rec := c.recordLocked(a.id, at)
		change.record = &rec
	}
	select {
	case a.queue <- change:
	default:
		n := a.dropped.Add(1)
		a.metrics.IncCounter(MetricEventsDropped, nil)
		a.log.WarnContext(ctx, "session directory queue full; dropping change", slog.String("event", string(typ)), slog.Int64("dropped", n))
	}
}

// Run applies queued lifecycle changes to the session directory until ctx
// ends. Without a configured host it just waits for ctx. Host failures are
// logged and do not stop the loop.
func (a *Agent) Run(ctx context.Context) error {
	if a.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-a.queue:
			a.apply(ctx, change)
		}
	}
}

func (a *Agent) apply(ctx context.Context, change directoryChange) {
	log := a.log.With(slog.String("event", string(change.event.Type)), slog.String("client_key", change.event.ClientKey.String()))
	if change.record != nil {
		if err := a.host.PutClient(ctx, *change.record); err != nil {
			log.WarnContext(ctx, "session directory update failed", slog.String("err", err.Error()))
		}
	} else {
		if err := a.host.DeleteClient(ctx, change.event.ClientKey); err != nil {
			log.WarnContext(ctx, "session directory delete failed", slog.String("err", err.Error()))
		}
	}
	if _, err := a.host.PublishEvent(ctx, change.event); err != nil {
		log.WarnContext(ctx, "session event publish failed", slog.String("err", err.Error()))
	}
}
