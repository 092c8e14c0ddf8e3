package memoryhost

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Host is an in-memory implementation of sessions.Host.
type Host struct {
	mu      sync.RWMutex
	clients map[xrce.ClientKey]sessions.ClientRecord

	eventsMu sync.Mutex
	events   []event
	// notify is closed and replaced on every publish to wake subscribers.
	notify chan struct{}
}

type event struct {
	id  string
	seq int
	evt sessions.Event
}

func New() *Host {
	return &Host{
		clients: make(map[xrce.ClientKey]sessions.ClientRecord),
		notify:  make(chan struct{}),
	}
}

// --- Records ---

func (h *Host) PutClient(ctx context.Context, rec sessions.ClientRecord) error {
	h.mu.Lock()
	h.clients[rec.ClientKey] = rec
	h.mu.Unlock()
	return nil
}

func (h *Host) GetClient(ctx context.Context, key xrce.ClientKey) (sessions.ClientRecord, error) {
	h.mu.RLock()
	rec, ok := h.clients[key]
	h.mu.RUnlock()
	if !ok {
		return sessions.ClientRecord{}, sessions.ErrNotFound
	}
	return rec, nil
}

func (h *Host) ListClients(ctx context.Context) ([]sessions.ClientRecord, error) {
	h.mu.RLock()
	out := make([]sessions.ClientRecord, 0, len(h.clients))
	for _, rec := range h.clients {
		out = append(out, rec)
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b sessions.ClientRecord) int {
		return bytes.Compare(a.ClientKey[:], b.ClientKey[:])
	})
	return out, nil
}

func (h *Host) DeleteClient(ctx context.Context, key xrce.ClientKey) error {
	h.mu.Lock()
	delete(h.clients, key)
	h.mu.Unlock()
	return nil
}

// --- Events ---

func (h *Host) PublishEvent(ctx context.Context, evt sessions.Event) (string, error) {
	h.eventsMu.Lock()
	seq := len(h.events) + 1
	id := strconv.Itoa(seq)
	h.events = append(h.events, event{id: id, seq: seq, evt: evt})
	close(h.notify)
	h.notify = make(chan struct{})
	h.eventsMu.Unlock()
	return id, nil
}

func (h *Host) SubscribeEvents(ctx context.Context, lastEventID string, handler sessions.EventHandlerFunction) error {
	h.eventsMu.Lock()
	next := len(h.events)
	if lastEventID != "" {
		seq, err := strconv.Atoi(lastEventID)
		if err != nil || seq < 1 || seq > len(h.events) {
			h.eventsMu.Unlock()
			return fmt.Errorf("%w: %s", sessions.ErrUnknownEventID, lastEventID)
		}
		next = seq
	}
	h.eventsMu.Unlock()

	for {
		h.eventsMu.Lock()
		pending := slices.Clone(h.events[next:])
		wait := h.notify
		h.eventsMu.Unlock()

		for _, e := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := handler(ctx, e.id, e.evt); err != nil {
				return err
			}
			next = e.seq
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Interface compliance
var _ sessions.Host = (*Host)(nil)
