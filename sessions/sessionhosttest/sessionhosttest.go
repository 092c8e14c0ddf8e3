// Package sessionhosttest provides a conformance suite for sessions.Host
// implementations.
package sessionhosttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// HostFactory creates a new Host instance for testing.
type HostFactory func(t *testing.T) sessions.Host

// RunSessionHostTests runs the complete Host test suite against the provided factory.
func RunSessionHostTests(t *testing.T, factory HostFactory) {
	t.Run("Records_PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, factory) })
	t.Run("Records_GetMissingReturnsErrNotFound", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Records_PutOverwrites", func(t *testing.T) { testPutOverwrites(t, factory) })
	t.Run("Records_ListOrderedByKey", func(t *testing.T) { testListOrdered(t, factory) })
	t.Run("Records_DeleteIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory) })

	t.Run("Events_SubscribeSeesOnlyFutureEvents", func(t *testing.T) { testSubscribeFuture(t, factory) })
	t.Run("Events_ResumeFromLastEventID", func(t *testing.T) { testResume(t, factory) })
	t.Run("Events_ResumeFromUnknownEventID", func(t *testing.T) { testResumeUnknown(t, factory) })
	t.Run("Events_FanOutToAllSubscribers", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("Events_HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("Events_CancellationStopsSubscription", func(t *testing.T) { testCancellation(t, factory) })
}

func key(b byte) xrce.ClientKey { return xrce.ClientKey{0xAA, 0xBB, 0xCC, b} }

func record(k xrce.ClientKey, objects int) sessions.ClientRecord {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	return sessions.ClientRecord{
		ClientKey:  k,
		AgentID:    "agent-1",
		Version:    "1.0",
		Origin:     "udp://10.0.0.1:7400",
		Subject:    "rover",
		Objects:    objects,
		AdmittedAt: now,
		UpdatedAt:  now.Add(time.Second),
	}
}

// --- Record tests ---

func testPutGetRoundTrip(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	want := record(key(1), 3)
	if err := h.PutClient(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := h.GetClient(ctx, want.ClientKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClientKey != want.ClientKey || got.AgentID != want.AgentID || got.Version != want.Version ||
		got.Origin != want.Origin || got.Subject != want.Subject || got.Objects != want.Objects {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
	if !got.AdmittedAt.Equal(want.AdmittedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("timestamps mismatch: got %v/%v want %v/%v", got.AdmittedAt, got.UpdatedAt, want.AdmittedAt, want.UpdatedAt)
	}
}

func testGetMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	if _, err := h.GetClient(context.Background(), key(9)); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testPutOverwrites(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.PutClient(ctx, record(key(1), 1)); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := h.PutClient(ctx, record(key(1), 5)); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	got, err := h.GetClient(ctx, key(1))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Objects != 5 {
		t.Fatalf("expected overwritten objects=5, got %d", got.Objects)
	}
	list, err := h.ListClients(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single record, got %d", len(list))
	}
}

func testListOrdered(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	for _, b := range []byte{3, 1, 2} {
		if err := h.PutClient(ctx, record(key(b), int(b))); err != nil {
			t.Fatalf("put %d: %v", b, err)
		}
	}
	list, err := h.ListClients(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	for i, rec := range list {
		if rec.ClientKey != key(byte(i+1)) {
			t.Fatalf("position %d: expected %s, got %s", i, key(byte(i+1)), rec.ClientKey)
		}
	}
}

func testDeleteIdempotent(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.PutClient(ctx, record(key(1), 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.DeleteClient(ctx, key(1)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.DeleteClient(ctx, key(1)); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := h.GetClient(ctx, key(1)); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	list, err := h.ListClients(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

// --- Event tests ---

type collector struct {
	mu   sync.Mutex
	ids  []string
	evts []sessions.Event
}

func (c *collector) add(id string, evt sessions.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	c.evts = append(c.evts, evt)
	return len(c.evts)
}

func (c *collector) snapshot() ([]string, []sessions.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...), append([]sessions.Event(nil), c.evts...)
}

func evt(typ sessions.EventType, b byte) sessions.Event {
	return sessions.Event{Type: typ, AgentID: "agent-1", ClientKey: key(b), At: time.Now().UTC()}
}

// subscribeUntil runs SubscribeEvents in a goroutine and cancels it once n
// events arrived. The returned channel yields the subscription's result.
func subscribeUntil(ctx context.Context, h sessions.Host, lastID string, n int, c *collector) <-chan error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeEvents(ctx, lastID, func(ctx context.Context, id string, e sessions.Event) error {
			if c.add(id, e) >= n {
				cancel()
			}
			return nil
		})
		cancel()
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error, want error) {
	t.Helper()
	select {
	case err := <-done:
		if !errors.Is(err, want) {
			t.Fatalf("subscribe returned %v, want %v", err, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe timeout")
	}
}

func testSubscribeFuture(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.PublishEvent(ctx, evt(sessions.EventClientAdmitted, 1)); err != nil {
		t.Fatalf("publish before: %v", err)
	}

	var c collector
	done := subscribeUntil(ctx, h, "", 1, &c)
	time.Sleep(100 * time.Millisecond)

	id, err := h.PublishEvent(ctx, evt(sessions.EventClientDeleted, 2))
	if err != nil {
		t.Fatalf("publish after: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty event id")
	}
	waitDone(t, done, context.Canceled)

	ids, evts := c.snapshot()
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	if ids[0] != id {
		t.Fatalf("expected event id %s, got %s", id, ids[0])
	}
	if evts[0].Type != sessions.EventClientDeleted || evts[0].ClientKey != key(2) || evts[0].AgentID != "agent-1" {
		t.Fatalf("unexpected event: %+v", evts[0])
	}
}

func testResume(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev1, err := h.PublishEvent(ctx, evt(sessions.EventClientAdmitted, 1))
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	ev2, err := h.PublishEvent(ctx, evt(sessions.EventObjectsChanged, 1))
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	ev3, err := h.PublishEvent(ctx, evt(sessions.EventClientDeleted, 1))
	if err != nil {
		t.Fatalf("publish 3: %v", err)
	}

	var c collector
	waitDone(t, subscribeUntil(ctx, h, ev1, 2, &c), context.Canceled)

	ids, evts := c.snapshot()
	if len(ids) != 2 || ids[0] != ev2 || ids[1] != ev3 {
		t.Fatalf("expected [%s %s], got %v", ev2, ev3, ids)
	}
	if evts[0].Type != sessions.EventObjectsChanged || evts[1].Type != sessions.EventClientDeleted {
		t.Fatalf("unexpected order: %v, %v", evts[0].Type, evts[1].Type)
	}
}

func testResumeUnknown(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := h.PublishEvent(ctx, evt(sessions.EventClientAdmitted, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	err := h.SubscribeEvents(ctx, "999999-0", func(context.Context, string, sessions.Event) error { return nil })
	if !errors.Is(err, sessions.ErrUnknownEventID) {
		t.Fatalf("expected ErrUnknownEventID, got %v", err)
	}
}

func testFanOut(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const subs = 3
	const events = 4
	collectors := make([]*collector, subs)
	dones := make([]<-chan error, subs)
	for i := range collectors {
		collectors[i] = &collector{}
		dones[i] = subscribeUntil(ctx, h, "", events, collectors[i])
	}
	time.Sleep(100 * time.Millisecond)

	var want []string
	for i := 0; i < events; i++ {
		id, err := h.PublishEvent(ctx, evt(sessions.EventObjectsChanged, byte(i)))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		want = append(want, id)
	}
	for i, done := range dones {
		waitDone(t, done, context.Canceled)
		ids, _ := collectors[i].snapshot()
		if len(ids) != events {
			t.Fatalf("subscriber %d: expected %d events, got %d", i, events, len(ids))
		}
		for j := range ids {
			if ids[j] != want[j] {
				t.Fatalf("subscriber %d: position %d got %s want %s", i, j, ids[j], want[j])
			}
		}
	}
}

func testHandlerError(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeEvents(ctx, "", func(context.Context, string, sessions.Event) error { return boom })
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := h.PublishEvent(ctx, evt(sessions.EventClientAdmitted, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitDone(t, done, boom)
}

func testCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeEvents(ctx, "", func(context.Context, string, sessions.Event) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	waitDone(t, done, context.Canceled)
}
