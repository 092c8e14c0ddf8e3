package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/xrce-agent-go/auth"
	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/internal/logctx"
	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
	"github.com/google/uuid"
)

// Agent is the registry of admitted client sessions.
type Agent struct {
	log        *slog.Logger
	factory    entities.Factory
	metrics    MetricsSink
	authn      auth.Authenticator
	host       sessions.Host
	version    xrce.Version
	id         string
	now        func() time.Time
	bufferSize int

	mu      sync.RWMutex
	clients map[xrce.ClientKey]*ProxyClient

	// qmu orders directory changes; see enqueue.
	qmu sync.Mutex

	objects atomic.Int64
	dropped atomic.Int64
	queue   chan directoryChange
}

// New constructs an Agent with no admitted sessions.
func New(opts ...Option) *Agent {
	a := &Agent{
		log:        slog.Default(),
		factory:    entities.Nop,
		metrics:    nopMetrics{},
		version:    xrce.SupportedVersion,
		id:         uuid.NewString(),
		now:        time.Now,
		bufferSize: 1024,
		clients:    make(map[xrce.ClientKey]*ProxyClient),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.host != nil {
		a.queue = make(chan directoryChange, a.bufferSize)
	}
	return a
}

// ID returns the instance id recorded in the session directory.
func (a *Agent) ID() string { return a.id }

// CreateClient admits the session described by req. Status is always CREATE.
func (a *Agent) CreateClient(ctx context.Context, req *xrce.CreateClientRequest) xrce.ResultStatus {
	start := a.now()
	res := a.createClient(ctx, req)
	a.observe(OpCreateClient, start, res)
	return res
}

func (a *Agent) createClient(ctx context.Context, req *xrce.CreateClientRequest) xrce.ResultStatus {
	if req == nil {
		return xrce.NewResultStatus(0, xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	}
	result := func(s xrce.ImplStatus) xrce.ResultStatus {
		return xrce.NewResultStatus(req.RequestID, xrce.StatusLastOpCreate, s)
	}
	cd := &logctx.ClientData{ClientKey: req.ClientKey.String(), Version: req.Version.String()}
	ctx = logctx.WithClientData(ctx, cd)

	if req.Cookie != xrce.ExpectedCookie {
		a.log.InfoContext(ctx, "admission rejected", slog.String("reason", "cookie_mismatch"))
		return result(xrce.StatusErrInvalidData)
	}
	if !req.Version.CompatibleWith(a.version) {
		a.log.InfoContext(ctx, "admission rejected", slog.String("reason", "incompatible_version"), slog.String("supported", a.version.String()))
		return result(xrce.StatusErrIncompatible)
	}

	var subject string
	if a.authn != nil {
		tok := req.Properties[xrce.TokenProperty]
		if tok == "" {
			a.log.InfoContext(ctx, "admission rejected", slog.String("reason", "missing_token"))
			return result(xrce.StatusErrInvalidData)
		}
		ui, err := a.authn.CheckAuthentication(ctx, tok)
		if err != nil {
			a.log.InfoContext(ctx, "admission rejected", slog.String("reason", "unauthorized"), slog.String("err", err.Error()))
			return result(xrce.StatusErrInvalidData)
		}
		subject = ui.UserID()
		cd.Subject = subject
	}

	c := NewProxyClient(ClientConfig{
		Key:          req.ClientKey,
		RootObjectID: req.RootObjectID,
		Version:      req.Version,
		Origin:       req.Origin,
		Subject:      subject,
		AdmittedAt:   a.now(),
		Factory:      a.factory,
		Logger:       a.log,
	})
	c.now = a.now
	c.onChange = a.objectsChanged

	// Terminating the previous session may wait on its in-flight create, so
	// it happens outside a.mu and the key is re-checked before the swap.
	for {
		prev := a.lookup(req.ClientKey)
		if prev != nil && !prev.terminateIfEmpty() {
			a.log.InfoContext(ctx, "admission rejected", slog.String("reason", "already_exists"))
			return result(xrce.StatusErrAlreadyExists)
		}

		a.mu.Lock()
		cur, ok := a.clients[req.ClientKey]
		if ok && cur != prev {
			a.mu.Unlock()
			continue
		}
		evtType := sessions.EventClientAdmitted
		if ok {
			evtType = sessions.EventClientReplaced
		}
		// c is not yet reachable, so its lock is free.
		c.mu.Lock()
		a.enqueue(ctx, evtType, c)
		c.mu.Unlock()
		a.clients[req.ClientKey] = c
		a.metrics.SetGauge(MetricClients, float64(len(a.clients)), nil)
		a.mu.Unlock()

		a.log.InfoContext(ctx, "client admitted", slog.String("root_object_id", req.RootObjectID.String()), slog.Bool("replaced", evtType == sessions.EventClientReplaced))
		return result(xrce.StatusOK)
	}
}

// DeleteClient removes the session named by req.ClientKey and releases all of
// its entities. Status is always DELETE.
func (a *Agent) DeleteClient(ctx context.Context, req *xrce.DeleteClientRequest) xrce.ResultStatus {
	start := a.now()
	res := a.deleteClient(ctx, req)
	a.observe(OpDeleteClient, start, res)
	return res
}

func (a *Agent) deleteClient(ctx context.Context, req *xrce.DeleteClientRequest) xrce.ResultStatus {
	if req == nil {
		return xrce.NewResultStatus(0, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	}
	result := func(s xrce.ImplStatus) xrce.ResultStatus {
		return xrce.NewResultStatus(req.RequestID, xrce.StatusLastOpDelete, s)
	}
	ctx = logctx.WithClientData(ctx, &logctx.ClientData{ClientKey: req.ClientKey.String()})

	a.mu.Lock()
	c, ok := a.clients[req.ClientKey]
	if !ok {
		a.mu.Unlock()
		return result(xrce.StatusErrInvalidData)
	}
	if c == nil {
		a.mu.Unlock()
		panic(fmt.Sprintf("agent: registered key %s has no client", req.ClientKey))
	}
	delete(a.clients, req.ClientKey)
	a.metrics.SetGauge(MetricClients, float64(len(a.clients)), nil)
	a.enqueue(ctx, sessions.EventClientDeleted, c)
	a.mu.Unlock()

	// The session is unreachable from here on. terminate waits for an
	// in-flight operation on c without holding up other keys.
	items := c.terminate()
	c.releaseAll(ctx, items)
	a.log.InfoContext(ctx, "client deleted", slog.Int("released", len(items)))
	return result(xrce.StatusOK)
}

// CreateObject routes a create to the session named by key. An unknown or
// deleted key yields ERR_INVALID_DATA.
func (a *Agent) CreateObject(ctx context.Context, key xrce.ClientKey, mode xrce.CreationMode, req *xrce.CreateObjectRequest) xrce.ResultStatus {
	start := a.now()
	var res xrce.ResultStatus
	if c := a.lookup(key); c == nil {
		res = xrce.NewResultStatus(requestIDOf(req), xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	} else {
		ctx = logctx.WithClientData(ctx, &logctx.ClientData{ClientKey: key.String(), Version: c.version.String(), Subject: c.subject})
		res = c.Create(ctx, mode, req)
	}
	a.observe(OpCreate, start, res)
	return res
}

// DeleteObject routes an object delete to the session named by key. An
// unknown or deleted key yields ERR_INVALID_DATA.
func (a *Agent) DeleteObject(ctx context.Context, key xrce.ClientKey, req *xrce.DeleteObjectRequest) xrce.ResultStatus {
	start := a.now()
	var res xrce.ResultStatus
	if c := a.lookup(key); c == nil {
		var id xrce.RequestID
		if req != nil {
			id = req.RequestID
		}
		res = xrce.NewResultStatus(id, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	} else {
		ctx = logctx.WithClientData(ctx, &logctx.ClientData{ClientKey: key.String(), Version: c.version.String(), Subject: c.subject})
		res = c.DeleteObject(ctx, req)
	}
	a.observe(OpDelete, start, res)
	return res
}

// Client returns the live session for key.
func (a *Agent) Client(key xrce.ClientKey) (*ProxyClient, bool) {
	c := a.lookup(key)
	return c, c != nil
}

// Clients returns a snapshot of every session ordered by key.
func (a *Agent) Clients() []ClientInfo {
	a.mu.RLock()
	list := make([]*ProxyClient, 0, len(a.clients))
	for _, c := range a.clients {
		list = append(list, c)
	}
	a.mu.RUnlock()

	out := make([]ClientInfo, 0, len(list))
	for _, c := range list {
		out = append(out, c.Info())
	}
	slices.SortFunc(out, func(x, y ClientInfo) int { return bytes.Compare(x.Key[:], y.Key[:]) })
	return out
}

// Len returns the number of admitted sessions.
func (a *Agent) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// Objects returns the number of live entities across all sessions.
func (a *Agent) Objects() int { return int(a.objects.Load()) }

// Dropped returns how many directory changes were dropped on a full queue.
func (a *Agent) Dropped() int64 { return a.dropped.Load() }

func (a *Agent) lookup(key xrce.ClientKey) *ProxyClient {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.clients[key]
	if ok && c == nil {
		panic(fmt.Sprintf("agent: registered key %s has no client", key))
	}
	return c
}

// objectsChanged runs with c.mu held.
func (a *Agent) objectsChanged(c *ProxyClient, delta int) {
	if delta == 0 {
		return
	}
	n := a.objects.Add(int64(delta))
	a.metrics.SetGauge(MetricObjects, float64(n), nil)
	if c.state == StateAdmitted {
		a.enqueue(context.Background(), sessions.EventObjectsChanged, c)
	}
}

func (a *Agent) observe(op string, start time.Time, res xrce.ResultStatus) {
	a.metrics.IncCounter(MetricOperations, map[string]string{"op": op, "status": res.Implementation.String()})
	a.metrics.ObserveHistogram(MetricOperationDuration, a.now().Sub(start).Seconds(), map[string]string{"op": op})
}

func requestIDOf(req *xrce.CreateObjectRequest) xrce.RequestID {
	if req == nil {
		return 0
	}
	return req.RequestID
}
