package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/internal/logctx"
	"github.com/ggoodman/xrce-agent-go/internal/objecttable"
	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// State is the lifecycle state of a ProxyClient.
type State int

const (
	// StateAdmitted is the only steady state; the table may be empty or not.
	StateAdmitted State = iota
	// StateTerminated is reached on deletion and is final.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClientConfig describes a session at admission time.
type ClientConfig struct {
	Key          xrce.ClientKey
	RootObjectID xrce.ObjectID
	Version      xrce.Version
	Origin       string
	Subject      string
	// AdmittedAt defaults to time.Now.
	AdmittedAt time.Time
	// Factory defaults to entities.Nop.
	Factory entities.Factory
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// ClientInfo is a point-in-time view of a session.
type ClientInfo struct {
	Key          xrce.ClientKey `json:"client_key"`
	RootObjectID xrce.ObjectID  `json:"root_object_id"`
	Version      xrce.Version   `json:"version"`
	Origin       string         `json:"origin,omitempty"`
	Subject      string         `json:"subject,omitempty"`
	AdmittedAt   time.Time      `json:"admitted_at"`
	State        string         `json:"state"`
	Objects      []ObjectInfo   `json:"objects"`
}

// ObjectInfo is a point-in-time view of one table entry.
type ObjectInfo struct {
	ID        xrce.ObjectID             `json:"id"`
	Kind      xrce.ObjectKind           `json:"kind"`
	Parent    xrce.ObjectID             `json:"parent"`
	Format    xrce.RepresentationFormat `json:"format"`
	CreatedAt time.Time                 `json:"created_at"`
}

// ProxyClient is one admitted session and its entity table.
type ProxyClient struct {
	key        xrce.ClientKey
	root       xrce.ObjectID
	version    xrce.Version
	origin     string
	subject    string
	admittedAt time.Time
	factory    entities.Factory
	log        *slog.Logger
	now        func() time.Time

	// onChange is invoked with the client lock held after every table
	// mutation and on termination.
	onChange func(c *ProxyClient, delta int)

	mu    sync.Mutex
	state State
	table *objecttable.Table

	// detached is set once the deletion is queued for the directory.
	// Guarded by the owning Agent's qmu.
	detached bool
}

// NewProxyClient returns an admitted session with an empty table.
func NewProxyClient(cfg ClientConfig) *ProxyClient {
	c := &ProxyClient{
		key:        cfg.Key,
		root:       cfg.RootObjectID,
		version:    cfg.Version,
		origin:     cfg.Origin,
		subject:    cfg.Subject,
		admittedAt: cfg.AdmittedAt,
		factory:    cfg.Factory,
		log:        cfg.Logger,
		now:        time.Now,
		table:      objecttable.New(),
	}
	if c.factory == nil {
		c.factory = entities.Nop
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.admittedAt.IsZero() {
		c.admittedAt = c.now()
	}
	return c
}

// Key returns the session's client key.
func (c *ProxyClient) Key() xrce.ClientKey { return c.key }

// RootObjectID returns the object id supplied at admission.
func (c *ProxyClient) RootObjectID() xrce.ObjectID { return c.root }

// Create instantiates the entity described by req under the given mode.
// Status is always CREATE.
func (c *ProxyClient) Create(ctx context.Context, mode xrce.CreationMode, req *xrce.CreateObjectRequest) xrce.ResultStatus {
	if req == nil {
		return xrce.NewResultStatus(0, xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	}
	result := func(s xrce.ImplStatus) xrce.ResultStatus {
		return xrce.NewResultStatus(req.RequestID, xrce.StatusLastOpCreate, s)
	}
	ctx = logctx.WithObjectData(ctx, &logctx.ObjectData{ObjectID: req.ObjectID.String(), Kind: req.Object.Kind.String()})

	if !req.Object.Kind.Valid() {
		c.log.DebugContext(ctx, "rejecting object with invalid kind")
		return result(xrce.StatusErrInvalidData)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConsistentLocked()
	if c.state == StateTerminated {
		return result(xrce.StatusErrInvalidData)
	}

	_, exists := c.table.Get(req.ObjectID)
	outcome := objecttable.Resolve(exists, mode)
	switch outcome {
	case objecttable.Reject:
		return result(xrce.StatusErrAlreadyExists)
	case objecttable.Reuse:
		return result(xrce.StatusOK)
	}

	// Insert or Replace: the new entity must exist before the old one goes.
	h, err := c.factory.Instantiate(ctx, entities.Request{ClientKey: c.key, ObjectID: req.ObjectID, Object: req.Object})
	if err == nil && h == nil {
		err = &entities.ResourceError{Kind: req.Object.Kind, Err: fmt.Errorf("factory returned no handle")}
	}
	if err != nil {
		c.log.WarnContext(ctx, "entity instantiation failed", slog.String("outcome", outcome.String()), slog.String("err", err.Error()))
		return result(entities.Status(err))
	}

	prev, replaced := c.table.Put(req.ObjectID, objecttable.Entry{Object: req.Object, Handle: h, CreatedAt: c.now()})
	if replaced {
		c.release(ctx, req.ObjectID, prev)
		c.log.DebugContext(ctx, "object replaced")
	} else {
		c.log.DebugContext(ctx, "object created")
		c.notifyLocked(1)
	}
	return result(xrce.StatusOK)
}

// DeleteObject releases and removes the entity named by req. Status is
// always DELETE; an absent id yields ERR_UNKNOWN_REFERENCE.
func (c *ProxyClient) DeleteObject(ctx context.Context, req *xrce.DeleteObjectRequest) xrce.ResultStatus {
	if req == nil {
		return xrce.NewResultStatus(0, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	}
	result := func(s xrce.ImplStatus) xrce.ResultStatus {
		return xrce.NewResultStatus(req.RequestID, xrce.StatusLastOpDelete, s)
	}
	ctx = logctx.WithObjectData(ctx, &logctx.ObjectData{ObjectID: req.ObjectID.String()})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConsistentLocked()
	if c.state == StateTerminated {
		return result(xrce.StatusErrInvalidData)
	}

	entry, ok := c.table.Remove(req.ObjectID)
	if !ok {
		return result(xrce.StatusErrUnknownReference)
	}
	c.release(ctx, req.ObjectID, entry)
	c.log.DebugContext(ctx, "object deleted")
	c.notifyLocked(-1)
	return result(xrce.StatusOK)
}

// Len returns the number of live entities.
func (c *ProxyClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Len()
}

// State returns the lifecycle state.
func (c *ProxyClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Object returns a view of the entry at id.
func (c *ProxyClient) Object(id xrce.ObjectID) (ObjectInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.table.Get(id)
	if !ok {
		return ObjectInfo{}, false
	}
	return objectInfo(id, e), true
}

// Info returns a snapshot of the session.
func (c *ProxyClient) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.table.Snapshot()
	info := ClientInfo{
		Key:          c.key,
		RootObjectID: c.root,
		Version:      c.version,
		Origin:       c.origin,
		Subject:      c.subject,
		AdmittedAt:   c.admittedAt,
		State:        c.state.String(),
		Objects:      make([]ObjectInfo, 0, len(items)),
	}
	for _, it := range items {
		info.Objects = append(info.Objects, objectInfo(it.ID, it.Entry))
	}
	return info
}

func objectInfo(id xrce.ObjectID, e objecttable.Entry) ObjectInfo {
	return ObjectInfo{
		ID:        id,
		Kind:      e.Object.Kind,
		Parent:    e.Object.Parent,
		Format:    e.Object.Representation.Format,
		CreatedAt: e.CreatedAt,
	}
}

// terminate moves the session to StateTerminated and hands back its entries
// for release. The caller must not hold c.mu.
func (c *ProxyClient) terminate() []objecttable.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConsistentLocked()
	if c.state == StateTerminated {
		return nil
	}
	c.state = StateTerminated
	items := c.table.Drain()
	c.notifyLocked(-len(items))
	return items
}

// terminateIfEmpty terminates the session only if its table is empty.
func (c *ProxyClient) terminateIfEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConsistentLocked()
	if c.table.Len() > 0 {
		return false
	}
	c.state = StateTerminated
	return true
}

// releaseAll releases entries drained by terminate.
func (c *ProxyClient) releaseAll(ctx context.Context, items []objecttable.Item) {
	for _, it := range items {
		c.release(ctx, it.ID, it.Entry)
	}
}

func (c *ProxyClient) release(ctx context.Context, id xrce.ObjectID, e objecttable.Entry) {
	if e.Handle == nil {
		return
	}
	if err := e.Handle.Release(ctx); err != nil {
		c.log.WarnContext(ctx, "entity release failed", slog.String("object_id", id.String()), slog.String("err", err.Error()))
	}
}

func (c *ProxyClient) notifyLocked(delta int) {
	if c.onChange != nil {
		c.onChange(c, delta)
	}
}

// recordLocked builds the directory record for this session.
func (c *ProxyClient) recordLocked(agentID string, at time.Time) sessions.ClientRecord {
	return sessions.ClientRecord{
		ClientKey:  c.key,
		AgentID:    agentID,
		Version:    c.version.String(),
		Origin:     c.origin,
		Subject:    c.subject,
		Objects:    c.table.Len(),
		AdmittedAt: c.admittedAt,
		UpdatedAt:  at,
	}
}

func (c *ProxyClient) mustBeConsistentLocked() {
	if c.table == nil {
		panic(fmt.Sprintf("agent: client %s has no object table", c.key))
	}
}
