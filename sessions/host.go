package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

// ErrNotFound is returned by GetClient when no record exists for the key.
var ErrNotFound = errors.New("client record not found")

// ErrUnknownEventID is returned by SubscribeEvents when resuming from an event
// id the host does not know.
var ErrUnknownEventID = errors.New("unknown event id")

// ClientRecord is the directory entry for one admitted client session.
type ClientRecord struct {
	ClientKey  xrce.ClientKey `json:"client_key"`
	AgentID    string         `json:"agent_id"`
	Version    string         `json:"version"`
	Origin     string         `json:"origin,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Objects    int            `json:"objects"`
	AdmittedAt time.Time      `json:"admitted_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EventType names a session lifecycle transition.
type EventType string

const (
	EventClientAdmitted EventType = "client.admitted"
	EventClientReplaced EventType = "client.replaced"
	EventClientDeleted  EventType = "client.deleted"
	EventObjectsChanged EventType = "client.objects_changed"
)

// Event is one entry of the lifecycle log.
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id"`
	ClientKey xrce.ClientKey `json:"client_key"`
	Objects   int            `json:"objects"`
	At        time.Time      `json:"at"`
}

// EventHandlerFunction receives events in publication order. Returning an
// error terminates the subscription with that error.
type EventHandlerFunction func(ctx context.Context, eventID string, evt Event) error

// Host is the storage contract for the session directory. Implementations
// must be safe for concurrent use.
type Host interface {
	// PutClient creates or overwrites the record for rec.ClientKey.
	PutClient(ctx context.Context, rec ClientRecord) error
	// GetClient returns ErrNotFound if there is no record for key.
	GetClient(ctx context.Context, key xrce.ClientKey) (ClientRecord, error)
	// ListClients returns all records ordered by client key.
	ListClients(ctx context.Context) ([]ClientRecord, error)
	// DeleteClient removes the record for key. Deleting an absent key is not
	// an error.
	DeleteClient(ctx context.Context, key xrce.ClientKey) error

	// PublishEvent appends evt to the lifecycle log and returns its id.
	PublishEvent(ctx context.Context, evt Event) (eventID string, err error)
	// SubscribeEvents delivers events published after lastEventID, or only
	// future events when lastEventID is empty. It blocks until ctx ends or the
	// handler returns an error.
	SubscribeEvents(ctx context.Context, lastEventID string, handler EventHandlerFunction) error
}
