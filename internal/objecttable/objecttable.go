// Package objecttable holds the per-session object table and the pure
// decision function that governs duplicate creates.
//
// A Table is not safe for concurrent use. It is owned by exactly one session,
// which serializes access with its own lock.
package objecttable

import (
	"bytes"
	"sort"
	"time"

	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

// Outcome is the decision taken for a create request.
type Outcome int

const (
	// Insert stores the new entity under an id that is not present.
	Insert Outcome = iota
	// Reject leaves the table untouched and reports ERR_ALREADY_EXISTS.
	Reject
	// Reuse keeps the existing entity and reports OK.
	Reuse
	// Replace destroys the existing entity and stores the new one.
	Replace
)

func (o Outcome) String() string {
	switch o {
	case Insert:
		return "insert"
	case Reject:
		return "reject"
	case Reuse:
		return "reuse"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// Resolve decides the outcome of a create given whether the target id is
// already occupied. Replace wins over Reuse.
func Resolve(exists bool, mode xrce.CreationMode) Outcome {
	switch {
	case !exists:
		return Insert
	case mode.Replace:
		return Replace
	case mode.Reuse:
		return Reuse
	default:
		return Reject
	}
}

// Entry is one object owned by a session.
type Entry struct {
	Object    xrce.ObjectVariant
	Handle    entities.Handle
	CreatedAt time.Time
}

// Item pairs an Entry with its id, as returned by Snapshot.
type Item struct {
	ID xrce.ObjectID
	Entry
}

// Table maps object ids to entries.
type Table struct {
	entries map[xrce.ObjectID]Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[xrce.ObjectID]Entry)}
}

// Get returns the entry at id.
func (t *Table) Get(id xrce.ObjectID) (Entry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Put stores e at id and returns the entry it displaced, if any.
func (t *Table) Put(id xrce.ObjectID, e Entry) (Entry, bool) {
	prev, ok := t.entries[id]
	t.entries[id] = e
	return prev, ok
}

// Remove deletes the entry at id and returns it.
func (t *Table) Remove(id xrce.ObjectID) (Entry, bool) {
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Snapshot returns a copy of the table ordered by object id.
func (t *Table) Snapshot() []Item {
	items := make([]Item, 0, len(t.entries))
	for id, e := range t.entries {
		items = append(items, Item{ID: id, Entry: e})
	}
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
	return items
}

// Drain empties the table and returns everything it held, ordered by id.
func (t *Table) Drain() []Item {
	items := t.Snapshot()
	t.entries = make(map[xrce.ObjectID]Entry)
	return items
}
