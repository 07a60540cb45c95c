package relations

import (
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

// OverlayEntry is one entry of the request-local "additional relation
// models" map: either an in-flight object that has not yet been committed to
// the datastore (e.g. the just-created-but-uncommitted target of a cascaded
// create), or a tombstone marking an object as already scheduled for
// deletion within this same transaction.
type OverlayEntry struct {
	Deleted bool
	Model   *datastore.OrderedModel // nil when Deleted is true
}

// Overlay is the read-through layer described in the design notes: a small
// map from FQId to in-flight object state that later resolver calls within
// the same batch consult before falling back to the datastore. It lets one
// action in a batch reference an object created-but-not-yet-committed by an
// earlier action, and lets a cascading delete mark an object as gone before
// the nested delete action's own write-request element is merged in.
type Overlay struct {
	entries map[fqid.FQId]OverlayEntry
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{entries: map[fqid.FQId]OverlayEntry{}}
}

// Clone returns a shallow copy, so that a cascaded delete action can extend
// its own view of in-flight deletions without mutating the caller's overlay
// out from under it.
func (o *Overlay) Clone() *Overlay {
	cp := NewOverlay()
	for k, v := range o.entries {
		cp.entries[k] = v
	}
	return cp
}

// PutModel records an in-flight (not yet committed) object.
func (o *Overlay) PutModel(id fqid.FQId, model *datastore.OrderedModel) {
	o.entries[id] = OverlayEntry{Model: model}
}

// MarkDeleted records that id has been scheduled for deletion within this
// batch, so that later relation resolution treats it as already gone.
func (o *Overlay) MarkDeleted(id fqid.FQId) {
	o.entries[id] = OverlayEntry{Deleted: true}
}

// Lookup returns the overlay entry for id, if any.
func (o *Overlay) Lookup(id fqid.FQId) (OverlayEntry, bool) {
	e, ok := o.entries[id]
	return e, ok
}
