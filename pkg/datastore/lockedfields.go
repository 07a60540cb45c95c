package datastore

// LockedFields is the request-scoped witness of every read performed during
// one action batch: for each FQId or FQField read, the minimum of all
// observed meta_positions. This is the "taking-the-minimum rule" from the
// locked-fields protocol; it represents the oldest version the request
// could have depended on, and is what gets sent alongside the write so the
// datastore can reject it if anything has changed since.
//
// Not safe for concurrent use: per the scheduling model, one request is one
// logical sequential thread, so a single LockedFields instance is only ever
// touched by that one goroutine.
type LockedFields struct {
	positions map[string]Revision
}

// NewLockedFields returns an empty LockedFields map.
func NewLockedFields() *LockedFields {
	return &LockedFields{positions: map[string]Revision{}}
}

// Observe records that key was read at revision. If key was already
// observed at a different revision, the minimum of the two is kept.
func (l *LockedFields) Observe(key string, revision Revision) {
	current, ok := l.positions[key]
	if !ok || revision.LessThan(current) {
		l.positions[key] = revision
		return
	}
}

// Snapshot returns a copy of the accumulated key -> minimum-revision map,
// suitable for attaching to a WriteRequestElement.
func (l *LockedFields) Snapshot() map[string]Revision {
	out := make(map[string]Revision, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// MergeLockedFields folds several snapshots into one map, keeping the
// minimum per key. Used by the dispatcher when merging several actions'
// write-request elements into one transaction.
func MergeLockedFields(elements []map[string]Revision) map[string]Revision {
	merged := map[string]Revision{}
	for _, e := range elements {
		for k, v := range e {
			current, ok := merged[k]
			if !ok || v.LessThan(current) {
				merged[k] = v
			}
		}
	}
	return merged
}
