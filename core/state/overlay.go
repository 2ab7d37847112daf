package state

import (
	"errors"

	"shadeledger/storage"
)

type overlayEntry struct {
	value   []byte
	deleted bool
}

// Overlay buffers every mutation of a single ledger call on top of the
// backing database. Reads observe buffered writes first; nothing reaches the
// database until Commit, so a failed call leaves no trace by simply dropping
// the overlay.
type Overlay struct {
	db     storage.Database
	writes map[string]overlayEntry
}

// NewOverlay creates an empty overlay over the provided database.
func NewOverlay(db storage.Database) *Overlay {
	return &Overlay{db: db, writes: make(map[string]overlayEntry)}
}

// Get returns the buffered value when present, falling back to the database.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if entry, ok := o.writes[string(key)]; ok {
		if entry.deleted {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return o.db.Get(key)
}

// Put buffers an upsert.
func (o *Overlay) Put(key []byte, value []byte) error {
	o.writes[string(key)] = overlayEntry{value: append([]byte(nil), value...)}
	return nil
}

// Delete buffers a deletion.
func (o *Overlay) Delete(key []byte) error {
	o.writes[string(key)] = overlayEntry{deleted: true}
	return nil
}

// Dirty reports whether the overlay holds uncommitted writes.
func (o *Overlay) Dirty() bool { return len(o.writes) > 0 }

// Commit flushes all buffered writes to the database as one atomic batch and
// resets the overlay.
func (o *Overlay) Commit() error {
	if len(o.writes) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for key, entry := range o.writes {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := o.db.Write(batch); err != nil {
		return err
	}
	o.writes = make(map[string]overlayEntry)
	return nil
}

// errNotFound lets the manager translate backend misses uniformly.
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
