// Package ledger durably records, across restarts, the last archived
// modification time and size of each clip, so the archive port's
// copy-if-newer decision does not require re-probing the remote
// destination for every clip on every cycle.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Record is one archived-clip entry, keyed by RelPath.
type Record struct {
	TrackingID string `boltholdKey:"TrackingID"`
	RelPath    string `boltholdIndex:"RelPath"`
	ModTime    time.Time
	Size       int64
	ArchivedAt time.Time
}

// Open opens (creating if absent) the ledger database at path.
func Open(path string) (*bolthold.Store, error) {
	opts := bbolt.Options{Timeout: 1 * time.Second}
	store, err := bolthold.Open(path, 0o600, &bolthold.Options{Options: &opts})
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger database")
	}
	return store, nil
}

// Ledger is the typed wrapper over the bolthold store.
type Ledger struct {
	con *bolthold.Store
}

// New wraps an opened store.
func New(con *bolthold.Store) *Ledger {
	return &Ledger{con: con}
}

// ShouldArchive reports whether a clip at relPath with the given mtime/size
// needs (re-)archiving: true if no record exists, or the existing record's
// mtime/size differ from the clip's current state.
func (l *Ledger) ShouldArchive(relPath string, modTime time.Time, size int64) (bool, error) {
	rec, err := l.find(relPath)
	if err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return true, nil
		}
		return false, errors.Wrap(err, "finding ledger record")
	}
	return !rec.ModTime.Equal(modTime) || rec.Size != size, nil
}

// RecordArchived upserts the archived state for relPath.
func (l *Ledger) RecordArchived(relPath string, modTime time.Time, size int64) error {
	existing, err := l.find(relPath)
	if err == nil {
		existing.ModTime = modTime
		existing.Size = size
		existing.ArchivedAt = time.Now()
		if err := l.con.Update(existing.TrackingID, &existing); err != nil {
			return errors.Wrap(err, "updating ledger record")
		}
		return nil
	}
	if !errors.Is(err, bolthold.ErrNotFound) {
		return errors.Wrap(err, "finding ledger record")
	}

	rec := Record{
		TrackingID: uuid.New().String(),
		RelPath:    relPath,
		ModTime:    modTime,
		Size:       size,
		ArchivedAt: time.Now(),
	}
	if err := l.con.Insert(rec.TrackingID, &rec); err != nil {
		return errors.Wrap(err, "inserting ledger record")
	}
	return nil
}

func (l *Ledger) find(relPath string) (Record, error) {
	var rec Record
	err := l.con.FindOne(&rec, bolthold.Where("RelPath").Eq(relPath))
	return rec, err
}
