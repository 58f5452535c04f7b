package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixRunMeta = byte(0x01) // 0x01 + runID -> JSON(RunSummary)
	prefixRunBody = byte(0x02) // 0x02 + runID -> JSON(RunRecord)
)

// BadgerArchive is the persistent Archive implementation.
//
// Key Structure:
//   - Run meta: 0x01 + runID -> JSON(RunSummary)   (cheap listing scans)
//   - Run body: 0x02 + runID -> JSON(RunRecord)    (full payload)
//
// Example:
//
//	arch, err := archive.NewBadgerArchive("/var/lib/forseti/runs")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer arch.Close()
//
//	arch.SaveRun(ctx, archive.NewRunRecord(interp, status))
type BadgerArchive struct {
	db *badger.DB
}

// NewBadgerArchive opens (or creates) the archive at dir.
func NewBadgerArchive(dir string) (*BadgerArchive, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a CLI
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive at %s: %w", dir, err)
	}
	return &BadgerArchive{db: db}, nil
}

func metaKey(id string) []byte {
	return append([]byte{prefixRunMeta}, []byte(id)...)
}

func bodyKey(id string) []byte {
	return append([]byte{prefixRunBody}, []byte(id)...)
}

// SaveRun writes the record and its summary in one transaction.
// Duplicate IDs are rejected - archived runs are immutable.
func (b *BadgerArchive) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record needs an id: %w", ErrNotFound)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %q: %w", rec.ID, err)
	}
	meta, err := json.Marshal(summarize(rec))
	if err != nil {
		return fmt.Errorf("marshal run %q summary: %w", rec.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(bodyKey(rec.ID)); err == nil {
			return fmt.Errorf("run %q: %w", rec.ID, ErrAlreadyExists)
		}
		if err := txn.Set(bodyKey(rec.ID), body); err != nil {
			return err
		}
		return txn.Set(metaKey(rec.ID), meta)
	})
}

// LoadRun retrieves a record by ID.
func (b *BadgerArchive) LoadRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bodyKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("run %q: %w", id, ErrNotFound)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns scans the meta prefix and returns summaries ordered by creation
// time, then ID.
func (b *BadgerArchive) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var out []RunSummary
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixRunMeta}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s RunSummary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// Close closes the underlying badger database.
func (b *BadgerArchive) Close() error {
	return b.db.Close()
}
