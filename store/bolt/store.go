// Package bolt is the embedded single-file case store. It serves single-node
// deployments and local runs where no PostgreSQL is available. Cases are kept
// as JSON documents; each Save runs in one bolt write transaction so the
// version check, the case document, the open-window index and the event
// append land together.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"disputeflow/dispute"
)

var (
	casesBucket    = []byte("cases")
	disputesBucket = []byte("disputes")
	openBucket     = []byte("open_windows")
	eventsBucket   = []byte("events")
)

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{casesBucket, disputesBucket, openBucket, eventsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(_ context.Context, c *dispute.Case) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(casesBucket).Get([]byte(c.ID)) != nil {
			return &dispute.InvalidArgumentError{Field: "case_id", Reason: "case " + c.ID + " already exists"}
		}
		disputes := tx.Bucket(disputesBucket)
		if disputes.Get([]byte(c.DisputeID)) != nil {
			return &dispute.InvalidArgumentError{Field: "dispute_id", Reason: "a case already exists for dispute " + c.DisputeID}
		}
		if err := disputes.Put([]byte(c.DisputeID), []byte(c.ID)); err != nil {
			return err
		}
		return write(tx, c)
	})
}

func (s *Store) Load(_ context.Context, id string) (*dispute.Case, error) {
	var c dispute.Case
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(casesBucket).Get([]byte(id))
		if v == nil {
			return dispute.ErrNotFound
		}
		return json.Unmarshal(v, &c)
	})
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("bolt: load %s: %w", id, err)
	}
	return &c, nil
}

// Save writes c if the stored version is still expectedVersion.
func (s *Store) Save(_ context.Context, c *dispute.Case, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		v := tx.Bucket(casesBucket).Get([]byte(c.ID))
		if v == nil {
			return dispute.ErrNotFound
		}
		var stored struct{ Version int64 }
		if err := json.Unmarshal(v, &stored); err != nil {
			return fmt.Errorf("bolt: decode %s: %w", c.ID, err)
		}
		if stored.Version != expectedVersion {
			return dispute.ErrVersionConflict
		}
		return write(tx, c)
	})
}

func write(tx *bolt.Tx, c *dispute.Case) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("bolt: encode %s: %w", c.ID, err)
	}
	if err := tx.Bucket(casesBucket).Put([]byte(c.ID), data); err != nil {
		return err
	}

	open := tx.Bucket(openBucket)
	if c.Window.Open() {
		due, err := c.Window.DueAt.UTC().MarshalBinary()
		if err != nil {
			return err
		}
		if err := open.Put([]byte(c.ID), due); err != nil {
			return err
		}
	} else if err := open.Delete([]byte(c.ID)); err != nil {
		return err
	}

	if len(c.Pending) == 0 {
		return nil
	}
	log, err := tx.Bucket(eventsBucket).CreateBucketIfNotExists([]byte(c.ID))
	if err != nil {
		return err
	}
	for _, e := range c.Pending {
		seq, err := log.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("bolt: encode event: %w", err)
		}
		if err := log.Put(seqKey(seq), data); err != nil {
			return err
		}
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// ListOpenWindowCases returns case IDs with an open window, soonest due first.
func (s *Store) ListOpenWindowCases(_ context.Context, limit int) ([]string, error) {
	type entry struct {
		id  string
		due time.Time
	}
	var entries []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(openBucket).ForEach(func(k, v []byte) error {
			var due time.Time
			if err := due.UnmarshalBinary(v); err != nil {
				return err
			}
			entries = append(entries, entry{id: string(k), due: due})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list open windows: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].due.Equal(entries[j].due) {
			return entries[i].id < entries[j].id
		}
		return entries[i].due.Before(entries[j].due)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return out, nil
}

// Events returns the audit log of a case in append order.
func (s *Store) Events(_ context.Context, caseID string) ([]dispute.Event, error) {
	out := []dispute.Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		log := tx.Bucket(eventsBucket).Bucket([]byte(caseID))
		if log == nil {
			return nil
		}
		return log.ForEach(func(_, v []byte) error {
			var e dispute.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list events %s: %w", caseID, err)
	}
	return out, nil
}
