// Package boltledger provides a bbolt-backed implementation of dedup.Ledger
// for single-node deployments that still need a durable ledger.
package boltledger

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("alert_ledger")

// Ledger records alert identifiers as keys of one bolt bucket. Values hold
// the RFC 3339 time the identifier was first recorded.
type Ledger struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bolt file at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the bolt file lock.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Exists reports whether id has been recorded.
func (l *Ledger) Exists(ctx context.Context, id string) (exists bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err = l.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketName).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// Put records id, keeping the first recorded time of an existing id.
func (l *Ledger) Put(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		key := []byte(id)
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}
