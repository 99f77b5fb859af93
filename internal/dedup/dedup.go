// Package dedup filters alert feed documents down to alerts whose
// identifiers have never been recorded in the ledger.
package dedup

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/capetl/internal/cap"
)

// Ledger is the persistent record of alert identifiers already ingested.
// Implementations must be safe for concurrent use.
type Ledger interface {
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, id string) error
}

// LedgerUnavailableError wraps a ledger I/O failure.
type LedgerUnavailableError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Identifier, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// Result describes one filtering pass.
type Result struct {
	Retained   []string // identifiers recorded by this pass, document order
	Duplicates []string // identifiers already in the ledger
	Malformed  int      // alerts without a usable identifier
}

// Count is the number of alerts left in the document.
func (r *Result) Count() int { return len(r.Retained) }

// Deduplicator applies the ledger policy to feed documents.
type Deduplicator struct {
	ledger Ledger
}

// New creates a Deduplicator backed by ledger.
func New(ledger Ledger) *Deduplicator {
	return &Deduplicator{ledger: ledger}
}

// IsNew reports whether id has never been recorded.
func (d *Deduplicator) IsNew(ctx context.Context, id string) (bool, error) {
	ok, err := d.ledger.Exists(ctx, id)
	if err != nil {
		return false, &LedgerUnavailableError{Op: "exists", Identifier: id, Err: err}
	}
	return !ok, nil
}

// Record durably marks id as seen.
func (d *Deduplicator) Record(ctx context.Context, id string) error {
	if err := d.ledger.Put(ctx, id); err != nil {
		return &LedgerUnavailableError{Op: "put", Identifier: id, Err: err}
	}
	return nil
}

// Filter removes every alert from doc that lacks an identifier or whose
// identifier is already recorded, and records the rest. Alerts are handled
// strictly in order so a repeated identifier inside one document is kept
// only the first time. On a ledger failure the pass stops; identifiers
// recorded before the failure stay recorded.
func (d *Deduplicator) Filter(ctx context.Context, doc *cap.Document) (*Result, error) {
	res := &Result{}

	for _, al := range doc.Alerts() {
		raw, ok := cap.Lookup(al, "identifier")
		id := cap.StripURN(raw)
		if !ok || id == "" {
			res.Malformed++
			doc.Remove(al)
			continue
		}

		isNew, err := d.IsNew(ctx, id)
		if err != nil {
			return res, err
		}
		if !isNew {
			res.Duplicates = append(res.Duplicates, id)
			doc.Remove(al)
			continue
		}

		if err := d.Record(ctx, id); err != nil {
			return res, err
		}
		res.Retained = append(res.Retained, id)
	}

	return res, nil
}
