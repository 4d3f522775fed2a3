// Package store defines the contract between the catalog core and the
// shared record store.
//
// A Store persists book records, runs atomic read-modify-write transactions
// against a single record and publishes the full current record set to
// subscribers after every change. Implementations live in the gormstore
// (postgres, sqlite) and memstore (in-process) packages.
package store

import (
	"context"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"libcatalog/pkg/models"
)

var (
	// ErrNotFound is returned when the record id does not resolve.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a transaction kept losing to concurrent
	// writers until its attempts ran out.
	ErrConflict = errors.New("transaction contention")

	// ErrClosed is returned by a store that has been closed.
	ErrClosed = errors.New("store closed")
)

// DefaultMaxAttempts bounds how often RunAtomic re-runs a transaction
// function after losing a write-write conflict.
const DefaultMaxAttempts = 5

var txConflicts = metrics.GetOrCreateCounter("catalog_tx_conflicts_total")

// RecordConflict counts one commit that lost to a concurrent writer.
func RecordConflict() {
	txConflicts.Inc()
}

// Snapshot is the full record set at one point of the commit order.
// Seq grows by one with every published snapshot.
type Snapshot struct {
	Seq     uint64
	Records []models.BookRecord
}

// TxFunc computes the new state of a record from a fresh read. It mutates
// current in place; returning an error aborts the transaction and the error
// is handed back to the RunAtomic caller unchanged. A TxFunc may run more
// than once and must not have side effects outside current.
type TxFunc func(current *models.BookRecord) error

type Store interface {
	// Subscribe returns a live feed of full snapshots. The current set is
	// delivered first; the channel closes when ctx is done.
	Subscribe(ctx context.Context) (<-chan Snapshot, error)
	// RunAtomic runs fn against a fresh read of the record and commits the
	// result only if no other write landed in between, retrying otherwise.
	RunAtomic(ctx context.Context, id string, fn TxFunc) error
	// Create writes a new record and returns its store-assigned id.
	Create(ctx context.Context, record models.BookRecord) (string, error)
	// Overwrite writes fields onto an existing record. With merge the given
	// columns are merged into the record; without merge every catalog column
	// not present in fields is reset to its zero value. Borrowers and history
	// are never touched.
	Overwrite(ctx context.Context, id string, fields map[string]interface{}, merge bool) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
}

// CatalogColumns lists the columns Overwrite may write.
var CatalogColumns = []string{
	models.ColumnIsbn,
	models.ColumnTitle,
	models.ColumnAuthor,
	models.ColumnYear,
	models.ColumnQuantity,
	models.ColumnIsAvailable,
}

// FullOverwrite expands fields so every catalog column is present, filling
// the missing ones with zero values.
func FullOverwrite(fields map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		models.ColumnIsbn:        "",
		models.ColumnTitle:       "",
		models.ColumnAuthor:      "",
		models.ColumnYear:        0,
		models.ColumnQuantity:    0,
		models.ColumnIsAvailable: false,
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// ValidColumns reports whether every key of fields is a catalog column.
func ValidColumns(fields map[string]interface{}) bool {
	for column := range fields {
		known := false
		for _, c := range CatalogColumns {
			if c == column {
				known = true
				break
			}
		}
		if !known {
			return false
		}
	}
	return true
}
