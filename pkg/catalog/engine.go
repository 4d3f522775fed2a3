// Package catalog implements the inventory operations on book records:
// borrow, return, create, update and delete.
//
// Preconditions are first checked against the local replica for early
// feedback. Borrow and return then re-check inside an atomic store
// transaction, which is what keeps quantity and borrowers consistent under
// concurrent use.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"libcatalog/pkg/models"
	"libcatalog/pkg/store"
)

// Replica is the read side of the local cache the engine checks against.
type Replica interface {
	Get(id string) (models.BookRecord, bool)
	HasIsbn(isbn string) bool
}

type Engine struct {
	store    store.Store
	cache    Replica
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
	validate *validator.Validate
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st store.Store, cache Replica, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		cache:    cache,
		log:      zap.NewNop(),
		now:      time.Now,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Borrow(ctx context.Context, bookID, userID string) (Notice, error) {
	cached, ok := e.cache.Get(bookID)
	err := e.borrow(ctx, bookID, userID, cached, ok)
	return e.finish(OpBorrow, bookID, userID, cached.Title, err)
}

func (e *Engine) borrow(ctx context.Context, bookID, userID string, cached models.BookRecord, ok bool) error {
	if !ok {
		return ErrNotFound
	}
	if !cached.IsAvailable || cached.Quantity <= 0 {
		return ErrUnavailable
	}

	err := e.store.RunAtomic(ctx, bookID, func(cur *models.BookRecord) error {
		if cur.HasBorrower(userID) {
			return ErrAlreadyBorrowed
		}
		if cur.Quantity <= 0 {
			return ErrUnavailable
		}
		cur.Quantity--
		cur.IsAvailable = cur.Quantity > 0
		cur.Borrowers = append(cur.Borrowers, userID)
		cur.BorrowHistory = append(cur.BorrowHistory, models.BorrowEvent{
			UserID:     userID,
			BorrowedAt: e.now().UTC(),
		})
		return nil
	})
	return storeError(err, "borrow %s", bookID)
}

// Return gives back the copy userID holds. The borrow history is left as is.
func (e *Engine) Return(ctx context.Context, bookID, userID string) (Notice, error) {
	cached, ok := e.cache.Get(bookID)
	err := e.giveBack(ctx, bookID, userID, cached, ok)
	return e.finish(OpReturn, bookID, userID, cached.Title, err)
}

func (e *Engine) giveBack(ctx context.Context, bookID, userID string, cached models.BookRecord, ok bool) error {
	if !ok {
		return ErrNotFound
	}
	if !cached.HasBorrower(userID) {
		return ErrNotBorrowedByUser
	}

	err := e.store.RunAtomic(ctx, bookID, func(cur *models.BookRecord) error {
		if !cur.HasBorrower(userID) {
			return ErrNotBorrowedByUser
		}
		kept := cur.Borrowers[:0]
		for _, id := range cur.Borrowers {
			if id != userID {
				kept = append(kept, id)
			}
		}
		cur.Borrowers = kept
		cur.Quantity++
		cur.IsAvailable = cur.Quantity > 0
		return nil
	})
	return storeError(err, "return %s", bookID)
}

// CreateRecord validates in and writes a new record. The ISBN is checked
// against the replica only, so two sessions creating the same ISBN at once
// can both succeed.
func (e *Engine) CreateRecord(ctx context.Context, userID string, in BookInput) (string, Notice, error) {
	in = in.trimmed()
	id, err := e.create(ctx, in)
	n, err := e.finish(OpCreate, id, userID, in.Title, err)
	return id, n, err
}

func (e *Engine) create(ctx context.Context, in BookInput) (string, error) {
	if err := validateInput(e.validate, in); err != nil {
		return "", err
	}
	if e.cache.HasIsbn(in.Isbn) {
		return "", ErrDuplicateIsbn
	}
	id, err := e.store.Create(ctx, newRecord(in))
	return id, storeError(err, "create %q", in.Isbn)
}

// UpdateRecord merges the catalog fields of in into the record. The ISBN,
// borrowers and history are not changed.
func (e *Engine) UpdateRecord(ctx context.Context, bookID, userID string, in BookInput) (Notice, error) {
	in = in.trimmed()
	err := e.update(ctx, bookID, in)
	return e.finish(OpUpdate, bookID, userID, in.Title, err)
}

func (e *Engine) update(ctx context.Context, bookID string, in BookInput) error {
	if err := validateInput(e.validate, in, "Isbn"); err != nil {
		return err
	}
	err := e.store.Overwrite(ctx, bookID, map[string]interface{}{
		models.ColumnTitle:       in.Title,
		models.ColumnAuthor:      in.Author,
		models.ColumnYear:        in.Year,
		models.ColumnQuantity:    in.Quantity,
		models.ColumnIsAvailable: in.Quantity > 0,
	}, true)
	return storeError(err, "update %s", bookID)
}

// DeleteRecord removes the record without asking. Callers that need a
// confirmation put one in front of it.
func (e *Engine) DeleteRecord(ctx context.Context, bookID, userID string) (Notice, error) {
	cached, _ := e.cache.Get(bookID)
	err := storeError(e.store.Delete(ctx, bookID), "delete %s", bookID)
	return e.finish(OpDelete, bookID, userID, cached.Title, err)
}

func (e *Engine) finish(op Op, bookID, userID, title string, err error) (Notice, error) {
	kind := KindOf(err)
	level, text := Message(op, title, err)
	n := Notice{Op: op, Level: level, BookID: bookID, UserID: userID, Text: text}

	metrics.GetOrCreateCounter(fmt.Sprintf(`catalog_operations_total{op=%q,result=%q}`, op, kind)).Inc()

	fields := []zap.Field{
		zap.String("op", string(op)),
		zap.String("book_id", bookID),
		zap.String("user_id", userID),
	}
	switch kind {
	case KindNone:
		e.log.Info("operation succeeded", fields...)
	case KindStoreUnavailable:
		e.log.Error("operation failed", append(fields, zap.Error(err))...)
	default:
		e.log.Info("operation rejected", append(fields, zap.Stringer("kind", kind))...)
	}

	if e.notifier != nil {
		e.notifier.Notify(n)
	}
	return n, err
}
