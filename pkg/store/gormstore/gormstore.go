// Package gormstore implements store.Store on a relational database through
// gorm. Transactions are optimistic: a record is read, the transaction
// function runs on a copy and the result is written back with a
// version-guarded UPDATE. Snapshots are republished after every local write
// and, with Watch, whenever another process changes the table.
package gormstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"libcatalog/pkg/feed"
	"libcatalog/pkg/models"
	"libcatalog/pkg/store"
)

type Store struct {
	db          *gorm.DB
	feed        *feed.Feed[store.Snapshot]
	maxAttempts int
	log         *zap.Logger
	closed      atomic.Bool

	publishMu   sync.Mutex
	seq         uint64
	fingerprint string
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New wraps an open, migrated database. The caller keeps ownership of db.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		feed:        feed.New[store.Snapshot](),
		maxAttempts: store.DefaultMaxAttempts,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Subscribe(ctx context.Context) (<-chan store.Snapshot, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	ch := s.feed.Subscribe(ctx)
	if _, ok := s.feed.Last(); !ok {
		if err := s.refresh(ctx, true); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

func (s *Store) RunAtomic(ctx context.Context, id string, fn store.TxFunc) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var current models.BookRecord
		err := s.db.WithContext(ctx).Where("id = ?", id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return errors.Wrapf(err, "read record %s", id)
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return err
		}

		res := s.db.WithContext(ctx).Model(&models.BookRecord{}).
			Where("id = ? AND version = ?", id, current.Version).
			Updates(map[string]interface{}{
				models.ColumnIsbn:        next.Isbn,
				models.ColumnTitle:       next.Title,
				models.ColumnAuthor:      next.Author,
				models.ColumnYear:        next.Year,
				models.ColumnQuantity:    next.Quantity,
				models.ColumnIsAvailable: next.IsAvailable,
				"borrowers":              next.Borrowers,
				"borrow_history":         next.BorrowHistory,
				"version":                current.Version + 1,
				"updated_at":             time.Now(),
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "commit record %s", id)
		}
		if res.RowsAffected == 1 {
			s.afterWrite(ctx)
			return nil
		}

		store.RecordConflict()
		s.log.Debug("transaction conflict, retrying",
			zap.String("book_id", id), zap.Int("attempt", attempt))
	}
	return store.ErrConflict
}

func (s *Store) Create(ctx context.Context, record models.BookRecord) (string, error) {
	if s.closed.Load() {
		return "", store.ErrClosed
	}
	rec := record.Clone()
	rec.ID = ""
	rec.Version = 0
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", errors.Wrap(err, "create record")
	}
	s.afterWrite(ctx)
	return rec.ID, nil
}

func (s *Store) Overwrite(ctx context.Context, id string, fields map[string]interface{}, merge bool) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if !store.ValidColumns(fields) {
		return errors.Errorf("overwrite %s: unknown column", id)
	}
	if !merge {
		fields = store.FullOverwrite(fields)
	}
	var probe models.BookRecord
	if !probe.Merge(fields) {
		return errors.Errorf("overwrite %s: bad field value", id)
	}

	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	res := s.db.WithContext(ctx).Model(&models.BookRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "overwrite record %s", id)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	s.afterWrite(ctx)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.BookRecord{}).Error; err != nil {
		return errors.Wrapf(err, "delete record %s", id)
	}
	s.afterWrite(ctx)
	return nil
}

// Watch polls the table every interval and publishes a snapshot when rows
// were changed by another process. It returns when ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.closed.Load() {
				return
			}
			if err := s.refresh(ctx, false); err != nil && ctx.Err() == nil {
				s.log.Warn("snapshot poll failed", zap.Error(err))
			}
		}
	}
}

// Close stops publishing and closes every subscriber channel. The database
// handle is left open.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.feed.Close()
	return nil
}

func (s *Store) afterWrite(ctx context.Context) {
	if err := s.refresh(ctx, true); err != nil {
		s.log.Warn("publishing snapshot failed", zap.Error(err))
	}
}

func (s *Store) refresh(ctx context.Context, force bool) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	var records []models.BookRecord
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&records).Error; err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	fp := fingerprint(records)
	if !force && fp == s.fingerprint {
		return nil
	}
	s.fingerprint = fp
	s.seq++
	s.feed.Publish(store.Snapshot{Seq: s.seq, Records: records})
	return nil
}

func fingerprint(records []models.BookRecord) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.ID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(r.Version, 10))
		b.WriteByte(';')
	}
	return b.String()
}
