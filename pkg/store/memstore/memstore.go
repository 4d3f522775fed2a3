// Package memstore is an in-process store.Store. It keeps records in a
// concurrent map and commits transactions with a compare-version step, so it
// shows the same conflict and retry behaviour as the database-backed store.
// It is used by tests and by the catalog service when no database is
// configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"libcatalog/pkg/feed"
	"libcatalog/pkg/models"
	"libcatalog/pkg/store"
)

type entry struct {
	record  models.BookRecord
	created uint64
}

type Store struct {
	records     *xsync.MapOf[string, entry]
	created     atomic.Uint64
	feed        *feed.Feed[store.Snapshot]
	maxAttempts int
	log         *zap.Logger

	publishMu sync.Mutex
	seq       uint64

	hookMu       sync.Mutex
	beforeCommit func(id string)
	failure      error
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

func New(opts ...Option) *Store {
	s := &Store{
		records:     xsync.NewMapOf[string, entry](),
		feed:        feed.New[store.Snapshot](),
		maxAttempts: store.DefaultMaxAttempts,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBeforeCommit installs a hook that runs inside RunAtomic after the
// transaction function and before the conditional write. Tests use it to
// slip a concurrent write in between.
func (s *Store) SetBeforeCommit(fn func(id string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.beforeCommit = fn
}

// SetFailure makes every following call fail with err until cleared with nil.
func (s *Store) SetFailure(err error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.failure = err
}

func (s *Store) hooks() (func(string), error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return s.beforeCommit, s.failure
}

func (s *Store) Subscribe(ctx context.Context) (<-chan store.Snapshot, error) {
	if _, err := s.hooks(); err != nil {
		return nil, err
	}
	ch := s.feed.Subscribe(ctx)
	if _, ok := s.feed.Last(); !ok {
		s.publish()
	}
	return ch, nil
}

func (s *Store) RunAtomic(ctx context.Context, id string, fn store.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hook, failure := s.hooks()
		if failure != nil {
			return failure
		}

		current, ok := s.records.Load(id)
		if !ok {
			return store.ErrNotFound
		}
		next := current.record.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if hook != nil {
			hook(id)
		}
		next.ID = id
		next.Version = current.record.Version + 1
		next.UpdatedAt = time.Now()

		committed := false
		s.records.Compute(id, func(old entry, loaded bool) (entry, bool) {
			if !loaded {
				return old, true
			}
			if old.record.Version != current.record.Version {
				return old, false
			}
			committed = true
			return entry{record: next, created: old.created}, false
		})
		if committed {
			s.publish()
			return nil
		}
		store.RecordConflict()
		s.log.Debug("transaction conflict, retrying",
			zap.String("book_id", id), zap.Int("attempt", attempt))
	}
	return store.ErrConflict
}

func (s *Store) Create(ctx context.Context, record models.BookRecord) (string, error) {
	if _, failure := s.hooks(); failure != nil {
		return "", failure
	}
	rec := record.Clone()
	rec.ID = uuid.New().String()
	if rec.Borrowers == nil {
		rec.Borrowers = datatypes.JSONSlice[string]{}
	}
	if rec.BorrowHistory == nil {
		rec.BorrowHistory = datatypes.JSONSlice[models.BorrowEvent]{}
	}
	rec.Version = 1
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt

	s.records.Store(rec.ID, entry{record: rec, created: s.created.Add(1)})
	s.publish()
	return rec.ID, nil
}

func (s *Store) Overwrite(ctx context.Context, id string, fields map[string]interface{}, merge bool) error {
	if _, failure := s.hooks(); failure != nil {
		return failure
	}
	if !store.ValidColumns(fields) {
		return errors.Errorf("overwrite %s: unknown column", id)
	}
	if !merge {
		fields = store.FullOverwrite(fields)
	}

	var err error
	s.records.Compute(id, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			err = store.ErrNotFound
			return old, true
		}
		rec := old.record.Clone()
		if !rec.Merge(fields) {
			err = errors.Errorf("overwrite %s: bad field value", id)
			return old, false
		}
		rec.Version++
		rec.UpdatedAt = time.Now()
		return entry{record: rec, created: old.created}, false
	})
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, failure := s.hooks(); failure != nil {
		return failure
	}
	s.records.Delete(id)
	s.publish()
	return nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(id string) (models.BookRecord, bool) {
	e, ok := s.records.Load(id)
	if !ok {
		return models.BookRecord{}, false
	}
	return e.record.Clone(), true
}

// Records returns copies of all records in creation order.
func (s *Store) Records() []models.BookRecord {
	return s.collect()
}

func (s *Store) Close() error {
	s.feed.Close()
	return nil
}

func (s *Store) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.seq++
	s.feed.Publish(store.Snapshot{Seq: s.seq, Records: s.collect()})
}

func (s *Store) collect() []models.BookRecord {
	entries := make([]entry, 0, s.records.Size())
	s.records.Range(func(_ string, e entry) bool {
		entries = append(entries, e)
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].created < entries[j].created })

	records := make([]models.BookRecord, len(entries))
	for i, e := range entries {
		records[i] = e.record.Clone()
	}
	return records
}
