// Package replica keeps the local, read-only mirror of the shared record set.
//
// The cache has a single writer: Run, which consumes the store's snapshot
// feed and replaces the whole set on every snapshot. Everything else only
// reads.
package replica

import (
	"context"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"libcatalog/pkg/feed"
	"libcatalog/pkg/models"
	"libcatalog/pkg/store"
)

var snapshotsApplied = metrics.GetOrCreateCounter("catalog_snapshots_total")

// Seeder populates an empty catalog. It runs at most once, when the first
// snapshot is empty.
type Seeder func(ctx context.Context) error

type Cache struct {
	log    *zap.Logger
	seeder Seeder

	mu      sync.RWMutex
	records []models.BookRecord
	byID    map[string]int
	seq     uint64

	ready     chan struct{}
	readyOnce sync.Once
	updates   *feed.Feed[store.Snapshot]
}

type Option func(*Cache)

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithSeeder(s Seeder) Option {
	return func(c *Cache) { c.seeder = s }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		log:     zap.NewNop(),
		byID:    make(map[string]int),
		ready:   make(chan struct{}),
		updates: feed.New[store.Snapshot](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run subscribes to src and applies every snapshot until ctx is done or the
// feed closes. It is the only writer of the cache.
func (c *Cache) Run(ctx context.Context, src store.Store) error {
	defer c.updates.Close()

	ch, err := src.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to record feed")
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return store.ErrClosed
			}
			c.apply(snap)
			if first {
				first = false
				c.seed(ctx, len(snap.Records))
			}
		}
	}
}

func (c *Cache) seed(ctx context.Context, size int) {
	if size > 0 || c.seeder == nil {
		return
	}
	c.log.Info("catalog is empty, seeding sample records")
	if err := c.seeder(ctx); err != nil {
		c.log.Warn("seeding sample records failed", zap.Error(err))
	}
}

func (c *Cache) apply(snap store.Snapshot) {
	c.mu.Lock()
	if c.seq != 0 && snap.Seq <= c.seq {
		c.mu.Unlock()
		return
	}
	records := make([]models.BookRecord, len(snap.Records))
	byID := make(map[string]int, len(snap.Records))
	for i, r := range snap.Records {
		records[i] = r.Clone()
		byID[r.ID] = i
	}
	c.records = records
	c.byID = byID
	c.seq = snap.Seq
	c.mu.Unlock()

	snapshotsApplied.Inc()
	c.log.Debug("replica rebuilt", zap.Uint64("seq", snap.Seq), zap.Int("records", len(records)))
	c.readyOnce.Do(func() { close(c.ready) })
	c.updates.Publish(store.Snapshot{Seq: snap.Seq, Records: records})
}

// WaitReady blocks until the first snapshot has been applied.
func (c *Cache) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records returns a copy of the current set in store order.
func (c *Cache) Records() []models.BookRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.BookRecord, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

func (c *Cache) Get(id string) (models.BookRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return models.BookRecord{}, false
	}
	return c.records[i].Clone(), true
}

func (c *Cache) HasIsbn(isbn string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.Isbn == isbn {
			return true
		}
	}
	return false
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Cache) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Updates delivers every applied snapshot. The records slice is shared and
// must not be modified.
func (c *Cache) Updates(ctx context.Context) <-chan store.Snapshot {
	return c.updates.Subscribe(ctx)
}
