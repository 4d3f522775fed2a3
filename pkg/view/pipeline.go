package view

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"libcatalog/pkg/feed"
	"libcatalog/pkg/models"
)

// Source supplies the records a pipeline projects, normally the replica.
type Source interface {
	Records() []models.BookRecord
}

type Projection struct {
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
	State   State   `json:"state"`
}

// Pipeline holds one user's view state. The intent methods are the only
// writers of that state.
type Pipeline struct {
	src     Source
	now     func() time.Time
	changes *feed.Feed[State]

	mu    sync.Mutex
	state State

	lastUse atomic.Int64 // unix nanos, maintained by Sessions
	holds   atomic.Int32
}

func NewPipeline(src Source, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{src: src, now: now, changes: feed.New[State](), state: DefaultState()}
}

func (p *Pipeline) update(fn func(State) State) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = fn(p.state)
	p.changes.Publish(p.state)
	return p.state
}

// Changes delivers the state after every intent.
func (p *Pipeline) Changes(ctx context.Context) <-chan State {
	return p.changes.Subscribe(ctx)
}

func (p *Pipeline) SetFilter(f Filter) State {
	return p.update(func(s State) State {
		s.Filter = f
		return s
	})
}

func (p *Pipeline) SetSearch(q string) State {
	return p.update(func(s State) State {
		s.Search = q
		return s
	})
}

func (p *Pipeline) ToggleSort(field SortField) State {
	return p.update(func(s State) State { return s.ToggleSort(field) })
}

// Reset clears the search, drops the filter and sorts by title ascending.
func (p *Pipeline) Reset() State {
	return p.update(func(State) State { return DefaultState() })
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Project() Projection {
	return p.ProjectWith(p.State())
}

// ProjectWith projects the current records under s without storing s.
func (p *Pipeline) ProjectWith(s State) Projection {
	records := p.src.Records()
	return Projection{
		Items:   Derive(records, s, p.now()),
		Summary: Summarize(records),
		State:   s,
	}
}

// Sessions maps user ids to their pipelines. Pipelines idle for longer
// than the eviction age are dropped by Evict unless they are held.
type Sessions struct {
	src       Source
	now       func() time.Time
	pipelines *xsync.MapOf[string, *Pipeline]
}

func NewSessions(src Source, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		src:       src,
		now:       now,
		pipelines: xsync.NewMapOf[string, *Pipeline](),
	}
}

// Get returns the pipeline of userID, creating it on first use, and marks
// it as used.
func (s *Sessions) Get(userID string) *Pipeline {
	p, _ := s.pipelines.Compute(userID, func(p *Pipeline, loaded bool) (*Pipeline, bool) {
		if !loaded {
			p = NewPipeline(s.src, s.now)
		}
		p.lastUse.Store(s.now().UnixNano())
		return p, false
	})
	return p
}

// Hold returns the pipeline of userID and keeps it from being evicted until
// release is called.
func (s *Sessions) Hold(userID string) (p *Pipeline, release func()) {
	p, _ = s.pipelines.Compute(userID, func(p *Pipeline, loaded bool) (*Pipeline, bool) {
		if !loaded {
			p = NewPipeline(s.src, s.now)
		}
		p.holds.Add(1)
		p.lastUse.Store(s.now().UnixNano())
		return p, false
	})

	var once sync.Once
	return p, func() {
		once.Do(func() {
			p.lastUse.Store(s.now().UnixNano())
			p.holds.Add(-1)
		})
	}
}

// Evict drops the pipelines that are not held and were last used at least
// idle ago. It reports how many were dropped.
func (s *Sessions) Evict(idle time.Duration) int {
	cutoff := s.now().Add(-idle).UnixNano()
	var users []string
	s.pipelines.Range(func(user string, p *Pipeline) bool {
		if p.holds.Load() == 0 && p.lastUse.Load() <= cutoff {
			users = append(users, user)
		}
		return true
	})

	evicted := 0
	for _, user := range users {
		s.pipelines.Compute(user, func(p *Pipeline, loaded bool) (*Pipeline, bool) {
			if !loaded {
				return p, true
			}
			// checked again under the bucket lock; Get may have touched it
			if p.holds.Load() > 0 || p.lastUse.Load() > cutoff {
				return p, false
			}
			evicted++
			return p, true
		})
	}
	return evicted
}

func (s *Sessions) Len() int {
	return s.pipelines.Size()
}
