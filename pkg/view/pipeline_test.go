package view

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"libcatalog/pkg/models"
)

type staticSource []models.BookRecord

func (s staticSource) Records() []models.BookRecord { return s }

func fixedClock() time.Time { return now }

func TestPipelineIntents(t *testing.T) {
	p := NewPipeline(staticSource(sampleSet()), fixedClock)
	assert.Equal(t, DefaultState(), p.State())

	p.SetFilter(FilterLowStock)
	p.SetSearch("pride")
	proj := p.Project()
	assert.Equal(t, []string{"4"}, ids(proj.Items))
	assert.Equal(t, 5, proj.Summary.TotalBooks)

	p.ToggleSort(SortYear)
	p.ToggleSort(SortYear)
	assert.Equal(t, Desc, p.State().Direction)

	assert.Equal(t, DefaultState(), p.Reset())
	assert.Len(t, p.Project().Items, 5)
}

func TestProjectWithDoesNotStore(t *testing.T) {
	p := NewPipeline(staticSource(sampleSet()), fixedClock)
	s := DefaultState()
	s.Filter = FilterOldBooks

	assert.Len(t, p.ProjectWith(s).Items, 4)
	assert.Equal(t, FilterNone, p.State().Filter)
}

func TestSessionsAreIsolated(t *testing.T) {
	sessions := NewSessions(staticSource(sampleSet()), fixedClock)
	sessions.Get("alice").SetFilter(FilterLowStock)

	assert.Equal(t, FilterLowStock, sessions.Get("alice").State().Filter)
	assert.Equal(t, FilterNone, sessions.Get("bob").State().Filter)
	assert.Equal(t, 2, sessions.Len())
}

func TestSessionsConcurrentGet(t *testing.T) {
	sessions := NewSessions(staticSource(nil), fixedClock)
	got := make([]*Pipeline, 20)

	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = sessions.Get("same")
		}(i)
	}
	wg.Wait()

	for _, p := range got {
		assert.Same(t, got[0], p)
	}
}

func TestPipelineChanges(t *testing.T) {
	p := NewPipeline(staticSource(sampleSet()), fixedClock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := p.Changes(ctx)

	p.SetSearch("weir")
	select {
	case s := <-changes:
		assert.Equal(t, "weir", s.Search)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

type manualClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func TestSessionsEvictIdle(t *testing.T) {
	clock := &manualClock{at: now}
	sessions := NewSessions(staticSource(sampleSet()), clock.Now)

	sessions.Get("alice").SetFilter(FilterLowStock)
	clock.Advance(20 * time.Minute)
	sessions.Get("bob")

	assert.Equal(t, 0, sessions.Evict(30*time.Minute))
	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, sessions.Evict(30*time.Minute))
	assert.Equal(t, 1, sessions.Len())

	// alice starts over with the default view
	assert.Equal(t, FilterNone, sessions.Get("alice").State().Filter)
}

func TestSessionsEvictSkipsHeld(t *testing.T) {
	clock := &manualClock{at: now}
	sessions := NewSessions(staticSource(sampleSet()), clock.Now)

	held, release := sessions.Hold("alice")
	held.SetSearch("weir")
	clock.Advance(time.Hour)
	assert.Equal(t, 0, sessions.Evict(time.Minute))
	assert.Same(t, held, sessions.Get("alice"))

	release()
	release()
	clock.Advance(time.Hour)
	assert.Equal(t, 1, sessions.Evict(time.Minute))
	assert.Equal(t, 0, sessions.Len())
}
