// Package feed fans a stream of values out to any number of subscribers.
//
// Each subscriber owns a one-slot channel. Publishing replaces a value the
// subscriber has not read yet, so a slow reader never blocks the publisher
// and always ends up holding the newest value. Values reach every subscriber
// in publish order.
package feed

import (
	"context"
	"sync"
)

type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]chan T
	nextID  uint64
	last    T
	hasLast bool
	closed  bool
}

func New[T any]() *Feed[T] {
	return &Feed[T]{
		subs: make(map[uint64]chan T),
	}
}

// Subscribe registers a subscriber. The last published value, if any, is
// delivered right away. The channel is closed when ctx is done or the feed
// is closed.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	return f.subscribe(ctx, true)
}

// Follow is Subscribe without the replay: only values published after the
// call are delivered.
func (f *Feed[T]) Follow(ctx context.Context) <-chan T {
	return f.subscribe(ctx, false)
}

func (f *Feed[T]) subscribe(ctx context.Context, replay bool) <-chan T {
	ch := make(chan T, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if replay && f.hasLast {
		ch <- f.last
	}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}()
	return ch
}

func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last = v
	f.hasLast = true
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Last returns the most recently published value.
func (f *Feed[T]) Last() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
