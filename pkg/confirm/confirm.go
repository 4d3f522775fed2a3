// Package confirm holds destructive requests until the requesting user
// confirms or cancels them.
package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrUnknown is returned for an id that was never issued, was already
	// used or has expired.
	ErrUnknown = errors.New("unknown or expired confirmation")

	// ErrNotOwner is returned when another user tries to answer a request.
	ErrNotOwner = errors.New("confirmation belongs to another user")
)

type Request struct {
	ID          string    `json:"confirmationUid"`
	BookID      string    `json:"bookId"`
	Title       string    `json:"title"`
	RequestedBy string    `json:"requestedBy"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Queue struct {
	ttl   time.Duration
	now   func() time.Time
	items []*Request
	mu    sync.Mutex
}

func NewQueue(ttl time.Duration) *Queue {
	return &Queue{
		ttl:   ttl,
		now:   time.Now,
		items: make([]*Request, 0),
	}
}

// Enqueue registers a pending delete of bookID for user.
func (q *Queue) Enqueue(bookID, title, user string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeLocked()
	req := &Request{
		ID:          uuid.New().String(),
		BookID:      bookID,
		Title:       title,
		RequestedBy: user,
		ExpiresAt:   q.now().Add(q.ttl),
	}
	q.items = append(q.items, req)
	copied := *req
	return &copied
}

// Take removes and returns the request so it can be carried out.
func (q *Queue) Take(id, user string) (*Request, error) {
	return q.remove(id, user)
}

// Cancel drops the request without carrying it out.
func (q *Queue) Cancel(id, user string) error {
	_, err := q.remove(id, user)
	return err
}

func (q *Queue) remove(id, user string) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeLocked()
	for i, req := range q.items {
		if req.ID != id {
			continue
		}
		if req.RequestedBy != user {
			return nil, ErrNotOwner
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return req, nil
	}
	return nil, ErrUnknown
}

// Purge drops expired requests and reports how many were dropped.
func (q *Queue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.purgeLocked()
}

func (q *Queue) purgeLocked() int {
	now := q.now()
	kept := q.items[:0]
	for _, req := range q.items {
		if now.Before(req.ExpiresAt) {
			kept = append(kept, req)
		}
	}
	dropped := len(q.items) - len(kept)
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return dropped
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the requests still waiting for user.
func (q *Queue) Pending(user string) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeLocked()
	result := make([]Request, 0)
	for _, req := range q.items {
		if req.RequestedBy == user {
			result = append(result, *req)
		}
	}
	return result
}
