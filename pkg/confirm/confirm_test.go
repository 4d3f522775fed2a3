package confirm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeConfirms(t *testing.T) {
	q := NewQueue(time.Minute)
	req := q.Enqueue("book-1", "1984", "alice")
	require.NotEmpty(t, req.ID)
	assert.Equal(t, 1, q.Size())

	got, err := q.Take(req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "book-1", got.BookID)
	assert.Equal(t, "1984", got.Title)
	assert.Equal(t, 0, q.Size())

	_, err = q.Take(req.ID, "alice")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestOnlyOwnerMayAnswer(t *testing.T) {
	q := NewQueue(time.Minute)
	req := q.Enqueue("book-1", "1984", "alice")

	_, err := q.Take(req.ID, "bob")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, q.Cancel(req.ID, "bob"), ErrNotOwner)
	assert.Equal(t, 1, q.Size())

	require.NoError(t, q.Cancel(req.ID, "alice"))
	assert.Equal(t, 0, q.Size())
}

func TestExpiry(t *testing.T) {
	q := NewQueue(time.Minute)
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return current }

	old := q.Enqueue("book-1", "A", "alice")
	current = current.Add(30 * time.Second)
	fresh := q.Enqueue("book-2", "B", "alice")
	current = current.Add(45 * time.Second)

	assert.Equal(t, []Request{*fresh}, q.Pending("alice"))
	_, err := q.Take(old.ID, "alice")
	assert.ErrorIs(t, err, ErrUnknown)

	current = current.Add(time.Minute)
	assert.Equal(t, 1, q.Purge())
	assert.Equal(t, 0, q.Size())
}

func TestPendingPerUser(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Enqueue("book-1", "A", "alice")
	q.Enqueue("book-2", "B", "bob")

	assert.Len(t, q.Pending("alice"), 1)
	assert.Len(t, q.Pending("carol"), 0)
}
