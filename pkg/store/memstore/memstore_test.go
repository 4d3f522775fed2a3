package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libcatalog/pkg/models"
	"libcatalog/pkg/store"
)

func sampleRecord(isbn string, qty int) models.BookRecord {
	return models.BookRecord{
		Isbn:        isbn,
		Title:       "Title " + isbn,
		Author:      "Author",
		Year:        2000,
		Quantity:    qty,
		IsAvailable: qty > 0,
	}
}

func nextSnapshot(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "feed closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	return store.Snapshot{}
}

func TestSubscribeDeliversCurrentSet(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Create(ctx, sampleRecord("1", 1))
	require.NoError(t, err)
	_, err = s.Create(ctx, sampleRecord("2", 1))
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	snap := nextSnapshot(t, ch)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "1", snap.Records[0].Isbn)
	assert.Equal(t, "2", snap.Records[1].Isbn)
}

func TestSubscribeEmptyStore(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	snap := nextSnapshot(t, ch)
	assert.Empty(t, snap.Records)
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	s := New()
	id, err := s.Create(context.Background(), sampleRecord("1", 2))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, rec.ID)
	assert.NotNil(t, rec.Borrowers)
	assert.NotNil(t, rec.BorrowHistory)
	assert.Equal(t, int64(1), rec.Version)
}

func TestRunAtomicCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 2))
	require.NoError(t, err)

	err = s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
		cur.Quantity--
		cur.Borrowers = append(cur.Borrowers, "u1")
		return nil
	})
	require.NoError(t, err)

	rec, _ := s.Get(id)
	assert.Equal(t, 1, rec.Quantity)
	assert.Equal(t, []string{"u1"}, []string(rec.Borrowers))
	assert.Equal(t, int64(2), rec.Version)
}

func TestRunAtomicAbortLeavesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 2))
	require.NoError(t, err)

	abort := errors.New("abort")
	err = s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
		cur.Quantity = 99
		return abort
	})
	assert.Equal(t, abort, err)

	rec, _ := s.Get(id)
	assert.Equal(t, 2, rec.Quantity)
	assert.Equal(t, int64(1), rec.Version)
}

func TestRunAtomicMissing(t *testing.T) {
	s := New()
	err := s.RunAtomic(context.Background(), "nope", func(*models.BookRecord) error { return nil })
	assert.Equal(t, store.ErrNotFound, err)
}

func TestRunAtomicRetriesOnConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 5))
	require.NoError(t, err)

	var once sync.Once
	s.SetBeforeCommit(func(id string) {
		once.Do(func() {
			require.NoError(t, s.Overwrite(ctx, id, map[string]interface{}{models.ColumnTitle: "Renamed"}, true))
		})
	})

	runs := 0
	err = s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
		runs++
		cur.Quantity--
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)

	rec, _ := s.Get(id)
	assert.Equal(t, 4, rec.Quantity)
	assert.Equal(t, "Renamed", rec.Title)
}

func TestRunAtomicGivesUp(t *testing.T) {
	s := New(WithMaxAttempts(3))
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 5))
	require.NoError(t, err)

	s.SetBeforeCommit(func(id string) {
		require.NoError(t, s.Overwrite(ctx, id, map[string]interface{}{models.ColumnAuthor: "x"}, true))
	})

	runs := 0
	err = s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
		runs++
		return nil
	})
	assert.Equal(t, store.ErrConflict, err)
	assert.Equal(t, 3, runs)
}

func TestConcurrentTransactionsAllApply(t *testing.T) {
	s := New(WithMaxAttempts(1000))
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 50))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
				cur.Quantity--
				return nil
			}))
		}()
	}
	wg.Wait()

	rec, _ := s.Get(id)
	assert.Equal(t, 0, rec.Quantity)
	assert.Equal(t, int64(51), rec.Version)
}

func TestOverwriteMergeAndReplace(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := sampleRecord("1", 3)
	id, err := s.Create(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.RunAtomic(ctx, id, func(cur *models.BookRecord) error {
		cur.Borrowers = append(cur.Borrowers, "u1")
		return nil
	}))

	require.NoError(t, s.Overwrite(ctx, id, map[string]interface{}{models.ColumnYear: 1999}, true))
	got, _ := s.Get(id)
	assert.Equal(t, 1999, got.Year)
	assert.Equal(t, rec.Title, got.Title)

	require.NoError(t, s.Overwrite(ctx, id, map[string]interface{}{models.ColumnTitle: "Only"}, false))
	got, _ = s.Get(id)
	assert.Equal(t, "Only", got.Title)
	assert.Equal(t, "", got.Author)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, []string{"u1"}, []string(got.Borrowers))
}

func TestOverwriteErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.Equal(t, store.ErrNotFound, s.Overwrite(ctx, "nope", map[string]interface{}{models.ColumnTitle: "x"}, true))

	id, err := s.Create(ctx, sampleRecord("1", 1))
	require.NoError(t, err)
	assert.Error(t, s.Overwrite(ctx, id, map[string]interface{}{"borrowers": []string{}}, true))
	assert.Error(t, s.Overwrite(ctx, id, map[string]interface{}{models.ColumnYear: "1999"}, true))
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, sampleRecord("1", 1))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))
	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestSnapshotsFollowWrites(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	first := nextSnapshot(t, ch)

	id, err := s.Create(ctx, sampleRecord("1", 1))
	require.NoError(t, err)
	snap := nextSnapshot(t, ch)
	assert.Greater(t, snap.Seq, first.Seq)
	require.Len(t, snap.Records, 1)

	require.NoError(t, s.Delete(ctx, id))
	snap = nextSnapshot(t, ch)
	assert.Empty(t, snap.Records)
}

func TestInjectedFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("backend down")
	s.SetFailure(boom)

	_, err := s.Create(ctx, sampleRecord("1", 1))
	assert.Equal(t, boom, err)
	_, err = s.Subscribe(ctx)
	assert.Equal(t, boom, err)

	s.SetFailure(nil)
	_, err = s.Create(ctx, sampleRecord("1", 1))
	assert.NoError(t, err)
}
