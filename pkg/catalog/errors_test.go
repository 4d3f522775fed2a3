package catalog

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"libcatalog/pkg/store"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "validation", err: &ValidationError{Fields: map[string]string{"year": "must be at least 1000"}}, want: KindValidation},
		{name: "wrapped duplicate", err: errors.Wrap(ErrDuplicateIsbn, "create"), want: KindDuplicateIsbn},
		{name: "not found", err: ErrNotFound, want: KindNotFound},
		{name: "already borrowed", err: ErrAlreadyBorrowed, want: KindAlreadyBorrowed},
		{name: "not borrowed", err: ErrNotBorrowedByUser, want: KindNotBorrowedByUser},
		{name: "unavailable", err: ErrUnavailable, want: KindUnavailable},
		{name: "anything else", err: errors.New("dial tcp: refused"), want: KindStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError(nil, "borrow %s", "x"))
	assert.ErrorIs(t, storeError(store.ErrNotFound, "borrow %s", "x"), ErrNotFound)
	assert.Equal(t, ErrAlreadyBorrowed, storeError(ErrAlreadyBorrowed, "borrow %s", "x"))

	err := storeError(store.ErrConflict, "borrow %s", "x")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "transaction contention")
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"year": "must be at least 1000", "author": "must not be empty"}}
	assert.Equal(t, "invalid book: author must not be empty, year must be at least 1000", err.Error())
}

func TestDeletePrompt(t *testing.T) {
	assert.Equal(t, `Are you sure you want to permanently delete the book: "1984"?`, DeletePrompt("1984"))
}
