package catalog

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"libcatalog/pkg/store"
)

var (
	// ErrDuplicateIsbn is returned by CreateRecord when the replica already
	// holds a record with the same ISBN.
	ErrDuplicateIsbn = errors.New("a book with this ISBN already exists")

	// ErrNotFound is returned when the book id does not resolve.
	ErrNotFound = errors.New("book not found")

	// ErrAlreadyBorrowed is returned when the requester already holds a copy.
	ErrAlreadyBorrowed = errors.New("book already borrowed by this user")

	// ErrNotBorrowedByUser is returned when returning a book the requester
	// does not hold.
	ErrNotBorrowedByUser = errors.New("book not borrowed by this user")

	// ErrUnavailable is returned when no copy is left to borrow.
	ErrUnavailable = errors.New("book unavailable or out of stock")

	// ErrStoreUnavailable covers every other store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports malformed input. Fields maps the json name of each
// offending field to a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + e.Fields[name]
	}
	return "invalid book: " + strings.Join(parts, ", ")
}

type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindDuplicateIsbn
	KindNotFound
	KindAlreadyBorrowed
	KindNotBorrowedByUser
	KindUnavailable
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindDuplicateIsbn:
		return "duplicate_isbn"
	case KindNotFound:
		return "not_found"
	case KindAlreadyBorrowed:
		return "already_borrowed"
	case KindNotBorrowedByUser:
		return "not_borrowed_by_user"
	case KindUnavailable:
		return "unavailable"
	default:
		return "store_unavailable"
	}
}

// KindOf classifies err. Anything unrecognised is KindStoreUnavailable.
func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrDuplicateIsbn):
		return KindDuplicateIsbn
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyBorrowed):
		return KindAlreadyBorrowed
	case errors.Is(err, ErrNotBorrowedByUser):
		return KindNotBorrowedByUser
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindStoreUnavailable
	}
}

// storeError maps what the store returned onto the catalog taxonomy.
// Transaction aborts raised by the engine pass through unchanged.
func storeError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	if KindOf(err) != KindStoreUnavailable {
		return err
	}
	return errors.Wrapf(ErrStoreUnavailable, format+": %v", append(args, err)...)
}
