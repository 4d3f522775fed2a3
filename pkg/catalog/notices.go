package catalog

import "fmt"

type Op string

const (
	OpBorrow Op = "borrow"
	OpReturn Op = "return"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// CancelledMessage is shown when a user declines a confirmation.
const CancelledMessage = "Action cancelled."

// Notice is the user-facing outcome of one engine operation.
type Notice struct {
	Op     Op     `json:"op"`
	Level  Level  `json:"level"`
	BookID string `json:"bookId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Text   string `json:"message"`
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// DeletePrompt is the question asked before a record is deleted.
func DeletePrompt(title string) string {
	return fmt.Sprintf("Are you sure you want to permanently delete the book: %q?", title)
}

// Message renders the user-facing text for the outcome of op on the book
// titled title.
func Message(op Op, title string, err error) (Level, string) {
	kind := KindOf(err)
	if kind == KindNone {
		switch op {
		case OpBorrow:
			return LevelSuccess, fmt.Sprintf("%q borrowed successfully.", title)
		case OpReturn:
			return LevelSuccess, fmt.Sprintf("%q returned successfully.", title)
		case OpCreate:
			return LevelSuccess, "New book added: " + title
		case OpUpdate:
			return LevelSuccess, "Book updated successfully: " + title
		default:
			return LevelSuccess, "Book deleted: " + title
		}
	}

	switch kind {
	case KindValidation:
		return LevelError, "Validation Error: Please fill all fields correctly (Year must be > 1000, Quantity >= 0)."
	case KindDuplicateIsbn:
		return LevelError, "Error: Book with this ISBN already exists."
	case KindNotFound:
		return LevelError, "Book not found."
	case KindUnavailable:
		return LevelError, fmt.Sprintf("Cannot borrow %q. It is currently unavailable or out of stock.", title)
	case KindAlreadyBorrowed:
		return LevelError, fmt.Sprintf("You have already borrowed %q.", title)
	case KindNotBorrowedByUser:
		return LevelError, fmt.Sprintf("You did not borrow %q. Cannot return.", title)
	}

	switch op {
	case OpBorrow:
		return LevelError, "Borrowing failed due to a database error."
	case OpReturn:
		return LevelError, "Returning failed due to a database error."
	case OpDelete:
		return LevelError, "Deleting failed due to a database error."
	default:
		return LevelError, "Saving failed due to a database error."
	}
}
