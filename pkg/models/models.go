package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Column names shared by the store implementations and merge writes.
const (
	ColumnIsbn        = "isbn"
	ColumnTitle       = "title"
	ColumnAuthor      = "author"
	ColumnYear        = "year"
	ColumnQuantity    = "quantity"
	ColumnIsAvailable = "is_available"
)

type BorrowEvent struct {
	UserID     string    `json:"userId"`
	BorrowedAt time.Time `json:"borrowedAt"`
}

type BookRecord struct {
	ID            string                           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Isbn          string                           `gorm:"size:32;not null;index" json:"isbn"`
	Title         string                           `gorm:"not null" json:"title"`
	Author        string                           `gorm:"not null" json:"author"`
	Year          int                              `gorm:"not null;check:year >= 1000" json:"year"`
	Quantity      int                              `gorm:"not null" json:"quantity"`
	IsAvailable   bool                             `gorm:"not null" json:"isAvailable"`
	Borrowers     datatypes.JSONSlice[string]      `json:"borrowers"`
	BorrowHistory datatypes.JSONSlice[BorrowEvent] `json:"borrowHistory"`
	Version       int64                            `gorm:"not null;default:1" json:"-"`
	CreatedAt     time.Time                        `json:"-"`
	UpdatedAt     time.Time                        `json:"-"`
}

func (b *BookRecord) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Borrowers == nil {
		b.Borrowers = datatypes.JSONSlice[string]{}
	}
	if b.BorrowHistory == nil {
		b.BorrowHistory = datatypes.JSONSlice[BorrowEvent]{}
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return nil
}

// Clone returns a deep copy; the slices of the copy never alias the original.
func (b BookRecord) Clone() BookRecord {
	out := b
	out.Borrowers = append(datatypes.JSONSlice[string]{}, b.Borrowers...)
	out.BorrowHistory = append(datatypes.JSONSlice[BorrowEvent]{}, b.BorrowHistory...)
	return out
}

func (b BookRecord) HasBorrower(userID string) bool {
	for _, id := range b.Borrowers {
		if id == userID {
			return true
		}
	}
	return false
}

// Merge applies column/value pairs the way a merge overwrite does. It reports
// false on an unknown column or a value of the wrong type.
func (b *BookRecord) Merge(fields map[string]interface{}) bool {
	for column, value := range fields {
		var ok bool
		switch column {
		case ColumnIsbn:
			b.Isbn, ok = value.(string)
		case ColumnTitle:
			b.Title, ok = value.(string)
		case ColumnAuthor:
			b.Author, ok = value.(string)
		case ColumnYear:
			b.Year, ok = value.(int)
		case ColumnQuantity:
			b.Quantity, ok = value.(int)
		case ColumnIsAvailable:
			b.IsAvailable, ok = value.(bool)
		}
		if !ok {
			return false
		}
	}
	return true
}
