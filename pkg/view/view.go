// Package view derives what a user sees from the replica: the records that
// pass the active filter and search, in the active sort order, plus the
// catalog summary.
package view

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"libcatalog/pkg/models"
)

type Filter string

const (
	FilterNone     Filter = "none"
	FilterLowStock Filter = "low_stock"
	FilterOldBooks Filter = "old_books"
)

type SortField string

const (
	SortTitle    SortField = "title"
	SortYear     SortField = "year"
	SortQuantity SortField = "quantity"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	// LowStockLimit is the highest quantity still flagged as low stock.
	LowStockLimit = 1
	// OldAfterYears is the age past which a book counts as old.
	OldAfterYears = 10
)

var (
	ErrUnknownFilter    = errors.New("unknown filter")
	ErrUnknownSortField = errors.New("unknown sort field")
	ErrUnknownDirection = errors.New("unknown sort direction")
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterNone, FilterLowStock, FilterOldBooks:
		return f, nil
	}
	return "", errors.Wrapf(ErrUnknownFilter, "%q", s)
}

func ParseSortField(s string) (SortField, error) {
	switch f := SortField(s); f {
	case SortTitle, SortYear, SortQuantity:
		return f, nil
	}
	return "", errors.Wrapf(ErrUnknownSortField, "%q", s)
}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Asc, Desc:
		return d, nil
	}
	return "", errors.Wrapf(ErrUnknownDirection, "%q", s)
}

type State struct {
	Filter    Filter    `json:"filter"`
	Search    string    `json:"search"`
	SortField SortField `json:"sortField"`
	Direction Direction `json:"direction"`
}

func DefaultState() State {
	return State{Filter: FilterNone, SortField: SortTitle, Direction: Asc}
}

// ToggleSort flips the direction when field is already the sort field and
// otherwise switches to field in ascending order.
func (s State) ToggleSort(field SortField) State {
	if s.SortField == field {
		if s.Direction == Asc {
			s.Direction = Desc
		} else {
			s.Direction = Asc
		}
		return s
	}
	s.SortField = field
	s.Direction = Asc
	return s
}

type Item struct {
	models.BookRecord
	LowStock bool `json:"lowStock"`
	Old      bool `json:"old"`
}

type Summary struct {
	TotalBooks     int `json:"totalBooks"`
	AvailableBooks int `json:"availableBooks"`
	TotalQuantity  int `json:"totalQuantity"`
	// BorrowedBooks is TotalQuantity minus AvailableBooks. It approximates
	// checked-out copies and is not an exact count.
	BorrowedBooks int `json:"borrowedBooks"`
}

func isLowStock(r models.BookRecord) bool {
	return r.Quantity <= LowStockLimit
}

func isOld(r models.BookRecord, now time.Time) bool {
	return now.Year()-r.Year > OldAfterYears
}

// Flags returns the display flags of one record.
func Flags(r models.BookRecord, now time.Time) (lowStock, old bool) {
	return isLowStock(r), isOld(r, now)
}

// Derive runs filter, search and sort over records. It does not modify
// records and returns the same order for the same inputs.
func Derive(records []models.BookRecord, s State, now time.Time) []Item {
	items := make([]Item, 0, len(records))
	query := ""
	fold := cases.Fold()
	if s.Search != "" {
		query = fold.String(s.Search)
	}

	for _, r := range records {
		switch s.Filter {
		case FilterLowStock:
			if !isLowStock(r) {
				continue
			}
		case FilterOldBooks:
			if !isOld(r, now) {
				continue
			}
		}
		if query != "" &&
			!strings.Contains(fold.String(r.Isbn), query) &&
			!strings.Contains(fold.String(r.Title), query) &&
			!strings.Contains(fold.String(r.Author), query) {
			continue
		}
		lowStock, old := Flags(r, now)
		items = append(items, Item{BookRecord: r.Clone(), LowStock: lowStock, Old: old})
	}

	sortItems(items, s.SortField, s.Direction)
	return items
}

func sortItems(items []Item, field SortField, dir Direction) {
	// A Collator keeps internal buffers and is not safe for concurrent use.
	col := collate.New(language.English)
	cmp := func(a, b models.BookRecord) int {
		switch field {
		case SortYear:
			return a.Year - b.Year
		case SortQuantity:
			return a.Quantity - b.Quantity
		default:
			return col.CompareString(a.Title, b.Title)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		c := cmp(items[i].BookRecord, items[j].BookRecord)
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})
}

// Summarize aggregates over the full record set, not over a filtered view.
func Summarize(records []models.BookRecord) Summary {
	var s Summary
	s.TotalBooks = len(records)
	for _, r := range records {
		if r.IsAvailable {
			s.AvailableBooks++
		}
		s.TotalQuantity += r.Quantity
	}
	s.BorrowedBooks = s.TotalQuantity - s.AvailableBooks
	return s
}
