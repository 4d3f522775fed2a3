package catalog

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"libcatalog/pkg/models"
)

// SampleBooks is written into an empty catalog on first start.
var SampleBooks = []BookInput{
	{Title: "To Kill a Mockingbird", Author: "Harper Lee", Year: 1960, Quantity: 5, Isbn: "9780061120084"},
	{Title: "1984", Author: "George Orwell", Year: 1949, Quantity: 1, Isbn: "9780451524935"},
	{Title: "The Martian", Author: "Andy Weir", Year: 2011, Quantity: 12, Isbn: "9780553418026"},
	{Title: "Pride and Prejudice", Author: "Jane Austen", Year: 1813, Quantity: 0, Isbn: "9780141439518"},
	{Title: "Project Hail Mary", Author: "Andy Weir", Year: 2021, Quantity: 7, Isbn: "9780593135211"},
}

func newRecord(in BookInput) models.BookRecord {
	return models.BookRecord{
		Isbn:        in.Isbn,
		Title:       in.Title,
		Author:      in.Author,
		Year:        in.Year,
		Quantity:    in.Quantity,
		IsAvailable: in.Quantity > 0,
	}
}

// Seed writes SampleBooks straight to the store. It is meant to be the
// replica's seeder and does not check the catalog for existing records.
func (e *Engine) Seed(ctx context.Context) error {
	for _, in := range SampleBooks {
		if _, err := e.store.Create(ctx, newRecord(in)); err != nil {
			return errors.Wrapf(err, "seed %q", in.Title)
		}
	}
	e.log.Info("sample records added", zap.Int("count", len(SampleBooks)))
	return nil
}
