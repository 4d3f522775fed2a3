package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"libcatalog/pkg/confirm"
	"libcatalog/pkg/view"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func outputStyle(cmd *cobra.Command) string {
	style, _ := cmd.Flags().GetString("output")
	return style
}

func renderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func flagMarks(it view.Item) string {
	var marks []string
	if it.LowStock {
		marks = append(marks, "low stock")
	}
	if it.Old {
		marks = append(marks, "old")
	}
	return strings.Join(marks, ", ")
}

func renderBooks(w io.Writer, items []view.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No books found.")
		return
	}
	tb := tablewriter.NewWriter(w)
	tb.SetHeader([]string{"ID", "ISBN", "Title", "Author", "Year", "Qty", "Available", "Flags"})
	for _, it := range items {
		available := "no"
		if it.IsAvailable {
			available = "yes"
		}
		tb.Append([]string{
			it.ID, it.Isbn, it.Title, it.Author,
			strconv.Itoa(it.Year), strconv.Itoa(it.Quantity), available, flagMarks(it),
		})
	}
	tb.Render()
}

func renderSummary(w io.Writer, s view.Summary) {
	tb := tablewriter.NewWriter(w)
	tb.SetHeader([]string{"Total Books", "Available", "Total Quantity", "Borrowed"})
	tb.Append([]string{
		strconv.Itoa(s.TotalBooks), strconv.Itoa(s.AvailableBooks),
		strconv.Itoa(s.TotalQuantity), strconv.Itoa(s.BorrowedBooks),
	})
	tb.Render()
}

func renderBook(w io.Writer, it view.Item) {
	tb := tablewriter.NewWriter(w)
	tb.SetHeader([]string{"Field", "Value"})
	tb.AppendBulk([][]string{
		{"ID", it.ID},
		{"ISBN", it.Isbn},
		{"Title", it.Title},
		{"Author", it.Author},
		{"Year", strconv.Itoa(it.Year)},
		{"Quantity", strconv.Itoa(it.Quantity)},
		{"Available", strconv.FormatBool(it.IsAvailable)},
		{"Flags", flagMarks(it)},
		{"Borrowers", strings.Join(it.Borrowers, ", ")},
	})
	tb.Render()

	if len(it.BorrowHistory) == 0 {
		return
	}
	fmt.Fprintln(w, "\nBorrow history:")
	hist := tablewriter.NewWriter(w)
	hist.SetHeader([]string{"User", "Borrowed At"})
	for _, ev := range it.BorrowHistory {
		hist.Append([]string{ev.UserID, ev.BorrowedAt.Local().Format(time.RFC3339)})
	}
	hist.Render()
}

func renderConfirmations(w io.Writer, reqs []confirm.Request) {
	tb := tablewriter.NewWriter(w)
	tb.SetHeader([]string{"Confirmation", "Book ID", "Title", "Expires"})
	for _, req := range reqs {
		tb.Append([]string{req.ID, req.BookID, req.Title, req.ExpiresAt.Local().Format(time.Kitchen)})
	}
	tb.Render()
}
