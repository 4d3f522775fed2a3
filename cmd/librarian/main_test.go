package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libcatalog/pkg/catalog"
	"libcatalog/pkg/client"
	"libcatalog/pkg/confirm"
	"libcatalog/pkg/models"
	"libcatalog/pkg/view"
)

var dune = view.Item{
	BookRecord: models.BookRecord{
		ID:          "b1",
		Isbn:        "9780441172719",
		Title:       "Dune",
		Author:      "Frank Herbert",
		Year:        1965,
		Quantity:    1,
		IsAvailable: true,
		Borrowers:   []string{"bob"},
		BorrowHistory: []models.BorrowEvent{
			{UserID: "bob", BorrowedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
	},
	LowStock: true,
	Old:      true,
}

// fakeCatalog records the calls the commands make.
type fakeCatalog struct {
	mu        sync.Mutex
	updated   *catalog.BookInput
	created   *catalog.BookInput
	confirmed bool
	cancelled bool
	lastQuery string
	pending   []confirm.Request
}

func (f *fakeCatalog) routes(r *gin.Engine) {
	r.GET("/api/v1/books", func(c *gin.Context) {
		f.mu.Lock()
		f.lastQuery = c.Request.URL.RawQuery
		f.mu.Unlock()
		c.JSON(http.StatusOK, view.Projection{
			Items:   []view.Item{dune},
			Summary: view.Summary{TotalBooks: 1, AvailableBooks: 1, TotalQuantity: 1},
			State:   view.DefaultState(),
		})
	})
	r.GET("/api/v1/books/:id", func(c *gin.Context) {
		if c.Param("id") != dune.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Book not found.", "kind": "not_found"})
			return
		}
		c.JSON(http.StatusOK, dune)
	})
	r.POST("/api/v1/books", func(c *gin.Context) {
		var in catalog.BookInput
		_ = c.ShouldBindJSON(&in)
		f.mu.Lock()
		f.created = &in
		f.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{"id": "b2", "message": "New book added: " + in.Title})
	})
	r.PUT("/api/v1/books/:id", func(c *gin.Context) {
		var in catalog.BookInput
		_ = c.ShouldBindJSON(&in)
		f.mu.Lock()
		f.updated = &in
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"message": "Book updated: " + in.Title})
	})
	r.POST("/api/v1/books/:id/borrow", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": `You have already borrowed "Dune".`, "kind": "already_borrowed"})
	})
	r.POST("/api/v1/books/:id/return", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": `You have returned "Dune".`})
	})
	r.DELETE("/api/v1/books/:id", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, client.DeleteRequest{
			Request: confirm.Request{ID: "c1", BookID: c.Param("id"), Title: "Dune", RequestedBy: c.GetHeader(client.UserHeader)},
			Message: `Are you sure you want to delete "Dune"?`,
		})
	})
	r.GET("/api/v1/confirmations", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		mine := make([]confirm.Request, 0)
		for _, req := range f.pending {
			if req.RequestedBy == c.GetHeader(client.UserHeader) {
				mine = append(mine, req)
			}
		}
		c.JSON(http.StatusOK, mine)
	})
	r.POST("/api/v1/confirmations/:uid", func(c *gin.Context) {
		f.mu.Lock()
		f.confirmed = true
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"message": `Book deleted: "Dune"`})
	})
	r.DELETE("/api/v1/confirmations/:uid", func(c *gin.Context) {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"message": "Deletion cancelled."})
	})
}

func setupFake(t *testing.T) (*fakeCatalog, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeCatalog{}
	r := gin.New()
	f.routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

// resetFlags undoes what a previous Execute left on the shared commands.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, server, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	stdout = &out
	stdin = strings.NewReader(input)
	resetFlags(rootCmd)

	rootCmd.SetArgs(append(args, "--server", server, "--user", "alice"))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestListTable(t *testing.T) {
	f, url := setupFake(t)

	out, err := execute(t, url, "", "list", "--filter", "low_stock", "--sort", "year")
	require.NoError(t, err)
	assert.Contains(t, out, "Dune")
	assert.Contains(t, out, "Frank Herbert")
	assert.Contains(t, out, "low stock, old")
	assert.Contains(t, f.lastQuery, "filter=low_stock")
	assert.Contains(t, f.lastQuery, "sort=year")
}

func TestListJSON(t *testing.T) {
	_, url := setupFake(t)

	out, err := execute(t, url, "", "list", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalBooks": 1`)
	assert.Contains(t, out, `"lowStock": true`)
}

func TestShowBook(t *testing.T) {
	_, url := setupFake(t)

	out, err := execute(t, url, "", "show", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "9780441172719")
	assert.Contains(t, out, "Borrow history:")
	assert.Contains(t, out, "bob")

	_, err = execute(t, url, "", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Book not found.")
}

func TestAddBook(t *testing.T) {
	f, url := setupFake(t)

	out, err := execute(t, url, "", "add", "--isbn", "1", "--title", "Emma", "--author", "Jane Austen",
		"--year", "1815", "--quantity", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "New book added: Emma (id b2)")
	require.NotNil(t, f.created)
	assert.Equal(t, catalog.BookInput{Isbn: "1", Title: "Emma", Author: "Jane Austen", Year: 1815, Quantity: 2}, *f.created)
}

func TestEditKeepsUnchangedFields(t *testing.T) {
	f, url := setupFake(t)

	out, err := execute(t, url, "", "edit", "b1", "--quantity", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Book updated: Dune")
	require.NotNil(t, f.updated)
	assert.Equal(t, "Dune", f.updated.Title)
	assert.Equal(t, "Frank Herbert", f.updated.Author)
	assert.Equal(t, 1965, f.updated.Year)
	assert.Equal(t, 4, f.updated.Quantity)
}

func TestBorrowAndReturn(t *testing.T) {
	_, url := setupFake(t)

	_, err := execute(t, url, "", "borrow", "b1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already borrowed")

	out, err := execute(t, url, "", "return", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, `You have returned "Dune".`)
}

func TestDeletePrompt(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		args      []string
		confirmed bool
		want      string
	}{
		{name: "answer yes", input: "y\n", args: []string{"delete", "b1"}, confirmed: true, want: "Book deleted"},
		{name: "answer no", input: "n\n", args: []string{"delete", "b1"}, want: "Deletion cancelled."},
		{name: "no answer", input: "", args: []string{"delete", "b1"}, want: "Deletion cancelled."},
		{name: "yes flag", args: []string{"delete", "b1", "--yes"}, confirmed: true, want: "Book deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, url := setupFake(t)

			out, err := execute(t, url, tt.input, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			assert.Equal(t, tt.confirmed, f.confirmed)
			assert.Equal(t, !tt.confirmed, f.cancelled)
		})
	}
}

func TestSummary(t *testing.T) {
	_, url := setupFake(t)

	out, err := execute(t, url, "", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL BOOKS")
	assert.Contains(t, out, "BORROWED")
}

func TestRenderBooksEmpty(t *testing.T) {
	var out bytes.Buffer
	renderBooks(&out, nil)
	assert.Equal(t, "No books found.\n", out.String())
}

func TestFlagMarks(t *testing.T) {
	assert.Equal(t, "", flagMarks(view.Item{}))
	assert.Equal(t, "old", flagMarks(view.Item{Old: true}))
	assert.Equal(t, "low stock, old", flagMarks(dune))
}

func TestPendingConfirmations(t *testing.T) {
	f, url := setupFake(t)

	out, err := execute(t, url, "", "pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending confirmations for alice.\n", out)

	f.pending = []confirm.Request{
		{ID: "c7", BookID: "b1", Title: "Dune", RequestedBy: "alice", ExpiresAt: time.Now().Add(time.Minute)},
		{ID: "c8", BookID: "b2", Title: "Emma", RequestedBy: "bob", ExpiresAt: time.Now().Add(time.Minute)},
	}
	out, err = execute(t, url, "", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "c7")
	assert.NotContains(t, out, "c8")
}

func TestConfirmAndCancelCommands(t *testing.T) {
	f, url := setupFake(t)

	out, err := execute(t, url, "", "confirm", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "Book deleted")
	assert.True(t, f.confirmed)

	out, err = execute(t, url, "", "cancel", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "Deletion cancelled.")
	assert.True(t, f.cancelled)
}
