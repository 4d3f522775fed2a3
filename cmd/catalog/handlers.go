package main

import (
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"libcatalog/pkg/catalog"
	"libcatalog/pkg/confirm"
	"libcatalog/pkg/view"
)

const userHeader = "X-User-Name"

func requireUser(c *gin.Context) (string, bool) {
	user := c.GetHeader(userHeader)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Name header is required"})
		return "", false
	}
	return user, true
}

// pipelineFor returns the caller's session, or a throwaway default view for
// anonymous reads.
func pipelineFor(c *gin.Context) *view.Pipeline {
	if user := c.GetHeader(userHeader); user != "" {
		return sessions.Get(user)
	}
	return view.NewPipeline(cache, nil)
}

// holdPipeline is pipelineFor for long-lived requests: the session is not
// evicted while the request runs.
func holdPipeline(c *gin.Context) (*view.Pipeline, func()) {
	if user := c.GetHeader(userHeader); user != "" {
		return sessions.Hold(user)
	}
	return view.NewPipeline(cache, nil), func() {}
}

func statusFor(kind catalog.Kind) int {
	switch kind {
	case catalog.KindNone:
		return http.StatusOK
	case catalog.KindValidation:
		return http.StatusBadRequest
	case catalog.KindNotFound:
		return http.StatusNotFound
	case catalog.KindDuplicateIsbn, catalog.KindAlreadyBorrowed,
		catalog.KindNotBorrowedByUser, catalog.KindUnavailable:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func respondFailure(c *gin.Context, n catalog.Notice, err error) {
	kind := catalog.KindOf(err)
	body := gin.H{"error": n.Text, "kind": kind.String()}
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	c.JSON(statusFor(kind), body)
}

func listBooks(c *gin.Context) {
	p := pipelineFor(c)
	state := p.State()

	if v := c.Query("filter"); v != "" {
		f, err := view.ParseFilter(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state.Filter = f
	}
	if v, ok := c.GetQuery("search"); ok {
		state.Search = v
	}
	if v := c.Query("sort"); v != "" {
		field, err := view.ParseSortField(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state.SortField = field
	}
	if v := c.Query("direction"); v != "" {
		dir, err := view.ParseDirection(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state.Direction = dir
	}

	c.JSON(http.StatusOK, p.ProjectWith(state))
}

func getBook(c *gin.Context) {
	rec, ok := cache.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found."})
		return
	}
	lowStock, old := view.Flags(rec, time.Now())
	c.JSON(http.StatusOK, view.Item{BookRecord: rec, LowStock: lowStock, Old: old})
}

func createBook(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var in catalog.BookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, n, err := engine.CreateRecord(c.Request.Context(), user, in)
	if err != nil {
		respondFailure(c, n, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "message": n.Text})
}

func updateBook(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var in catalog.BookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	n, err := engine.UpdateRecord(c.Request.Context(), c.Param("id"), user, in)
	if err != nil {
		respondFailure(c, n, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": n.Text})
}

func borrowBook(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	n, err := engine.Borrow(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		respondFailure(c, n, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": n.Text})
}

func returnBook(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	n, err := engine.Return(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		respondFailure(c, n, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": n.Text})
}

// deleteBook only registers the request; the record is removed once the
// same user confirms it.
func deleteBook(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	bookID := c.Param("id")
	rec, found := cache.Get(bookID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found."})
		return
	}

	req := confirms.Enqueue(bookID, rec.Title, user)
	c.JSON(http.StatusAccepted, gin.H{
		"confirmationUid": req.ID,
		"bookId":          req.BookID,
		"title":           req.Title,
		"expiresAt":       req.ExpiresAt,
		"message":         catalog.DeletePrompt(rec.Title),
	})
}

func confirmationError(c *gin.Context, err error) {
	if errors.Is(err, confirm.ErrNotOwner) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
}

func listConfirmations(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, confirms.Pending(user))
}

func confirmAction(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	req, err := confirms.Take(c.Param("confirmationUid"), user)
	if err != nil {
		confirmationError(c, err)
		return
	}

	n, err := engine.DeleteRecord(c.Request.Context(), req.BookID, user)
	if err != nil {
		respondFailure(c, n, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": n.Text})
}

func cancelAction(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if err := confirms.Cancel(c.Param("confirmationUid"), user); err != nil {
		confirmationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": catalog.CancelledMessage})
}

func setFilter(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var body struct {
		Filter string `json:"filter" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter is required"})
		return
	}
	f, err := view.ParseFilter(body.Filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions.Get(user).SetFilter(f))
}

func setSearch(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var body struct {
		Search string `json:"search"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, sessions.Get(user).SetSearch(body.Search))
}

func toggleSort(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	field, err := view.ParseSortField(c.Param("field"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions.Get(user).ToggleSort(field))
}

func resetView(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessions.Get(user).Reset())
}

// streamBooks pushes a "snapshot" event with the caller's projection after
// every replica update or view change, and "notice" events for the caller's
// own operations.
func streamBooks(c *gin.Context) {
	ctx := c.Request.Context()
	user := c.GetHeader(userHeader)
	p, release := holdPipeline(c)
	defer release()

	updates := cache.Updates(ctx)
	changes := p.Changes(ctx)
	noticeCh := notices.Follow(ctx)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", p.Project())
		case _, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", p.Project())
		case n, ok := <-noticeCh:
			if !ok {
				return false
			}
			if user != "" && n.UserID == user {
				c.SSEvent("notice", n)
			}
		}
		return true
	})
}

func healthCheck(c *gin.Context) {
	details := gin.H{
		"records":              cache.Len(),
		"sessions":             sessions.Len(),
		"streams":              notices.Subscribers(),
		"pendingConfirmations": confirms.Size(),
	}

	if cache.Seq() == 0 {
		details["replica"] = "waiting for first snapshot"
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "details": details})
		return
	}
	if db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			details["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "details": details})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "details": details})
}

func metricsHandler(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(c.Writer, true)
}
