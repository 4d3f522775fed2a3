// Package client talks to the catalog HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"libcatalog/pkg/catalog"
	"libcatalog/pkg/circuitbreaker"
	"libcatalog/pkg/confirm"
	"libcatalog/pkg/view"
)

const UserHeader = "X-User-Name"

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// countsAgainstBreaker keeps rejections such as 404 or 409 from opening the
// breaker; only transport errors and 5xx answers do.
func countsAgainstBreaker(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
	stream     *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func New(baseURL, user string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		httpClient: &http.Client{Timeout: timeout},
		stream:     &http.Client{},
		breaker: circuitbreaker.New(3, 10*time.Second,
			circuitbreaker.WithFailureFilter(countsAgainstBreaker)),
	}
}

func (c *Client) User() string { return c.user }

type ListQuery struct {
	Filter    string
	Search    string
	Sort      string
	Direction string
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Direction != "" {
		v.Set("direction", q.Direction)
	}
	return v
}

type messageResponse struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type DeleteRequest struct {
	confirm.Request
	Message string `json:"message"`
}

func (c *Client) List(ctx context.Context, q ListQuery) (*view.Projection, error) {
	path := "/api/v1/books"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var out view.Projection
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*view.Item, error) {
	var out view.Item
	if err := c.do(ctx, http.MethodGet, "/api/v1/books/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create adds a book and returns its id and the service message.
func (c *Client) Create(ctx context.Context, in catalog.BookInput) (string, string, error) {
	var out messageResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/books", in, &out); err != nil {
		return "", "", err
	}
	return out.ID, out.Message, nil
}

func (c *Client) Update(ctx context.Context, id string, in catalog.BookInput) (string, error) {
	return c.message(ctx, http.MethodPut, "/api/v1/books/"+url.PathEscape(id), in)
}

func (c *Client) Borrow(ctx context.Context, id string) (string, error) {
	return c.message(ctx, http.MethodPost, "/api/v1/books/"+url.PathEscape(id)+"/borrow", nil)
}

func (c *Client) Return(ctx context.Context, id string) (string, error) {
	return c.message(ctx, http.MethodPost, "/api/v1/books/"+url.PathEscape(id)+"/return", nil)
}

// RequestDelete asks for a delete and returns the pending confirmation.
func (c *Client) RequestDelete(ctx context.Context, id string) (*DeleteRequest, error) {
	var out DeleteRequest
	if err := c.do(ctx, http.MethodDelete, "/api/v1/books/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists the caller's confirmations that are still open.
func (c *Client) Pending(ctx context.Context) ([]confirm.Request, error) {
	var out []confirm.Request
	if err := c.do(ctx, http.MethodGet, "/api/v1/confirmations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Confirm(ctx context.Context, confirmationUID string) (string, error) {
	return c.message(ctx, http.MethodPost, "/api/v1/confirmations/"+url.PathEscape(confirmationUID), nil)
}

func (c *Client) Cancel(ctx context.Context, confirmationUID string) (string, error) {
	return c.message(ctx, http.MethodDelete, "/api/v1/confirmations/"+url.PathEscape(confirmationUID), nil)
}

func (c *Client) Summary(ctx context.Context) (view.Summary, error) {
	p, err := c.List(ctx, ListQuery{})
	if err != nil {
		return view.Summary{}, err
	}
	return p.Summary, nil
}

func (c *Client) message(ctx context.Context, method, path string, body interface{}) (string, error) {
	var out messageResponse
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(UserHeader, c.user)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.breaker.Execute(func() error {
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrapf(err, "%s %s", method, path)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return decodeError(resp)
		}
		if out == nil {
			return nil
		}
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
	}, nil)
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Kind: payload.Kind, Message: payload.Error}
}

// Watch streams the caller's projection and calls fn for every snapshot
// event until ctx is done, the stream ends or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(view.Projection) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/books/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	return readEvents(resp.Body, func(event, data string) error {
		if event != "snapshot" {
			return nil
		}
		var p view.Projection
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return errors.Wrap(err, "decode snapshot event")
		}
		return fn(p)
	})
}

// readEvents splits a text/event-stream body into events.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "read stream")
	}
	return nil
}
