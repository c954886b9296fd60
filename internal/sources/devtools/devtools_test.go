package devtools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/retry"
)

const targetList = `[
  {"id": "A1", "type": "page", "title": "Docs", "url": "https://example.com/docs", "description": ""},
  {"id": "W1", "type": "service_worker", "title": "sw", "url": "https://example.com/sw.js"},
  {"id": "A2", "type": "page", "title": "Docs", "url": "https://example.com/docs#intro", "faviconUrl": "https://example.com/favicon.ico"}
]`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(2*time.Second, srv.URL+"/")
	c.retry = retry.Config{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: time.Millisecond}
	return c
}

func TestClient_ListPages(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, targetList)
	}))

	got, err := c.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d resources, want 2", len(got))
	}
	if got[0].ID != "A1" || got[1].ID != "A2" {
		t.Fatalf("List() ids = %s,%s, want A1,A2", got[0].ID, got[1].ID)
	}
	if got[1].Location != "https://example.com/docs#intro" || got[1].Title != "Docs" {
		t.Fatalf("unexpected resource %+v", got[1])
	}
	if got[1].Attributes["favicon_url"] == "" {
		t.Fatalf("expected favicon attribute")
	}
}

func TestClient_ListScopeSelectsType(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, targetList)
	}))

	got, err := c.List(context.Background(), "service_worker")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "W1" {
		t.Fatalf("List() = %+v, want W1 only", got)
	}
}

func TestClient_ListRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, targetList)
	}))

	if _, err := c.List(context.Background(), ""); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClient_ListBadJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	if _, err := c.List(context.Background(), ""); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestClient_Remove(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/close/A1":
			fmt.Fprint(w, "Target is closing")
		case "/json/close/GONE":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "No such target id: GONE")
		case "/json/close/LOCKED":
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "forbidden")
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		}
	}))

	tests := []struct {
		id      string
		wantErr error
		anyErr  bool
	}{
		{id: "A1"},
		{id: "GONE", wantErr: core.ErrNotFound},
		{id: "LOCKED", wantErr: core.ErrPermissionDenied},
		{id: "OTHER", anyErr: true},
	}
	for _, tt := range tests {
		err := c.Remove(context.Background(), tt.id)
		switch {
		case tt.wantErr != nil:
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Remove(%s) error = %v, want %v", tt.id, err, tt.wantErr)
			}
		case tt.anyErr:
			if err == nil || errors.Is(err, core.ErrNotFound) {
				t.Fatalf("Remove(%s) error = %v, want a plain failure", tt.id, err)
			}
		default:
			if err != nil {
				t.Fatalf("Remove(%s) error = %v", tt.id, err)
			}
		}
	}
}

func TestClient_RemoveRequiresID(t *testing.T) {
	t.Parallel()

	c := NewClient(time.Second, "")
	if err := c.Remove(context.Background(), " "); err == nil {
		t.Fatalf("expected error")
	}
}
