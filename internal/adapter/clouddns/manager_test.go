package clouddns

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// newTestManager points the manager at an httptest server standing in for
// the Cloudflare API.
func newTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := New("test-token", "zone-123")
	m.baseURL = srv.URL
	m.pollInterval = 5 * time.Millisecond
	return m
}

func writeList(t *testing.T, w http.ResponseWriter, records []Record) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(listResponse{Success: true, Result: records}); err != nil {
		t.Errorf("encoding list response: %v", err)
	}
}

func writeRecord(t *testing.T, w http.ResponseWriter, record Record) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(recordResponse{Success: true, Result: record}); err != nil {
		t.Errorf("encoding record response: %v", err)
	}
}

func TestUpsertRecord_CreatesWhenMissing(t *testing.T) {
	var created Record

	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		switch r.Method {
		case http.MethodGet:
			if got := r.URL.Query().Get("name"); got != "acme.example.com" {
				t.Errorf("list name = %q", got)
			}
			writeList(t, w, nil)
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decoding create body: %v", err)
			}
			created.ID = "rec-1"
			writeRecord(t, w, created)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	id, err := m.UpsertRecord(context.Background(), "acme.example.com", "203.0.113.10", "A")
	if err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}
	if id != "rec-1" {
		t.Errorf("record id = %q, want %q", id, "rec-1")
	}
	if created.Content != "203.0.113.10" || created.Type != "A" {
		t.Errorf("created record = %+v", created)
	}
}

func TestUpsertRecord_PatchesExisting(t *testing.T) {
	patched := false

	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeList(t, w, []Record{{ID: "rec-9", Type: "A", Name: "acme.example.com", Content: "198.51.100.1"}})
		case http.MethodPatch:
			if r.URL.Path != "/zones/zone-123/dns_records/rec-9" {
				t.Errorf("patch path = %q", r.URL.Path)
			}
			patched = true
			writeRecord(t, w, Record{ID: "rec-9"})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	id, err := m.UpsertRecord(context.Background(), "acme.example.com", "203.0.113.10", "A")
	if err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}
	if id != "rec-9" {
		t.Errorf("record id = %q, want %q", id, "rec-9")
	}
	if !patched {
		t.Error("existing record should be patched, not recreated")
	}
}

func TestAwaitPropagation_SucceedsWhenVisible(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRecord(t, w, Record{ID: "rec-1"})
	}))

	if err := m.AwaitPropagation(context.Background(), "rec-1", 5*time.Second); err != nil {
		t.Errorf("AwaitPropagation failed: %v", err)
	}
}

func TestAwaitPropagation_TimesOut(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeRecord(t, w, Record{})
	}))

	err := m.AwaitPropagation(context.Background(), "rec-1", 10*time.Millisecond)
	if !errors.Is(err, domain.ErrPropagationTimeout) {
		t.Errorf("expected ErrPropagationTimeout, got %v", err)
	}
}

func TestDeleteRecord_MatchingTarget(t *testing.T) {
	var deletedIDs []string

	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeList(t, w, []Record{
				{ID: "rec-1", Type: "A", Name: "acme.example.com", Content: "203.0.113.10"},
				{ID: "rec-2", Type: "A", Name: "acme.example.com", Content: "198.51.100.1"},
			})
		case http.MethodDelete:
			deletedIDs = append(deletedIDs, r.URL.Path)
			writeRecord(t, w, Record{})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	if err := m.DeleteRecord(context.Background(), "acme.example.com", "203.0.113.10", "A"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if len(deletedIDs) != 1 || deletedIDs[0] != "/zones/zone-123/dns_records/rec-1" {
		t.Errorf("deleted = %v, want only rec-1", deletedIDs)
	}
}

func TestDeleteRecord_EmptyTargetDeletesAll(t *testing.T) {
	deletes := 0

	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeList(t, w, []Record{
				{ID: "rec-1", Type: "A", Content: "203.0.113.10"},
				{ID: "rec-2", Type: "A", Content: "198.51.100.1"},
			})
		case http.MethodDelete:
			deletes++
			writeRecord(t, w, Record{})
		}
	}))

	if err := m.DeleteRecord(context.Background(), "acme.example.com", "", "A"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if deletes != 2 {
		t.Errorf("deletes = %d, want 2", deletes)
	}
}

func TestDeleteRecord_NothingMatched(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeList(t, w, nil)
	}))

	err := m.DeleteRecord(context.Background(), "gone.example.com", "", "A")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeList(t, w, []Record{
			{ID: "rec-1", Type: "A", Content: "203.0.113.10"},
		})
	}))

	contents, err := m.Resolve(context.Background(), "acme.example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(contents) != 1 || contents[0] != "203.0.113.10" {
		t.Errorf("contents = %v", contents)
	}
}

func TestResolve_NotFound(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeList(t, w, nil)
	}))

	_, err := m.Resolve(context.Background(), "gone.example.com")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
