package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldworks/fieldsync/internal/entity"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{
		BaseURL:   srv.URL,
		AuthToken: "test-token",
		Timeout:   2 * time.Second,
		Retry:     fastRetry(3),
	}), srv
}

func TestPing(t *testing.T) {
	var path, auth string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if path != "/api/health" {
		t.Errorf("path = %q, want /api/health", path)
	}
	if auth != "Bearer test-token" {
		t.Errorf("auth header = %q", auth)
	}
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	client := NewClient(ClientConfig{BaseURL: srv.URL, Retry: fastRetry(1)})
	err := client.Ping(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/work_orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("status query = %q, want open", got)
		}
		json.NewEncoder(w).Encode([]entity.Fields{
			{"id": "wo-1", "status": "open"},
			{"id": "wo-2", "status": "open"},
		})
	}))

	rows, err := client.Select(context.Background(), entity.TableWorkOrders, map[string]string{"status": "open"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ID() != "wo-1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestInsert(t *testing.T) {
	var method, path string
	var body entity.Fields
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.Insert(context.Background(), entity.TableCrews, entity.Fields{"id": "c-1", "name": "North"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if method != http.MethodPost || path != "/api/crews" {
		t.Errorf("request = %s %s, want POST /api/crews", method, path)
	}
	if body["name"] != "North" {
		t.Errorf("body = %v", body)
	}
}

func TestUpdate(t *testing.T) {
	var method, path string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	err := client.Update(context.Background(), entity.TableWorkOrders, "wo-1", entity.Fields{"status": "done"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if method != http.MethodPatch || path != "/api/work_orders/wo-1" {
		t.Errorf("request = %s %s, want PATCH /api/work_orders/wo-1", method, path)
	}
}

func TestUpsert(t *testing.T) {
	var method, path string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	err := client.Upsert(context.Background(), entity.TableWorkOrders, entity.Fields{"id": "wo-1", "status": "done"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if method != http.MethodPut || path != "/api/work_orders/wo-1" {
		t.Errorf("request = %s %s, want PUT /api/work_orders/wo-1", method, path)
	}
}

func TestUpsertRejectsMissingID(t *testing.T) {
	client, _ := testClient(t, http.NotFoundHandler())
	err := client.Upsert(context.Background(), entity.TableWorkOrders, entity.Fields{"status": "done"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for a record without id, got %v", err)
	}
}

func TestVisibleRows(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync/work_orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("operator"); got != "op-7" {
			t.Errorf("operator query = %q, want op-7", got)
		}
		json.NewEncoder(w).Encode([]entity.Fields{{"id": "wo-1"}})
	}))

	rows, err := client.VisibleRows(context.Background(), entity.TableWorkOrders, "op-7")
	if err != nil {
		t.Fatalf("VisibleRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID() != "wo-1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  error
		wantCode int
	}{
		{"bad request is a rejection", http.StatusBadRequest, ErrRejected, 400},
		{"conflict is a rejection", http.StatusConflict, ErrRejected, 409},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, 401},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, 403},
		{"server error is transient", http.StatusInternalServerError, ErrUnreachable, 500},
		{"bad gateway is transient", http.StatusBadGateway, ErrUnreachable, 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			}))
			// One attempt only, so transient statuses fail fast here.
			client.cfg.Retry = fastRetry(1)

			err := client.Insert(context.Background(), entity.TableCrews, entity.Fields{"id": "c-1"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}

			var re *RemoteError
			if !errors.As(err, &re) {
				t.Fatalf("error %v is not a RemoteError", err)
			}
			if re.Status != tt.wantCode {
				t.Errorf("status = %d, want %d", re.Status, tt.wantCode)
			}
			if re.Detail != "nope" {
				t.Errorf("detail = %q, want the server message", re.Detail)
			}
		})
	}
}

func TestTransientStatusIsRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := client.Insert(context.Background(), entity.TableCrews, entity.Fields{"id": "c-1"})
	if err != nil {
		t.Fatalf("Insert failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	err := client.Insert(context.Background(), entity.TableCrews, entity.Fields{"id": "c-1"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSetAuthToken(t *testing.T) {
	var auth string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))

	client.SetAuthToken("rotated")
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if auth != "Bearer rotated" {
		t.Errorf("auth header = %q, want the rotated token", auth)
	}
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	var hasAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{BaseURL: srv.URL, Retry: fastRetry(1)})
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if hasAuth {
		t.Error("no Authorization header expected without a token")
	}
}
