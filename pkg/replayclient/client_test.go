package replayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing BaseURL")
	}
}

func TestReplayPartitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/replay/partitions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Cursors map[int32]int64 `json:"cursors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Cursors[0] != 10 {
			t.Errorf("cursor = %d, want 10", req.Cursors[0])
		}
		json.NewEncoder(w).Encode(PartitionReplay{
			Messages: []Message{{Data: []byte("m"), Partition: 0, Offset: 13}},
			Gaps:     map[int32]int64{0: 2},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := c.ReplayPartitions(context.Background(), map[int32]int64{0: 10})
	if err != nil {
		t.Fatalf("ReplayPartitions failed: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Offset != 13 {
		t.Fatalf("unexpected messages %v", res.Messages)
	}
	if res.Gaps[0] != 2 {
		t.Fatalf("gap = %d, want 2", res.Gaps[0])
	}
}

func TestReplayThreads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ThreadReplay{
			Messages: []Message{{Data: []byte("m"), Partition: 1, Offset: 4}},
			Gaps:     map[string]uint64{"order-1": 1},
		})
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	res, err := c.ReplayThreads(context.Background(), map[string]uint64{"order-1": 2})
	if err != nil {
		t.Fatalf("ReplayThreads failed: %v", err)
	}
	if res.Gaps["order-1"] != 1 {
		t.Fatalf("gap = %d, want 1", res.Gaps["order-1"])
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "partition not buffered"})
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	_, err := c.KnownPartitions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if !IsNotFound(err) {
		t.Fatal("IsNotFound(404 error) = false")
	}
	if apiErr.Message != "partition not buffered" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"durable_deleted": 42})
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	n, err := c.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 42 {
		t.Fatalf("deleted = %d, want 42", n)
	}
}
