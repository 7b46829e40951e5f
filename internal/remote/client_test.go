package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// TestClient_UpsertEntry tests the write path and the server-stamped reply
func TestClient_UpsertEntry(t *testing.T) {
	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/owners/owner-1/transactions" {
			t.Errorf("path = %s, want /v1/owners/owner-1/transactions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("Authorization = %q, want 'Bearer key-1'", got)
		}

		var doc entryDoc
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		// The server stamps the authoritative timestamps.
		doc.CreatedAt = now.UnixMilli()
		doc.UpdatedAt = now.UnixMilli()
		json.NewEncoder(w).Encode(doc)
	}))
	defer server.Close()

	c := NewClient(server.URL, "key-1", nil)
	stored, err := c.UpsertEntry(context.Background(), "owner-1", model.LedgerEntry{
		ID:         "e-1",
		Amount:     decimal.NewFromInt(100),
		Kind:       model.KindExpense,
		OccurredAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if stored.ID != "e-1" {
		t.Errorf("ID = %q, want 'e-1'", stored.ID)
	}
	if !stored.UpdatedAt.Equal(time.UnixMilli(now.UnixMilli()).UTC()) {
		t.Errorf("UpdatedAt = %v, want server-stamped %v", stored.UpdatedAt, now)
	}
}

// TestClient_ErrorMapping tests the transient/terminal error split
func TestClient_ErrorMapping(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", nil)
	ctx := context.Background()

	status = http.StatusNotFound
	if _, err := c.Profile(ctx, "owner-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404 error = %v, want ErrNotFound", err)
	}

	status = http.StatusInternalServerError
	if _, err := c.Profile(ctx, "owner-1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("500 error = %v, want ErrUnavailable", err)
	}

	status = http.StatusBadRequest
	_, err := c.Profile(ctx, "owner-1")
	if err == nil {
		t.Error("400 returned nil error")
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		t.Errorf("400 error = %v, want a terminal error", err)
	}
}

// TestClient_Unreachable tests that transport failures read as unavailable
func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", nil)
	if _, err := c.Profile(context.Background(), "owner-1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("connection failure error = %v, want ErrUnavailable", err)
	}
}

// TestDocConversion_RoundTrip tests the wire translation both ways
func TestDocConversion_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := model.LedgerEntry{
		ID:         "e-1",
		Amount:     decimal.RequireFromString("99.95"),
		Kind:       model.KindIncome,
		CategoryID: "cat-1",
		OccurredAt: now.Truncate(time.Second),
		Note:       "bonus",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	got, err := docToEntry(entryToDoc(entry))
	if err != nil {
		t.Fatalf("docToEntry() failed: %v", err)
	}
	if !got.Amount.Equal(entry.Amount) {
		t.Errorf("Amount = %s, want %s", got.Amount, entry.Amount)
	}
	if !got.OccurredAt.Equal(entry.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", got.OccurredAt, entry.OccurredAt)
	}
	if !got.UpdatedAt.Equal(entry.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, entry.UpdatedAt)
	}
}

// TestFromMillis_Sentinel tests the pre-commit timestamp normalization
func TestFromMillis_Sentinel(t *testing.T) {
	before := time.Now().UTC()
	got := fromMillis(0)
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Errorf("fromMillis(0) = %v, want a current timestamp", got)
	}

	fixed := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	if got := fromMillis(fixed.UnixMilli()); !got.Equal(fixed) {
		t.Errorf("fromMillis() = %v, want %v", got, fixed)
	}
}
