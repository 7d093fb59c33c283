package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

func TestFetchDailyStars(t *testing.T) {
	at := time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/daily-stars" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("child_id"); got != "bria" {
			t.Errorf("child_id = %q, want %q", got, "bria")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]model.DailyStarRow{
			{ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaMorning, Stars: 2, UpdatedAt: at},
		})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/", Token: "secret"})
	rows, err := c.FetchDailyStars(context.Background(), "bria")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Stars != 2 || !rows[0].UpdatedAt.Equal(at) {
		t.Errorf("row = %+v", rows[0])
	}
	if c.Offline() {
		t.Error("expected online after successful fetch")
	}
	if c.LastContact().IsZero() {
		t.Error("expected last contact to be recorded")
	}
}

func TestFetchDailyStarsNullBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer server.Close()

	rows, err := NewClient(Config{BaseURL: server.URL}).FetchDailyStars(context.Background(), "bria")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %v, want empty slice", rows)
	}
}

func TestUpsertDailyStars(t *testing.T) {
	var got model.DailyStarRow
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	row := model.DailyStarRow{ChildID: "naya", DayDate: "2024-01-15", StarAreaID: model.AreaChores, Stars: 4, Reason: "dishes", UpdatedAt: time.Now().UTC()}
	if err := NewClient(Config{BaseURL: server.URL}).UpsertDailyStars(context.Background(), row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got.ChildID != "naya" || got.Stars != 4 || got.StarAreaID != model.AreaChores {
		t.Errorf("server received %+v", got)
	}
}

func TestNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	if err := c.UpsertDailyStars(context.Background(), model.DailyStarRow{ChildID: "bria"}); err == nil {
		t.Fatal("expected error for 500")
	}
	if !c.Offline() {
		t.Error("expected offline after failed request")
	}
}

func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})
	if _, err := c.FetchDailyStars(context.Background(), "bria"); err == nil {
		t.Fatal("expected error for closed server")
	}
	if !c.Offline() {
		t.Error("expected offline")
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.FetchDailyStars(context.Background(), "bria"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if err := c.UpsertDailyStars(context.Background(), model.DailyStarRow{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
