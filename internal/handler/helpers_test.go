package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/stars"
	"github.com/dukerupert/starchart/internal/store"
)

// testNow is a Monday.
var testNow = time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, children ...string) *stars.Engine {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e, err := stars.Open(store.NewKVStore(db), stars.Config{
		Children: children,
		Calendar: day.NewWithClock(time.UTC, func() time.Time { return testNow }),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}
