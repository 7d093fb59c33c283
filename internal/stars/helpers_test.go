package stars

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/day"
)

// memStorage is an in-memory Storage with injectable write failures.
type memStorage struct {
	mu      sync.Mutex
	data    map[string]string
	failSet error
	writes  int
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]string)}
}

func (m *memStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStorage) SetMany(pairs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	for k, v := range pairs {
		m.data[k] = v
	}
	m.writes++
	return nil
}

var errDiskFull = errors.New("disk full")

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// 2024-01-15 is a Monday.
var testNow = time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, children ...string) (*Engine, *memStorage, *testClock) {
	t.Helper()
	storage := newMemStorage()
	clock := &testClock{now: testNow}
	e := openTestEngine(t, storage, clock, children...)
	return e, storage, clock
}

func openTestEngine(t *testing.T, storage Storage, clock *testClock, children ...string) *Engine {
	t.Helper()
	seq := 0
	e, err := Open(storage, Config{
		Children: children,
		Calendar: day.NewWithClock(time.UTC, clock.Now),
		Logger:   quietLogger(),
		NewID: func() string {
			seq++
			return fmt.Sprintf("m-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}
