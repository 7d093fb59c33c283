// Package realtime applies the remote change feed to the local star cache.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/stars"
)

// ErrMalformedNotification marks a feed message that could not be applied
// because its shape was wrong.
var ErrMalformedNotification = errors.New("malformed notification")

const upsertedType = "daily_star_upserted"

// Applier applies one remote row by last-writer-wins.
type Applier interface {
	ApplyRemote(row model.DailyStarRow) (bool, error)
}

// Config holds listener configuration.
type Config struct {
	// URL is the websocket feed endpoint, e.g. ws://hub:8090/ws.
	URL        string
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
	// OnConnect runs after every successful (re)connect. Changes broadcast
	// while disconnected are lost, so callers typically request a full sync.
	OnConnect func()
}

// Stats counts what the listener has done since start.
type Stats struct {
	Applied    int  `json:"applied"`
	Stale      int  `json:"stale"`
	Dropped    int  `json:"dropped"`
	Reconnects int  `json:"reconnects"`
	Connected  bool `json:"connected"`
}

// Listener subscribes to the change feed and reconnects with backoff.
type Listener struct {
	applier Applier
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc
	done   chan struct{}
}

func New(applier Applier, cfg Config) *Listener {
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Listener{
		applier: applier,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// FeedURL derives the websocket feed URL from a starhub base URL.
func FeedURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported remote url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Start runs the listener in the background until Stop or ctx is done.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		l.Run(ctx)
	}()
}

// Stop halts the listener and waits for it to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Run connects, applies notifications and reconnects until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	b := l.newBackoff()
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b = l.newBackoff()
		}

		wait, _ := b.Next()
		l.logger.Warn("change feed disconnected", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()
	}
}

func (l *Listener) newBackoff() retry.Backoff {
	b := retry.NewExponential(l.cfg.MinBackoff)
	b = retry.WithCappedDuration(l.cfg.MaxBackoff, b)
	return retry.WithJitterPercent(10, b)
}

// session holds one connection open. connected reports whether the dial
// succeeded.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	opts := &ws.DialOptions{}
	if l.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + l.cfg.Token}}
	}

	conn, _, err := ws.Dial(ctx, l.cfg.URL, opts)
	if err != nil {
		return false, fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.CloseNow()

	l.setConnected(true)
	defer l.setConnected(false)
	l.logger.Info("change feed connected", "url", l.cfg.URL)
	if l.cfg.OnConnect != nil {
		l.cfg.OnConnect()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if err := l.handleMessage(data); err != nil {
			l.mu.Lock()
			l.stats.Dropped++
			l.mu.Unlock()
			l.logger.Warn("dropped change notification", "error", err)
		}
	}
}

func (l *Listener) setConnected(v bool) {
	l.mu.Lock()
	l.stats.Connected = v
	l.mu.Unlock()
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleMessage applies one feed message. Messages of other types are
// ignored.
func (l *Listener) handleMessage(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if env.Type != upsertedType {
		l.logger.Debug("ignoring feed message", "type", env.Type)
		return nil
	}

	var n model.StarNotification
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if n.ChildID == "" || n.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: missing childId or updatedAt", ErrMalformedNotification)
	}

	applied, err := l.applier.ApplyRemote(n.Row())
	if err != nil {
		if errors.Is(err, stars.ErrUnknownArea) || errors.Is(err, stars.ErrInvalidDay) {
			return fmt.Errorf("%w: %w", ErrMalformedNotification, err)
		}
		return fmt.Errorf("apply notification: %w", err)
	}

	l.mu.Lock()
	if applied {
		l.stats.Applied++
	} else {
		l.stats.Stale++
	}
	l.mu.Unlock()

	if applied {
		l.logger.Debug("applied remote change",
			"child_id", n.ChildID, "day", n.DayDate, "area", n.StarAreaID, "stars", n.Stars)
	}
	return nil
}

// Stats returns a copy of the listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
