// Package syncer reconciles the local star engine with the remote store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/stars"
)

// ErrRemoteUnavailable wraps every failure talking to the remote store.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// Remote is the hosted daily_stars table.
type Remote interface {
	FetchDailyStars(ctx context.Context, childID string) ([]model.DailyStarRow, error)
	UpsertDailyStars(ctx context.Context, row model.DailyStarRow) error
}

// Config holds coordinator configuration.
type Config struct {
	// MaxRetries moves a mutation to the dead letter list after that many
	// failed pushes. Zero retries forever.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// FetchConcurrency bounds parallel per-child fetches during a full sync.
	FetchConcurrency int
	Logger           *slog.Logger
	Now              func() time.Time
}

// FlushResult reports one pass over the pending queue.
type FlushResult struct {
	Success bool `json:"success"`
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Dropped int  `json:"dropped"`
}

// SyncResult reports a full reconciliation.
type SyncResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Applied  int    `json:"applied"`
	Enqueued int    `json:"enqueued"`
	Pushed   int    `json:"pushed"`
}

// Coordinator flushes queued mutations and runs full syncs. Concurrent calls
// of either operation are serialized.
type Coordinator struct {
	engine *stars.Engine
	remote Remote
	cfg    Config
	logger *slog.Logger

	flushMu sync.Mutex
	syncMu  sync.Mutex

	mu        sync.RWMutex
	lastError string
	syncing   bool
}

func New(engine *stars.Engine, remote Remote, cfg Config) *Coordinator {
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		engine: engine,
		remote: remote,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// backoff returns the wait before the given retry attempt (1-based).
func (c *Coordinator) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.BaseBackoff))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

func (c *Coordinator) setError(err error) {
	c.mu.Lock()
	if err == nil {
		c.lastError = ""
	} else {
		c.lastError = err.Error()
	}
	c.mu.Unlock()
}

// FlushPendingQueue pushes every queued mutation whose backoff has elapsed.
// Acknowledged entries leave the queue; failed ones stay in place with their
// retry count bumped.
func (c *Coordinator) FlushPendingQueue(ctx context.Context) FlushResult {
	return c.flush(ctx, false)
}

func (c *Coordinator) flush(ctx context.Context, force bool) FlushResult {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	now := c.cfg.Now()
	var batch []model.PendingMutation
	if force {
		batch = c.engine.PendingMutations()
	} else {
		batch = c.engine.DueMutations(now)
	}
	if len(batch) == 0 {
		return FlushResult{Success: true}
	}

	var res FlushResult
	var lastErr error
	for _, m := range batch {
		if ctx.Err() != nil {
			res.Failed++
			lastErr = ctx.Err()
			continue
		}

		// A later write to the same key carries the newer value; acking it
		// clears this one.
		if c.engine.Superseded(m.ID) {
			continue
		}

		if err := c.remote.UpsertDailyStars(ctx, m.Row()); err != nil {
			lastErr = fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
			next := now.Add(c.backoff(m.RetryCount + 1))
			dead, ferr := c.engine.FailMutation(m.ID, err, next, c.cfg.MaxRetries)
			if ferr != nil {
				c.logger.Error("record failed mutation", "id", m.ID, "error", ferr)
			}
			if dead {
				res.Dropped++
				c.logger.Warn("mutation exceeded retry limit",
					"id", m.ID, "child_id", m.ChildID, "day", m.DayDate, "area", m.StarAreaID, "retries", m.RetryCount+1)
			} else {
				res.Failed++
				c.logger.Warn("push mutation failed", "id", m.ID, "retry", m.RetryCount+1, "next_attempt", next, "error", err)
			}
			continue
		}

		cleared, err := c.engine.AckMutation(m.ID)
		if err != nil {
			lastErr = err
			res.Failed++
			c.logger.Error("dequeue acknowledged mutation", "id", m.ID, "error", err)
			continue
		}
		res.Synced += cleared
	}

	res.Success = res.Failed == 0 && res.Dropped == 0
	if !force {
		c.setError(lastErr)
	}
	if res.Synced > 0 || !res.Success {
		c.logger.Info("flushed pending queue", "synced", res.Synced, "failed", res.Failed, "dropped", res.Dropped)
	}
	return res
}

// PerformFullSync fetches every child's remote rows, merges them into the
// cache by last-writer-wins, recomputes totals, queues local-only entries and
// pushes the whole queue. lastSyncedAt only moves when every step succeeded.
// An empty childIDs syncs every child the engine knows.
func (c *Coordinator) PerformFullSync(ctx context.Context, childIDs []string) (SyncResult, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	if len(childIDs) == 0 {
		childIDs = c.engine.Children()
	}

	res, err := c.fullSync(ctx, childIDs)
	c.setError(err)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		c.logger.Warn("full sync failed", "children", len(childIDs), "error", err)
		return res, err
	}
	res.Success = true
	c.logger.Info("full sync complete", "children", len(childIDs), "applied", res.Applied, "enqueued", res.Enqueued, "pushed", res.Pushed)
	return res, nil
}

func (c *Coordinator) fullSync(ctx context.Context, childIDs []string) (SyncResult, error) {
	var res SyncResult

	remote, err := c.fetchAll(ctx, childIDs)
	if err != nil {
		return res, err
	}

	merged, err := c.engine.ReconcileRemote(remote)
	if err != nil {
		return res, fmt.Errorf("merge remote rows: %w", err)
	}
	res.Applied = merged.Applied
	res.Enqueued = merged.Enqueued

	flushed := c.flush(ctx, true)
	res.Pushed = flushed.Synced
	if !flushed.Success {
		return res, fmt.Errorf("%w: %d mutations not pushed", ErrRemoteUnavailable, flushed.Failed+flushed.Dropped)
	}

	if err := c.engine.MarkSynced(c.cfg.Now()); err != nil {
		return res, fmt.Errorf("mark synced: %w", err)
	}
	return res, nil
}

// fetchAll loads every child's rows. Nothing is merged unless all fetches
// succeed.
func (c *Coordinator) fetchAll(ctx context.Context, childIDs []string) (map[string][]model.DailyStarRow, error) {
	var mu sync.Mutex
	remote := make(map[string][]model.DailyStarRow, len(childIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for _, id := range childIDs {
		g.Go(func() error {
			rows, err := c.remote.FetchDailyStars(gctx, id)
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %w", ErrRemoteUnavailable, id, err)
			}
			mu.Lock()
			remote[id] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return remote, nil
}

// Status summarizes queue and sync state for offline indicators.
func (c *Coordinator) Status() model.SyncStatus {
	c.mu.RLock()
	lastError := c.lastError
	syncing := c.syncing
	c.mu.RUnlock()

	return model.SyncStatus{
		Pending:      c.engine.PendingCount(),
		DeadLetters:  len(c.engine.DeadLetters()),
		LastSyncedAt: c.engine.LastSyncedAt(),
		LastError:    lastError,
		Syncing:      syncing,
	}
}
