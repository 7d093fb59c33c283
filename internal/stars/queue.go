package stars

import (
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

// mutationQueue is an insertion-ordered list of pending writes.
type mutationQueue []model.PendingMutation

func (q mutationQueue) clone() mutationQueue {
	out := make(mutationQueue, len(q))
	for i, m := range q {
		if m.NextAttemptAt != nil {
			t := *m.NextAttemptAt
			m.NextAttemptAt = &t
		}
		out[i] = m
	}
	return out
}

func (q mutationQueue) indexOf(id string) int {
	for i := range q {
		if q[i].ID == id {
			return i
		}
	}
	return -1
}

func (q mutationQueue) remove(i int) mutationQueue {
	return append(q[:i], q[i+1:]...)
}

func (q mutationQueue) hasKey(childID, dayDate string, area model.StarArea) bool {
	for _, m := range q {
		if m.ChildID == childID && m.DayDate == dayDate && m.StarAreaID == area {
			return true
		}
	}
	return false
}

func sameKey(a, b model.PendingMutation) bool {
	return a.ChildID == b.ChildID && a.DayDate == b.DayDate && a.StarAreaID == b.StarAreaID
}

// supersededBy reports whether the entry at j replaces the entry at i. Each
// entry carries the bucket's absolute value, so the newer one wins; writes
// sharing a timestamp were queued in order.
func (q mutationQueue) supersededBy(i, j int) bool {
	if i == j || !sameKey(q[i], q[j]) {
		return false
	}
	if q[j].UpdatedAt.After(q[i].UpdatedAt) {
		return true
	}
	return q[j].UpdatedAt.Equal(q[i].UpdatedAt) && j > i
}

// dropSuperseded removes queued writes for the key that are older than a
// remote value just applied locally; pushing them would overwrite it.
func (q mutationQueue) dropSuperseded(childID, dayDate string, area model.StarArea, remoteAt time.Time) mutationQueue {
	out := q[:0]
	for _, m := range q {
		if m.ChildID == childID && m.DayDate == dayDate && m.StarAreaID == area && m.UpdatedAt.Before(remoteAt) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// enqueue appends an upsert of the entry's current value.
func (e *Engine) enqueue(tx *txn, childID, dayDate string, area model.StarArea, entry model.DailyAreaEntry) {
	tx.queue = append(tx.queue, model.PendingMutation{
		ID:         e.newID(),
		Type:       model.MutationUpsertDailyStars,
		ChildID:    childID,
		DayDate:    dayDate,
		StarAreaID: area,
		Stars:      entry.Stars,
		Reason:     entry.Reason,
		UpdatedAt:  entry.UpdatedAt,
		QueuedAt:   e.now(),
		RetryCount: 0,
	})
}

// PendingCount returns the number of writes waiting for the remote store.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// PendingMutations returns a copy of the queue in insertion order.
func (e *Engine) PendingMutations() []model.PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.clone()
}

// DeadLetters returns mutations that exhausted their retries.
func (e *Engine) DeadLetters() []model.PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead.clone()
}

// DueMutations returns the queued mutations whose backoff has elapsed at now,
// in queue order.
func (e *Engine) DueMutations(now time.Time) []model.PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var due []model.PendingMutation
	for _, m := range e.queue.clone() {
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	return due
}

// AckMutation removes an acknowledged mutation along with every queued write
// for the same key it replaces, and returns how many entries left the queue.
// It returns 0 when the mutation is no longer queued, so concurrent
// acknowledgements of the same entry are counted once.
func (e *Engine) AckMutation(id string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.indexOf(id) < 0 {
		return 0, nil
	}
	cleared := 0
	err := e.mutate(func(tx *txn) error {
		i := tx.queue.indexOf(id)
		kept := make(mutationQueue, 0, len(tx.queue))
		for k := range tx.queue {
			if k == i || tx.queue.supersededBy(k, i) {
				cleared++
				continue
			}
			kept = append(kept, tx.queue[k])
		}
		tx.queue = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// Superseded reports whether a mutation no longer needs pushing: it has left
// the queue, or a later write to the same key is queued behind it.
func (e *Engine) Superseded(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.queue.indexOf(id)
	if i < 0 {
		return true
	}
	for j := range e.queue {
		if e.queue.supersededBy(i, j) {
			return true
		}
	}
	return false
}

// FailMutation records a failed push attempt. The entry keeps its position.
// Once maxRetries attempts have failed (maxRetries > 0) it moves to the dead
// letter list and deadLettered is true.
func (e *Engine) FailMutation(id string, cause error, nextAttempt time.Time, maxRetries int) (deadLettered bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.indexOf(id) < 0 {
		return false, nil
	}
	err = e.mutate(func(tx *txn) error {
		i := tx.queue.indexOf(id)
		m := &tx.queue[i]
		m.RetryCount++
		if cause != nil {
			m.LastError = cause.Error()
		}
		next := nextAttempt.UTC()
		m.NextAttemptAt = &next

		if maxRetries > 0 && m.RetryCount >= maxRetries {
			tx.dead = append(tx.dead, *m)
			tx.queue = tx.queue.remove(i)
			deadLettered = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deadLettered, nil
}

// RequeueDeadLetters moves dead-lettered mutations back onto the queue with
// their retry bookkeeping reset and returns how many were requeued. Letters
// for a key that already has an equal or newer queued write are discarded.
func (e *Engine) RequeueDeadLetters() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.dead) == 0 {
		return 0, nil
	}
	n := 0
	err := e.mutate(func(tx *txn) error {
		queued := len(tx.queue)
		for _, m := range tx.dead {
			if hasNotOlder(tx.queue[:queued], m) {
				continue
			}
			m.RetryCount = 0
			m.NextAttemptAt = nil
			m.LastError = ""
			tx.queue = append(tx.queue, m)
			n++
		}
		tx.dead = mutationQueue{}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func hasNotOlder(q mutationQueue, m model.PendingMutation) bool {
	for _, o := range q {
		if sameKey(o, m) && !o.UpdatedAt.Before(m.UpdatedAt) {
			return true
		}
	}
	return false
}
