// Package tracker keeps the authoritative in-memory list of jobs the
// user is waiting on. It merges three sources of truth (live push
// events, the durable cache, the backend pending-workflows query)
// under a strict precedence policy: the cache wins at startup, the
// backend may only grow the list, and live events may only seed it
// when nothing else has.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/cache"
	"github.com/makereels/sync/internal/client"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/normalize"
)

// State is where the current job list came from. It replaces the
// restored/synced boolean pair with one explicit machine:
//
//	Uninitialized -> RestoredFromCache   fresh non-empty snapshot at startup
//	Uninitialized -> SyncedWithBackend   reconciliation replaced the list
//	RestoredFromCache -> SyncedWithBackend   backend reported more jobs
//	any -> Live                          list drained to empty
//
// Live is the only state in which a push "processing" event is allowed
// to seed a new job.
type State int

const (
	StateUninitialized State = iota
	StateRestoredFromCache
	StateSyncedWithBackend
	StateLive
)

func (s State) String() string {
	switch s {
	case StateRestoredFromCache:
		return "restored-from-cache"
	case StateSyncedWithBackend:
		return "synced-with-backend"
	case StateLive:
		return "live"
	default:
		return "uninitialized"
	}
}

// ChangeHandler observes every change of the job list
type ChangeHandler func(jobs []model.ProcessingJob)

// Tracker is safe for concurrent use. Construct one per user session;
// it must never be shared across users.
type Tracker struct {
	mu       sync.Mutex
	store    cache.Store
	lister   client.WorkflowLister
	horizon  time.Duration
	log      *logrus.Entry
	onChange ChangeHandler

	jobs    []model.ProcessingJob
	state   State
	synced  bool // backend reconciliation done for the current connection
	syncing bool // reconciliation query currently in flight
}

func New(store cache.Store, lister client.WorkflowLister, horizon time.Duration, log *logrus.Entry) *Tracker {
	if horizon <= 0 {
		horizon = 20 * time.Minute
	}
	return &Tracker{
		store:   store,
		lister:  lister,
		horizon: horizon,
		log:     log,
	}
}

// SetOnChange registers the single change observer. Must be called
// before the tracker starts receiving events.
func (t *Tracker) SetOnChange(h ChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = h
}

// RestoreFromCache adopts the durable snapshot verbatim when it is
// present, non-empty and younger than the staleness horizon. Anything
// else is deleted and treated as absent. Runs once, before any event
// can arrive.
func (t *Tracker) RestoreFromCache(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, err := t.store.Load(ctx)
	if err != nil {
		t.log.WithError(err).Warn("Failed to load job snapshot")
		return
	}
	if snap == nil || len(snap.Jobs) == 0 {
		_ = t.store.Delete(ctx)
		return
	}
	if time.Since(snap.SavedAt) > t.horizon {
		t.log.WithField("age", time.Since(snap.SavedAt).String()).Info("Discarding stale job snapshot")
		_ = t.store.Delete(ctx)
		return
	}

	t.jobs = snap.Jobs
	t.state = StateRestoredFromCache
	// No write-back here: persisting what was just read is a self-overwrite
	t.notifyLocked()
}

// NewConnection re-arms backend reconciliation. Called on every
// connection-established event so a reconnect fetches again.
func (t *Tracker) NewConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.synced = false
}

// ReconcileBackend runs the pending-workflows query at most once per
// connection. The backend result only ever grows the list: when it
// reports more in-flight workflows than are known locally, the local
// list is replaced with jobs synthesized from the backend rows; a
// smaller count is ignored because the cache may be ahead of a lagging
// query.
func (t *Tracker) ReconcileBackend(ctx context.Context, userID string) error {
	t.mu.Lock()
	if t.synced || t.syncing {
		t.mu.Unlock()
		return nil
	}
	t.syncing = true
	t.mu.Unlock()

	workflows, err := t.lister.ListPending(ctx, userID)
	if err != nil {
		// Leave synced unset so the next connection retries
		t.mu.Lock()
		t.syncing = false
		t.mu.Unlock()
		t.log.WithError(err).Warn("Pending-workflows reconciliation failed")
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncing = false
	t.synced = true
	if len(workflows) == 0 || len(workflows) <= len(t.jobs) {
		return nil
	}

	jobs := make([]model.ProcessingJob, 0, len(workflows))
	for i, wf := range workflows {
		title := wf.Title
		if title == "" {
			title = fmt.Sprintf("Video %d", i+1)
		}
		id := wf.ExecutionID
		if id == "" {
			id = wf.ID
		}
		jobs = append(jobs, model.ProcessingJob{
			ID:        id,
			Title:     title,
			Status:    model.JobStatusProcessing,
			Timestamp: wf.CreatedAt,
			Message:   "Processing your video...",
		})
	}

	t.log.WithFields(logrus.Fields{
		"known":   len(t.jobs),
		"backend": len(workflows),
	}).Info("Adopting backend job list")
	t.jobs = jobs
	t.state = StateSyncedWithBackend
	t.persistLocked(ctx)
	t.notifyLocked()
	return nil
}

// Add appends a job unconditionally. Consuming screens call this just
// before submitting a generation request.
func (t *Tracker) Add(ctx context.Context, job model.ProcessingJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(ctx, job)
}

// RemoveOldest drops the job at the head of the list (FIFO). A no-op
// on an empty list. Draining the list re-arms live-event seeding.
func (t *Tracker) RemoveOldest(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeOldestLocked(ctx)
}

// HandleUpdate applies the live-event reaction rule for the video
// family. Processing/pending events seed a job only when the list is
// empty and was not restored from cache; completed/success events
// always remove the oldest job. Failure does not touch the list; it
// is surfaced through the update stream instead.
func (t *Tracker) HandleUpdate(ctx context.Context, u *model.StatusUpdate) {
	if u == nil || u.Domain != model.DomainVideo {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Status {
	case model.StatusProcessing, model.StatusPending:
		if t.state == StateRestoredFromCache {
			// The cache is the source of truth until the list drains
			return
		}
		if len(t.jobs) > 0 {
			return
		}
		id := u.VideoID
		if id == "" || id == normalize.SentinelVideoID {
			id = uuid.New().String()
		}
		message := u.Message
		if message == "" {
			message = "Processing your video..."
		}
		t.addLocked(ctx, model.ProcessingJob{
			ID:        id,
			Title:     model.PlaceholderTitle,
			Status:    model.JobStatusProcessing,
			Timestamp: time.Now(),
			Message:   message,
		})

	case model.StatusCompleted, model.StatusSuccess:
		t.removeOldestLocked(ctx)
	}
}

// Jobs returns a snapshot of the current list, oldest first
func (t *Tracker) Jobs() []model.ProcessingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.ProcessingJob(nil), t.jobs...)
}

// State returns the current source-of-truth state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset clears the in-memory list and deletes the durable cache entry.
// Used on sign-out and on teardown, regardless of in-memory state.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs = nil
	t.state = StateUninitialized
	t.synced = false
	t.syncing = false
	if err := t.store.Delete(ctx); err != nil {
		t.log.WithError(err).Warn("Failed to delete job snapshot")
	}
	t.notifyLocked()
}

func (t *Tracker) addLocked(ctx context.Context, job model.ProcessingJob) {
	t.jobs = append(t.jobs, job)
	t.persistLocked(ctx)
	t.notifyLocked()
}

func (t *Tracker) removeOldestLocked(ctx context.Context) {
	if len(t.jobs) == 0 {
		t.log.Debug("RemoveOldest on empty job list")
		return
	}
	t.jobs = t.jobs[1:]
	if len(t.jobs) == 0 {
		t.state = StateLive
	}
	t.persistLocked(ctx)
	t.notifyLocked()
}

// persistLocked is the write-through rule: a non-empty list overwrites
// the cache entry, an empty list deletes it.
func (t *Tracker) persistLocked(ctx context.Context) {
	var err error
	if len(t.jobs) == 0 {
		err = t.store.Delete(ctx)
	} else {
		err = t.store.Save(ctx, &cache.Snapshot{
			SchemaVersion: cache.SchemaVersion,
			SavedAt:       time.Now(),
			Jobs:          append([]model.ProcessingJob(nil), t.jobs...),
		})
	}
	if err != nil {
		t.log.WithError(err).Warn("Failed to persist job snapshot")
	}
}

func (t *Tracker) notifyLocked() {
	if t.onChange == nil {
		return
	}
	jobs := append([]model.ProcessingJob(nil), t.jobs...)
	t.onChange(jobs)
}
