// Package session owns the userId lifecycle: it builds one transport,
// normalizer, tracker and toast adapter per signed-in user and tears
// them all down on sign-out so nothing leaks across users.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/cache"
	"github.com/makereels/sync/internal/client"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/normalize"
	"github.com/makereels/sync/internal/toast"
	"github.com/makereels/sync/internal/tracker"
	"github.com/makereels/sync/internal/transport"
)

// oneShotDisconnectDelay is how long to keep the connection open after
// a terminal video-avatar or schedule status, long enough for trailing
// events of the same workflow to drain.
const oneShotDisconnectDelay = time.Second

// ErrNoSession is returned by operations that need a signed-in user
var ErrNoSession = errors.New("no active user session")

// StoreFactory yields the durable cache slot for a user
type StoreFactory func(userID string) cache.Store

// ChangeHandler observes every job-list change together with its toast
// projection, for pushing to local consumers.
type ChangeHandler func(userID string, jobs []model.ProcessingJob, toasts []model.Toast)

// Config configures an Engine
type Config struct {
	BaseURL           string
	WSPath            string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	StalenessHorizon  time.Duration
}

// Engine is the unified socket: at most one live connection per mounted
// engine, reconciled against cache and backend on every (re)connect.
type Engine struct {
	cfg      Config
	stores   StoreFactory
	lister   client.WorkflowLister
	log      *logrus.Entry
	onChange ChangeHandler

	mu  sync.Mutex
	cur *userSession
}

type userSession struct {
	userID     string
	ctx        context.Context
	cancel     context.CancelFunc
	tracker    *tracker.Tracker
	toasts     *toast.Adapter
	normalizer *normalize.Normalizer
	transport  *transport.Client

	updatesMu sync.Mutex
	updates   map[model.Domain][]model.StatusUpdate
}

func NewEngine(cfg Config, stores StoreFactory, lister client.WorkflowLister, log *logrus.Entry) *Engine {
	return &Engine{
		cfg:    cfg,
		stores: stores,
		lister: lister,
		log:    log,
	}
}

// SetOnChange registers the change observer. Must be called before
// SetUser; the handler may be invoked while engine internals are busy,
// so it must not call back into the engine.
func (e *Engine) SetOnChange(h ChangeHandler) {
	e.onChange = h
}

// SetUser is the null -> non-null transition: restore the durable
// cache, open the push-event session and arm reconciliation. Replacing
// one user with another tears the old session down first.
func (e *Engine) SetUser(ctx context.Context, userID, token string) error {
	if userID == "" {
		return errors.New("userID is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur != nil {
		if e.cur.userID == userID {
			return nil
		}
		e.clearLocked(ctx)
	}

	log := e.log.WithField("user_id", userID)
	sctx, cancel := context.WithCancel(context.Background())

	s := &userSession{
		userID:     userID,
		ctx:        sctx,
		cancel:     cancel,
		toasts:     toast.NewAdapter(),
		normalizer: normalize.New(),
		updates:    make(map[model.Domain][]model.StatusUpdate),
	}
	s.tracker = tracker.New(e.stores(userID), e.lister, e.cfg.StalenessHorizon, log)
	s.tracker.SetOnChange(func(jobs []model.ProcessingJob) {
		s.toasts.Update(jobs)
		e.notify(userID, jobs, s.toasts.Toasts())
	})

	// Cache restore happens before the connection can deliver anything
	s.tracker.RestoreFromCache(ctx)

	s.transport = transport.NewClient(transport.Config{
		URL:               transport.BuildURL(e.cfg.BaseURL, fmt.Sprintf("%s/%s", e.cfg.WSPath, userID)),
		Token:             token,
		ReconnectAttempts: e.cfg.ReconnectAttempts,
		ReconnectDelay:    e.cfg.ReconnectDelay,
		Logger:            log,
	})
	s.transport.OnConnect(func() {
		s.tracker.NewConnection()
		go func() {
			_ = s.tracker.ReconcileBackend(s.ctx, userID)
		}()
	})
	s.transport.OnEvent(func(env model.Envelope) {
		e.handleEvent(s, env)
	})
	s.transport.Start(sctx)

	e.cur = s
	log.Info("User session started")
	return nil
}

// ClearUser is the non-null -> null transition: close the session,
// drop all update lists and purge the tracked jobs and their cache
// entry. A no-op when no session exists.
func (e *Engine) ClearUser(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked(ctx)
}

func (e *Engine) clearLocked(ctx context.Context) {
	if e.cur == nil {
		return
	}
	s := e.cur
	e.cur = nil

	s.transport.Close()
	s.cancel()
	s.tracker.Reset(ctx)
	e.log.WithField("user_id", s.userID).Info("User session cleared")
}

// Close tears down the engine. The cache entry is deleted on teardown
// regardless of in-memory state.
func (e *Engine) Close(ctx context.Context) {
	e.ClearUser(ctx)
}

// handleEvent runs on the transport's read goroutine, so events are
// processed strictly in delivery order.
func (e *Engine) handleEvent(s *userSession, env model.Envelope) {
	u, err := s.normalizer.Normalize(env)
	if err != nil {
		if errors.Is(err, normalize.ErrDuplicate) {
			return
		}
		e.log.WithError(err).WithField("event", env.Event).Debug("Ignoring event")
		return
	}

	s.updatesMu.Lock()
	s.updates[u.Domain] = append(s.updates[u.Domain], *u)
	s.updatesMu.Unlock()

	if u.Domain == model.DomainVideo {
		s.tracker.HandleUpdate(s.ctx, u)
	}

	if oneShotTerminal(u) {
		// One-shot workflow: stop listening shortly after the terminal
		// status instead of holding the connection open indefinitely.
		time.AfterFunc(oneShotDisconnectDelay, s.transport.Close)
	}
}

// oneShotTerminal reports terminal statuses of the two one-shot
// workflow families.
func oneShotTerminal(u *model.StatusUpdate) bool {
	switch u.Domain {
	case model.DomainVideoAvatar:
		return u.Status == model.StatusCompleted || u.Status == model.StatusError
	case model.DomainSchedule:
		return u.Status == model.StatusReady || u.Status == model.StatusFailed
	}
	return false
}

func (e *Engine) notify(userID string, jobs []model.ProcessingJob, toasts []model.Toast) {
	if e.onChange != nil {
		e.onChange(userID, jobs, toasts)
	}
}

// session returns the current session or nil
func (e *Engine) session() *userSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// IsConnected reports whether the push-event session is live
func (e *Engine) IsConnected() bool {
	if s := e.session(); s != nil {
		return s.transport.IsConnected()
	}
	return false
}

// UserID returns the signed-in user, or empty
func (e *Engine) UserID() string {
	if s := e.session(); s != nil {
		return s.userID
	}
	return ""
}

// State exposes the tracker's source-of-truth state
func (e *Engine) State() tracker.State {
	if s := e.session(); s != nil {
		return s.tracker.State()
	}
	return tracker.StateUninitialized
}

// Jobs returns the tracked jobs, oldest first
func (e *Engine) Jobs() []model.ProcessingJob {
	if s := e.session(); s != nil {
		return s.tracker.Jobs()
	}
	return nil
}

// AddJob registers a job just before a generation request is submitted
func (e *Engine) AddJob(ctx context.Context, title string) (*model.ProcessingJob, error) {
	s := e.session()
	if s == nil {
		return nil, ErrNoSession
	}
	if title == "" {
		title = model.PlaceholderTitle
	}
	job := model.ProcessingJob{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    model.JobStatusProcessing,
		Timestamp: time.Now(),
		Message:   "Submitting your video...",
	}
	s.tracker.Add(ctx, job)
	return &job, nil
}

// RemoveOldestJob is the caller-initiated FIFO removal
func (e *Engine) RemoveOldestJob(ctx context.Context) error {
	s := e.session()
	if s == nil {
		return ErrNoSession
	}
	s.tracker.RemoveOldest(ctx)
	return nil
}

// CheckPendingWorkflows triggers backend reconciliation. Idempotent
// within a connection: repeat calls after a successful run are no-ops.
func (e *Engine) CheckPendingWorkflows(ctx context.Context) error {
	s := e.session()
	if s == nil {
		return ErrNoSession
	}
	return s.tracker.ReconcileBackend(ctx, s.userID)
}

// Updates returns the append-only update list for a domain
func (e *Engine) Updates(domain model.Domain) []model.StatusUpdate {
	s := e.session()
	if s == nil {
		return nil
	}
	s.updatesMu.Lock()
	defer s.updatesMu.Unlock()
	return append([]model.StatusUpdate(nil), s.updates[domain]...)
}

// Latest returns the most recent update for a domain, or nil
func (e *Engine) Latest(domain model.Domain) *model.StatusUpdate {
	updates := e.Updates(domain)
	if len(updates) == 0 {
		return nil
	}
	return &updates[len(updates)-1]
}

// IsProcessing reports whether the latest update of a domain is still
// in flight.
func (e *Engine) IsProcessing(domain model.Domain) bool {
	latest := e.Latest(domain)
	if latest == nil {
		return false
	}
	switch latest.Status {
	case model.StatusPending, model.StatusProcessing, model.StatusProgress:
		return true
	}
	return false
}

// Toasts returns the toast projection of the tracked jobs
func (e *Engine) Toasts() []model.Toast {
	if s := e.session(); s != nil {
		return s.toasts.Toasts()
	}
	return nil
}

// MinimizedCount is the number of minimized toasts
func (e *Engine) MinimizedCount() int {
	if s := e.session(); s != nil {
		return s.toasts.MinimizedCount()
	}
	return 0
}

// MinimizeToast minimizes a toast by id
func (e *Engine) MinimizeToast(id string) {
	if s := e.session(); s != nil {
		s.toasts.Minimize(id)
	}
}

// RestoreToast restores a minimized toast by id
func (e *Engine) RestoreToast(id string) {
	if s := e.session(); s != nil {
		s.toasts.Restore(id)
	}
}
