package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/cache"
	"github.com/makereels/sync/internal/model"
)

type fakeLister struct {
	mu        sync.Mutex
	workflows []model.PendingWorkflow
	calls     int
}

func (f *fakeLister) ListPending(ctx context.Context, userID string) ([]model.PendingWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.workflows, nil
}

type pushServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/users/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ps.conns <- conn
	})
	ps.srv = httptest.NewServer(mux)
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ps.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a push connection")
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, payload string) {
	t.Helper()
	if err := conn.WriteJSON(model.Envelope{
		Event:   event,
		Payload: json.RawMessage(payload),
	}); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newTestEngine(t *testing.T, ps *pushServer, lister *fakeLister) (*Engine, map[string]*cache.MemoryStore) {
	t.Helper()
	stores := make(map[string]*cache.MemoryStore)
	var mu sync.Mutex
	factory := func(userID string) cache.Store {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := stores[userID]; ok {
			return s
		}
		s := cache.NewMemoryStore()
		stores[userID] = s
		return s
	}
	if lister == nil {
		lister = &fakeLister{}
	}
	e := NewEngine(Config{
		BaseURL:        ps.srv.URL,
		WSPath:         "/ws/users",
		ReconnectDelay: 20 * time.Millisecond,
	}, factory, lister, testLogger())
	t.Cleanup(func() { e.Close(context.Background()) })
	return e, stores
}

func TestSignInReconcilesAndTracksEvents(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	lister := &fakeLister{workflows: []model.PendingWorkflow{
		{ID: "w1", ExecutionID: "e1", Title: "My video", Status: "pending", CreatedAt: time.Now()},
	}}
	e, _ := newTestEngine(t, ps, lister)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()

	waitFor(t, e.IsConnected, "engine never connected")
	waitFor(t, func() bool { return len(e.Jobs()) == 1 }, "reconciliation never adopted the backend job")

	if e.Jobs()[0].Title != "My video" {
		t.Errorf("unexpected job: %+v", e.Jobs()[0])
	}
	if len(e.Toasts()) != 1 {
		t.Fatalf("expected one toast, got %+v", e.Toasts())
	}

	// Completion drains the tracked job
	send(t, conn, model.EventVideoDownloadUpdate,
		`{"videoId":"e1","status":"completed","timestamp":"2026-08-28T10:00:00Z"}`)
	waitFor(t, func() bool { return len(e.Jobs()) == 0 }, "completion never drained the job")

	if got := len(e.Updates(model.DomainVideo)); got != 1 {
		t.Fatalf("expected 1 video update, got %d", got)
	}
	if latest := e.Latest(model.DomainVideo); latest == nil || latest.Status != model.StatusCompleted {
		t.Fatalf("unexpected latest update: %+v", latest)
	}
}

func TestDuplicateEventsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, _ := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()
	waitFor(t, e.IsConnected, "engine never connected")

	payload := `{"avatarId":"a1","status":"processing","step":"upload","timestamp":"2026-08-28T10:00:00Z","data":{"avatarId":"a1"}}`
	send(t, conn, model.EventPhotoAvatarUpdate, payload)
	send(t, conn, model.EventPhotoAvatarUpdate, payload)
	send(t, conn, model.EventPhotoAvatarUpdate,
		`{"status":"processing","step":"upload","timestamp":"2026-08-28T10:00:01Z","data":{"avatarId":"a1"}}`)

	waitFor(t, func() bool { return len(e.Updates(model.DomainAvatar)) == 2 },
		"distinct avatar updates never arrived")
	time.Sleep(100 * time.Millisecond)
	if got := len(e.Updates(model.DomainAvatar)); got != 2 {
		t.Fatalf("duplicate was recorded: %d updates", got)
	}
	if !e.IsProcessing(model.DomainAvatar) {
		t.Error("expected avatar domain to read as processing")
	}
}

func TestOneShotDisconnectAfterTerminalStatus(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, _ := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()
	waitFor(t, e.IsConnected, "engine never connected")

	send(t, conn, model.EventScheduleStatus,
		`{"status":"ready","message":"done","timestamp":"2026-08-28T10:00:00Z","data":{"scheduleId":"s1"}}`)

	// The session hangs up about a second after a terminal status and
	// must not dial again.
	waitFor(t, func() bool { return !e.IsConnected() }, "session never disconnected")
	select {
	case <-ps.conns:
		t.Fatal("session reconnected after terminal status")
	case <-time.After(200 * time.Millisecond):
	}

	if latest := e.Latest(model.DomainSchedule); latest == nil || latest.ScheduleID != "s1" {
		t.Fatalf("unexpected schedule update: %+v", latest)
	}
}

func TestSignOutPurgesEverything(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, stores := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()
	waitFor(t, e.IsConnected, "engine never connected")

	if _, err := e.AddJob(ctx, "My video"); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if snap, _ := stores["u1"].Load(ctx); snap == nil {
		t.Fatal("expected job persisted before sign-out")
	}

	e.ClearUser(ctx)

	if e.UserID() != "" || e.Jobs() != nil || e.Toasts() != nil {
		t.Fatal("sign-out left session state behind")
	}
	if snap, _ := stores["u1"].Load(ctx); snap != nil {
		t.Fatal("sign-out left the cache entry behind")
	}
	waitFor(t, func() bool { return !e.IsConnected() }, "socket still open after sign-out")
}

func TestOperationsWithoutSession(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, _ := newTestEngine(t, ps, nil)

	if _, err := e.AddJob(ctx, "x"); err != ErrNoSession {
		t.Errorf("AddJob: expected ErrNoSession, got %v", err)
	}
	if err := e.RemoveOldestJob(ctx); err != ErrNoSession {
		t.Errorf("RemoveOldestJob: expected ErrNoSession, got %v", err)
	}
	if err := e.CheckPendingWorkflows(ctx); err != ErrNoSession {
		t.Errorf("CheckPendingWorkflows: expected ErrNoSession, got %v", err)
	}
	if e.IsConnected() || e.UserID() != "" || e.Jobs() != nil {
		t.Error("expected inert engine with no session")
	}
}

func TestSameUserSetUserIsNoOp(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, _ := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()
	waitFor(t, e.IsConnected, "engine never connected")

	e.AddJob(ctx, "My video")
	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("repeat SetUser failed: %v", err)
	}

	// No second dial, no job loss
	select {
	case <-ps.conns:
		t.Fatal("repeat SetUser opened a second connection")
	case <-time.After(100 * time.Millisecond):
	}
	if len(e.Jobs()) != 1 {
		t.Fatal("repeat SetUser disturbed the job list")
	}
}

func TestUserSwitchTearsDownOldSession(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, stores := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok1"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	first := ps.accept(t)
	defer first.Close()
	waitFor(t, e.IsConnected, "first session never connected")
	e.AddJob(ctx, "First user video")

	if err := e.SetUser(ctx, "u2", "tok2"); err != nil {
		t.Fatalf("user switch failed: %v", err)
	}
	second := ps.accept(t)
	defer second.Close()

	if e.UserID() != "u2" {
		t.Fatalf("expected u2, got %q", e.UserID())
	}
	if len(e.Jobs()) != 0 {
		t.Fatal("first user's jobs leaked into the new session")
	}
	if snap, _ := stores["u1"].Load(ctx); snap != nil {
		t.Fatal("first user's cache entry survived the switch")
	}
}

func TestChangeNotificationsCarryToasts(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	stores := func(string) cache.Store { return cache.NewMemoryStore() }
	e := NewEngine(Config{
		BaseURL:        ps.srv.URL,
		WSPath:         "/ws/users",
		ReconnectDelay: 20 * time.Millisecond,
	}, stores, &fakeLister{}, testLogger())
	t.Cleanup(func() { e.Close(context.Background()) })

	type change struct {
		jobs   int
		toasts int
	}
	changes := make(chan change, 16)
	e.SetOnChange(func(userID string, jobs []model.ProcessingJob, toasts []model.Toast) {
		changes <- change{jobs: len(jobs), toasts: len(toasts)}
	})

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()

	e.AddJob(ctx, "My video")
	select {
	case c := <-changes:
		if c.jobs != 1 || c.toasts != 1 {
			t.Fatalf("unexpected change notification: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after AddJob")
	}
}

func TestAddJobDefaults(t *testing.T) {
	ctx := context.Background()
	ps := newPushServer(t)
	e, _ := newTestEngine(t, ps, nil)

	if err := e.SetUser(ctx, "u1", "tok"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	conn := ps.accept(t)
	defer conn.Close()

	job, err := e.AddJob(ctx, "")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if job.Title != model.PlaceholderTitle {
		t.Errorf("expected placeholder title, got %q", job.Title)
	}
	if job.ID == "" {
		t.Error("expected a generated job id")
	}
}
