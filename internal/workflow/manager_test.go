package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lingest/internal/config"
	"lingest/internal/queue"
	"lingest/internal/services"
	"lingest/internal/stage"
)

type fakeHandler struct {
	mu         sync.Mutex
	executed   []int64
	prepareErr error
	executeErr error
	healthy    bool
}

func (f *fakeHandler) Prepare(context.Context, *queue.Item) error {
	return f.prepareErr
}

func (f *fakeHandler) Execute(_ context.Context, item *queue.Item) error {
	f.mu.Lock()
	f.executed = append(f.executed, item.ID)
	f.mu.Unlock()
	return f.executeErr
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	if f.healthy {
		return stage.Healthy("fake")
	}
	return stage.Unhealthy("fake", "not ready")
}

func (f *fakeHandler) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func newTestManager(t *testing.T, handler stage.Handler, opts ...ManagerOption) (*Manager, *queue.Store) {
	t.Helper()
	store, err := queue.OpenPath(context.Background(), filepath.Join(t.TempDir(), "lingest.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 120
	return NewManager(&cfg, store, handler, nil, opts...), store
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestManagerProcessesPendingItems(t *testing.T) {
	handler := &fakeHandler{healthy: true}
	manager, store := newTestManager(t, handler, WithWorkers(2))
	ctx := context.Background()

	var ids []int64
	for _, title := range []string{"one", "two", "three"} {
		item, err := store.NewItem(ctx, title, "file:///"+title+".wav", 10*time.Minute)
		if err != nil {
			t.Fatalf("new item: %v", err)
		}
		ids = append(ids, item.ID)
	}

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			item, err := store.GetByID(ctx, id)
			if err != nil || item.Status != queue.StatusTranscribed {
				return false
			}
		}
		return true
	}, "items never reached transcribed")

	if handler.executedCount() != len(ids) {
		t.Fatalf("executed %d times, want %d (each item exactly once)", handler.executedCount(), len(ids))
	}
}

func TestManagerRecordsTerminalFailure(t *testing.T) {
	handler := &fakeHandler{
		executeErr: services.Wrap(services.ErrFatal, "transcribe", "execute", "unreadable audio", nil),
	}
	manager, store := newTestManager(t, handler)
	ctx := context.Background()

	item, err := store.NewItem(ctx, "broken", "file:///broken.wav", 10*time.Minute)
	if err != nil {
		t.Fatalf("new item: %v", err)
	}

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	waitFor(t, 5*time.Second, func() bool {
		loaded, err := store.GetByID(ctx, item.ID)
		return err == nil && loaded.HasFailure()
	}, "failure never recorded")

	loaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != queue.StatusProcessing {
		t.Fatalf("failed item moved to %s, want processing", loaded.Status)
	}
	if loaded.FailureKind != string(services.KindFatal) || !loaded.FailureTerminal {
		t.Fatalf("failure record = kind %q terminal %v", loaded.FailureKind, loaded.FailureTerminal)
	}
}

func TestManagerRecordsMalformedFailureAsTerminal(t *testing.T) {
	handler := &fakeHandler{
		executeErr: services.Wrap(services.ErrMalformed, "speech", "transcribe", "unparseable reply after strict retry", nil),
	}
	manager, store := newTestManager(t, handler)
	ctx := context.Background()

	item, err := store.NewItem(ctx, "garbled", "file:///garbled.wav", 10*time.Minute)
	if err != nil {
		t.Fatalf("new item: %v", err)
	}

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	waitFor(t, 5*time.Second, func() bool {
		loaded, err := store.GetByID(ctx, item.ID)
		return err == nil && loaded.HasFailure()
	}, "failure never recorded")

	loaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	// The stage already retried once with a strict request, so the item must
	// not be reclaimed over and over.
	if !loaded.FailureTerminal {
		t.Fatal("malformed failure must be terminal")
	}
	if loaded.FailureKind != string(services.KindMalformed) {
		t.Fatalf("failure kind = %q", loaded.FailureKind)
	}
}

func TestManagerRecordsTransientFailureAsRetryable(t *testing.T) {
	handler := &fakeHandler{
		executeErr: services.Wrap(services.ErrTransient, "speech", "transcribe", "timeout", nil),
	}
	manager, store := newTestManager(t, handler)
	ctx := context.Background()

	item, err := store.NewItem(ctx, "flaky", "file:///flaky.wav", 10*time.Minute)
	if err != nil {
		t.Fatalf("new item: %v", err)
	}

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	waitFor(t, 5*time.Second, func() bool {
		loaded, err := store.GetByID(ctx, item.ID)
		return err == nil && loaded.HasFailure()
	}, "failure never recorded")

	loaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.FailureTerminal {
		t.Fatal("transient failure must stay reclaimable")
	}
	if loaded.FailureKind != string(services.KindTransient) {
		t.Fatalf("failure kind = %q", loaded.FailureKind)
	}
}

func TestManagerStartStop(t *testing.T) {
	manager, _ := newTestManager(t, &fakeHandler{healthy: true})
	ctx := context.Background()

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := manager.Start(ctx); err == nil {
		t.Fatal("second start should fail while running")
	}
	manager.Stop()
	if manager.Running() {
		t.Fatal("manager still running after stop")
	}
	// Stop on a stopped manager is a no-op.
	manager.Stop()
}

func TestManagerHealth(t *testing.T) {
	handler := &fakeHandler{healthy: true}
	manager, store := newTestManager(t, handler)
	ctx := context.Background()

	if _, err := store.NewItem(ctx, "waiting", "file:///w.wav", 10*time.Minute); err != nil {
		t.Fatalf("new item: %v", err)
	}

	health, err := manager.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Running {
		t.Fatal("manager reported running before start")
	}
	if health.Queue.Pending != 1 || health.Queue.Total != 1 {
		t.Fatalf("queue summary = %+v", health.Queue)
	}
	if !health.Stage.Ready {
		t.Fatalf("stage health = %+v", health.Stage)
	}
}
