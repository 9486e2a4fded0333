package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lingest/internal/config"
	"lingest/internal/logging"
	"lingest/internal/queue"
	"lingest/internal/services"
	"lingest/internal/stage"
)

// Manager coordinates queue processing: a pool of workers claims pending
// items and runs them through the transcribe stage under a heartbeat lease.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	handler      stage.Handler
	heartbeat    *HeartbeatMonitor
	pollInterval time.Duration
	workers      int

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithWorkers sets the number of concurrent item workers.
func WithWorkers(workers int) ManagerOption {
	return func(m *Manager) {
		if workers > 0 {
			m.workers = workers
		}
	}
}

// NewManager constructs a workflow manager around the given stage handler.
func NewManager(cfg *config.Config, store *queue.Store, handler stage.Handler, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		handler:      handler,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		workers:      1,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.handler == nil {
		return errors.New("workflow stage not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(m.workers)
	for worker := 0; worker < m.workers; worker++ {
		go m.runWorker(runCtx, worker)
	}
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the manager has active workers.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent processing error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", worker))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Only the first worker runs the reclaimer; one sweep per poll
		// cycle is enough.
		if worker == 0 {
			if err := m.heartbeat.ReclaimStaleItems(ctx, logger); err != nil && ctx.Err() == nil {
				logger.Warn("reclaim stale processing failed; stuck items may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
			}
		}

		item, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next queue item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"))
			m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if item == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.processItem(ctx, logger, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		delay = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (m *Manager) processItem(ctx context.Context, workerLogger *slog.Logger, item *queue.Item) error {
	requestID := uuid.NewString()
	stageCtx := services.WithRequestID(services.WithStage(services.WithItemID(ctx, item.ID), "transcribe"), requestID)
	logger := logging.WithContext(stageCtx, workerLogger)

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("title", item.Title))

	if err := m.handler.Prepare(stageCtx, item); err != nil {
		m.handleStageFailure(stageCtx, logger, item, err)
		return err
	}

	execErr := m.executeWithHeartbeat(stageCtx, item)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			logger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(stageCtx, logger, item, execErr)
		return execErr
	}

	if err := m.store.Transition(stageCtx, item.ID, queue.StatusTranscribed); err != nil {
		m.handleStageFailure(stageCtx, logger, item, err)
		return err
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)))
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, item *queue.Item) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, item.ID)

	execErr := m.handler.Execute(ctx, item)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// handleStageFailure records the failure cause on the item without leaving
// processing. Retryable failures become reclaimable when the lease expires;
// everything else carries a terminal marker until an operator intervenes.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, stageErr error) {
	m.setLastError(stageErr)
	kind := services.Classify(stageErr)
	terminal := !services.Retryable(stageErr)

	logger.Error("stage failed",
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("failure_kind", string(kind)),
		logging.Bool("terminal", terminal))

	if err := m.store.RecordFailure(ctx, item.ID, string(kind), stageErr.Error(), terminal); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not record stage failure")
		} else {
			logger.Error("failed to record stage failure", logging.Error(err))
		}
	}
}
