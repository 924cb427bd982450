package engine

import (
	"context"
	"sync"
	"time"

	"github.com/koios/kling-batcher/internal/binder"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

const defaultStartPoll = 100 * time.Millisecond

// Worker owns the goroutine that holds the remote session handle.
//
// Its lifecycle is launch, wait for start, run, teardown. Every other
// goroutine talks to it through the controller flags or the save mailbox.
type Worker struct {
	engine    *Engine
	logger    *zap.Logger
	autoStart bool
	startPoll time.Duration

	startCh   chan struct{}
	startOnce sync.Once
	done      chan struct{}
	running   sync.Once

	mu  sync.Mutex
	err error
}

// NewWorker creates a worker around engine. With autoStart the run begins
// as soon as the browser is ready.
func NewWorker(engine *Engine, logger *zap.Logger, autoStart bool) *Worker {
	return &Worker{
		engine:    engine,
		logger:    logger,
		autoStart: autoStart,
		startPoll: defaultStartPoll,
		startCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it again is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.running.Do(func() {
		w.logger.Info("Starting batch worker", zap.Bool("auto_start", w.autoStart))
		go w.run(ctx)
	})
}

// StartProcessing releases the worker from its wait-for-start state, over
// the folders named, or the configured selection when none are.
// It returns false if processing was already requested or starts on its own.
func (w *Worker) StartProcessing(folders []string) bool {
	if w.autoStart {
		return false
	}
	started := false
	w.startOnce.Do(func() {
		w.engine.SelectFolders(folders)
		close(w.startCh)
		started = true
	})
	return started
}

// Folders lists the input folders available under the root folder
func (w *Worker) Folders() ([]binder.FolderSummary, error) {
	return w.engine.Folders()
}

// Stop requests a cooperative stop; it does not wait
func (w *Worker) Stop() {
	w.logger.Info("Stop requested")
	w.engine.control.Stop()
}

func (w *Worker) Pause() {
	w.logger.Info("Pause requested")
	w.engine.control.Pause()
}

func (w *Worker) Resume() {
	w.logger.Info("Resume requested")
	w.engine.control.Resume()
}

// SaveSession asks the worker to persist the session and waits for the result
func (w *Worker) SaveSession(ctx context.Context) (models.SaveResult, error) {
	return w.engine.saves.Request(ctx)
}

// Status returns the engine status snapshot
func (w *Worker) Status() Status {
	return w.engine.Status()
}

// Done is closed once the worker goroutine has torn down the session
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that ended the worker, if any
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Shutdown stops the worker and waits for teardown or ctx
func (w *Worker) Shutdown(ctx context.Context) error {
	w.engine.control.Stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("Failed to close remote session", zap.Error(err))
		}
		w.logger.Info("Batch worker stopped")
	}()

	if err := w.engine.Launch(ctx); err != nil {
		w.setErr(err)
		w.engine.reporter.Error("Browser launch failed", zap.Error(err))
		return
	}

	if !w.waitForStart(ctx) {
		w.engine.reporter.Info("Worker stopped before processing started")
		return
	}

	if err := w.engine.Run(ctx); err != nil {
		w.setErr(err)
	}
}

// waitForStart blocks until processing is requested, servicing session
// saves on every tick. It returns false on stop or cancellation.
func (w *Worker) waitForStart(ctx context.Context) bool {
	if w.autoStart {
		return true
	}

	w.engine.reporter.Info("Waiting for start")
	ticker := time.NewTicker(w.startPoll)
	defer ticker.Stop()

	for {
		w.engine.serviceSaves()
		if w.engine.control.IsStopped() {
			return false
		}
		select {
		case <-w.startCh:
			return true
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}
