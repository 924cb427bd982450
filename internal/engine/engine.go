package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/koios/kling-batcher/internal/binder"
	"github.com/koios/kling-batcher/internal/remote"
	"github.com/koios/kling-batcher/internal/session"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// ErrFolderTimeout is returned when a folder does not finish within FolderTimeout
var ErrFolderTimeout = errors.New("folder processing timed out")

// Options tunes the batch loop
type Options struct {
	RootFolder      string
	SelectedFolders []string
	Headless        bool
	MaxConcurrent   int
	PollInterval    time.Duration
	SettleDelay     time.Duration
	// SubmitSettle is the pause after each submission, giving the feed
	// time to show the new entry
	SubmitSettle    time.Duration
	StaleAfter      time.Duration
	FolderTimeout   time.Duration
	ActiveScanLimit int
	OutputExt       string
	SaveTimeout     time.Duration
}

// DefaultOptions returns the stock tuning for a root folder
func DefaultOptions(root string) Options {
	return Options{
		RootFolder:      root,
		MaxConcurrent:   2,
		PollInterval:    10 * time.Second,
		SettleDelay:     2 * time.Second,
		SubmitSettle:    4 * time.Second,
		StaleAfter:      30 * time.Minute,
		FolderTimeout:   20 * time.Minute,
		ActiveScanLimit: 36,
		OutputExt:       binder.DefaultOutputExt,
		SaveTimeout:     defaultSaveTimeout,
	}
}

// SessionStore persists the opaque login session blob
type SessionStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// Phase is the coarse state of the worker
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLaunching Phase = "launching"
	PhaseReady     Phase = "ready"
	PhaseRunning   Phase = "running"
	PhaseFinished  Phase = "finished"
	PhaseFailed    Phase = "failed"
)

// Status is a snapshot of the engine for the control surface
type Status struct {
	Phase         Phase  `json:"phase"`
	Folder        string `json:"folder,omitempty"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
	Paused        bool   `json:"paused"`
	Stopped       bool   `json:"stopped"`
	LoginRequired bool   `json:"login_required"`
}

// Engine runs the slot-managed batch loop over the input folders.
//
// All methods except Status, Controller and Saves belong to the worker
// goroutine that owns the remote session.
type Engine struct {
	opts     Options
	open     remote.Opener
	store    SessionStore
	logger   *zap.Logger
	reporter *Reporter
	control  *Controller
	saves    *SaveCoordinator
	binder   *binder.Binder
	now      func() time.Time

	service remote.Service

	mu     sync.RWMutex
	status Status
}

// New creates an engine. The remote session is opened by Launch.
func New(opts Options, open remote.Opener, store SessionStore, logger *zap.Logger, callbacks Callbacks) *Engine {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.ActiveScanLimit < opts.MaxConcurrent {
		opts.ActiveScanLimit = opts.MaxConcurrent
	}
	if opts.SubmitSettle < 0 {
		opts.SubmitSettle = 0
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.FolderTimeout <= 0 {
		opts.FolderTimeout = 20 * time.Minute
	}

	e := &Engine{
		opts:    opts,
		open:    open,
		store:   store,
		logger:  logger,
		control: NewController(),
		saves:   NewSaveCoordinator(opts.SaveTimeout),
		binder:  binder.New(logger, binder.WithOutputExt(opts.OutputExt)),
		now:     time.Now,
		status:  Status{Phase: PhaseIdle},
	}

	onProgress := callbacks.OnProgress
	callbacks.OnProgress = func(folder string, completed, total int) {
		e.updateProgress(folder, completed, total)
		if onProgress != nil {
			onProgress(folder, completed, total)
		}
	}
	e.reporter = NewReporter(logger, callbacks)
	e.control.SetIdleHook(e.serviceSaves)

	return e
}

// Controller returns the pause/stop flags
func (e *Engine) Controller() *Controller { return e.control }

// Saves returns the session save coordinator
func (e *Engine) Saves() *SaveCoordinator { return e.saves }

// Status returns a snapshot safe to read from any goroutine
func (e *Engine) Status() Status {
	e.mu.RLock()
	status := e.status
	e.mu.RUnlock()
	status.Paused = e.control.IsPaused()
	status.Stopped = e.control.IsStopped()
	return status
}

// Folders lists the sub-directories of the root folder with their image counts
func (e *Engine) Folders() ([]binder.FolderSummary, error) {
	return binder.SummarizeFolders(e.opts.RootFolder, e.logger)
}

// SelectFolders replaces the folder selection of the next run.
// An empty selection keeps the configured one.
func (e *Engine) SelectFolders(names []string) {
	if len(names) == 0 {
		return
	}
	e.mu.Lock()
	e.opts.SelectedFolders = append([]string(nil), names...)
	e.mu.Unlock()
}

// Launch opens the remote session, restoring the saved login if one exists
func (e *Engine) Launch(ctx context.Context) error {
	e.setPhase(PhaseLaunching)
	e.reporter.Info("Starting browser session", zap.Bool("headless", e.opts.Headless))

	blob, err := e.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			e.reporter.Warn("Failed to load saved session, login required", zap.Error(err))
		}
		blob = nil
	}

	svc, err := e.open(ctx, remote.OpenOptions{Headless: e.opts.Headless, Session: blob})
	if err != nil {
		e.setPhase(PhaseFailed)
		return fmt.Errorf("failed to open remote session: %w", err)
	}
	e.service = svc

	loginRequired := blob == nil
	if loginRequired {
		e.reporter.Info("Log in using the browser window, then save the session")
		e.reporter.Warn("Only save the session after the login has succeeded")
	} else {
		e.reporter.Success("Logged in with saved session")
	}

	e.mu.Lock()
	e.status.LoginRequired = loginRequired
	e.mu.Unlock()

	e.saves.Attach()
	e.setPhase(PhaseReady)
	e.reporter.Success("Browser ready")
	return nil
}

// Close tears down the remote session
func (e *Engine) Close() error {
	e.saves.Detach()
	if e.service == nil {
		return nil
	}
	err := e.service.Close()
	e.service = nil
	if err != nil {
		return fmt.Errorf("failed to close remote session: %w", err)
	}
	return nil
}

// Run processes every selected folder in order. Each folder is an error
// boundary; only a stop request or a lost session ends the run early.
func (e *Engine) Run(ctx context.Context) error {
	if e.service == nil {
		return errors.New("remote session not launched")
	}

	e.setPhase(PhaseRunning)
	defer e.setPhase(PhaseFinished)

	e.mu.RLock()
	selected := e.opts.SelectedFolders
	e.mu.RUnlock()

	folders, err := binder.ResolveFolders(e.opts.RootFolder, selected, e.logger)
	if err != nil {
		e.reporter.Error("Cannot list input folders", zap.Error(err))
		return err
	}
	if len(folders) == 0 {
		e.reporter.Warn("No folders to process")
		return nil
	}

	e.reporter.Info("Processing folders", zap.Int("count", len(folders)))

	for _, dir := range folders {
		if e.control.Halted(ctx) {
			break
		}
		e.control.WaitWhilePaused(ctx)
		if e.control.Halted(ctx) {
			break
		}

		if err := e.ProcessFolder(ctx, dir); err != nil {
			if errors.Is(err, remote.ErrSessionLost) {
				e.reporter.Error("Remote session lost, aborting run", zap.Error(err))
				return err
			}
			e.reporter.Error("Folder aborted",
				zap.String("folder", filepath.Base(dir)),
				zap.Error(err))
		}
	}

	if e.control.Halted(ctx) {
		e.reporter.Warn("Run stopped")
		return nil
	}
	e.reporter.Success("All folders processed")
	return nil
}

// ProcessFolder binds one folder and runs the poll loop until every job is
// downloaded, a stop is requested or the folder times out.
func (e *Engine) ProcessFolder(ctx context.Context, dir string) error {
	name := filepath.Base(dir)
	e.reporter.Info("Processing folder", zap.String("folder", name))

	images, err := binder.ListImages(dir)
	if err != nil {
		return err
	}
	prompts, err := binder.ReadPrompts(dir)
	if err != nil {
		return err
	}

	batch := e.binder.Bind(name, dir, images, prompts)
	if batch.Remaining() == 0 {
		e.reporter.Info("All outputs already exist, skipping folder", zap.String("folder", name))
		e.reporter.Progress(name, batch.Downloaded(), batch.Total())
		return nil
	}

	e.reporter.Info("Jobs to process",
		zap.String("folder", name),
		zap.Int("remaining", batch.Remaining()),
		zap.Int("total", batch.Total()))

	var result error
	start := e.now()
	for !batch.Complete() {
		if e.control.Halted(ctx) {
			e.reporter.Warn("Processing stopped by user", zap.String("folder", name))
			break
		}
		e.control.WaitWhilePaused(ctx)
		if e.control.Halted(ctx) {
			continue
		}

		if elapsed := e.now().Sub(start); elapsed > e.opts.FolderTimeout {
			result = fmt.Errorf("%w: %s after %s, downloaded %d/%d",
				ErrFolderTimeout, name, elapsed.Round(time.Second), batch.Downloaded(), batch.Total())
			break
		}

		e.reporter.Progress(name, batch.Downloaded(), batch.Total())

		if err := e.pollCycle(ctx, batch); err != nil {
			return err
		}
	}

	e.reporter.Success("Folder finished",
		zap.String("folder", name),
		zap.Int("downloaded", batch.Downloaded()),
		zap.Int("total", batch.Total()))
	e.reporter.Progress(name, batch.Downloaded(), batch.Total())
	return result
}

// pollCycle runs one reconcile-then-schedule step
func (e *Engine) pollCycle(ctx context.Context, batch *models.FolderBatch) error {
	downloaded, err := e.reconcile(ctx, batch)
	if err != nil {
		return err
	}
	if downloaded > 0 {
		e.reporter.Info("Downloaded so far",
			zap.String("folder", batch.Name),
			zap.Int("downloaded", batch.Downloaded()),
			zap.Int("total", batch.Total()))
		return nil
	}

	if !e.control.Sleep(ctx, e.opts.SettleDelay) {
		return nil
	}

	submitted, err := e.fillSlots(ctx, batch)
	if err != nil {
		return err
	}
	if submitted == 0 {
		e.control.Sleep(ctx, e.opts.PollInterval)
	}
	return nil
}

// serviceSaves answers a queued session save request, if any
func (e *Engine) serviceSaves() {
	e.saves.Serve(func() models.SaveResult {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return e.saveSession(ctx)
	})
}

func (e *Engine) saveSession(ctx context.Context) models.SaveResult {
	if e.service == nil {
		return models.SaveResult{Success: false, Message: "browser session not available"}
	}

	blob, err := e.service.PersistSession(ctx)
	if err != nil {
		e.reporter.Error("Failed to read session from browser", zap.Error(err))
		return models.SaveResult{Success: false, Message: fmt.Sprintf("failed to read session: %v", err)}
	}
	if err := e.store.Save(ctx, blob); err != nil {
		e.reporter.Error("Failed to persist session", zap.Error(err))
		return models.SaveResult{Success: false, Message: fmt.Sprintf("failed to persist session: %v", err)}
	}

	e.mu.Lock()
	e.status.LoginRequired = false
	e.mu.Unlock()

	e.reporter.Success("Session saved")
	return models.SaveResult{Success: true, Message: "Session saved successfully"}
}

func (e *Engine) setPhase(phase Phase) {
	e.mu.Lock()
	e.status.Phase = phase
	e.mu.Unlock()
}

func (e *Engine) updateProgress(folder string, completed, total int) {
	e.mu.Lock()
	e.status.Folder = folder
	e.status.Completed = completed
	e.status.Total = total
	e.mu.Unlock()
}
