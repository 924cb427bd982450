package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/koios/kling-batcher/internal/remote"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// activeSlots returns how many of the remote slots are busy, clamped to
// [0, MaxConcurrent]. A failed query counts as fully busy.
func (e *Engine) activeSlots(ctx context.Context) (int, error) {
	active, err := e.service.CountActiveGenerating(ctx, e.opts.ActiveScanLimit)
	if err != nil {
		if errors.Is(err, remote.ErrSessionLost) {
			return 0, err
		}
		e.reporter.Warn("Failed to count active generations", zap.Error(err))
		return e.opts.MaxConcurrent, nil
	}
	if active < 0 {
		active = 0
	}
	if active > e.opts.MaxConcurrent {
		active = e.opts.MaxConcurrent
	}
	return active, nil
}

// fillSlots submits pending jobs, in batch order, into the free remote slots.
// It returns how many jobs were submitted.
func (e *Engine) fillSlots(ctx context.Context, batch *models.FolderBatch) (int, error) {
	active, err := e.activeSlots(ctx)
	if err != nil {
		return 0, err
	}
	free := e.opts.MaxConcurrent - active

	e.reporter.Info("Slot status",
		zap.String("folder", batch.Name),
		zap.Int("active", active),
		zap.Int("max_concurrent", e.opts.MaxConcurrent),
		zap.Int("free", free))

	submitted := 0
	for _, job := range batch.Jobs {
		if free <= 0 {
			break
		}
		if e.control.Halted(ctx) {
			break
		}
		e.control.WaitWhilePaused(ctx)
		if e.control.Halted(ctx) {
			break
		}
		if job.Status != models.StatusPending {
			continue
		}

		e.reporter.Info("Queueing job",
			zap.String("image", filepath.Base(job.SourceImage)),
			zap.String("job_id", job.ID))

		if err := e.service.Submit(ctx, job.SourceImage, job.PromptRaw); err != nil {
			if errors.Is(err, remote.ErrSessionLost) {
				return submitted, err
			}
			e.reporter.Warn("Submission failed, will retry next cycle",
				zap.String("image", filepath.Base(job.SourceImage)),
				zap.Error(err))
			break
		}

		if err := batch.Submit(job, e.now()); err != nil {
			return submitted, err
		}
		e.logger.Debug("Job generating",
			zap.String("job_id", job.ID),
			zap.Int("slot", job.SlotPosition))

		free--
		submitted++

		if !e.control.Sleep(ctx, e.opts.SubmitSettle) {
			break
		}
	}

	return submitted, nil
}
