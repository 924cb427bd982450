package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/koios/kling-batcher/internal/binder"
	"github.com/koios/kling-batcher/internal/remote"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// reconcile downloads every generating job whose slot has finished and
// still shows the job's prompt. It returns how many jobs were downloaded.
func (e *Engine) reconcile(ctx context.Context, batch *models.FolderBatch) (int, error) {
	downloaded := 0
	for _, job := range batch.Jobs {
		if job.Status != models.StatusGenerating || !job.HasSlot() {
			continue
		}
		if e.control.Halted(ctx) {
			break
		}

		ok, err := e.tryDownload(ctx, batch, job)
		if err != nil {
			return downloaded, err
		}
		if ok {
			downloaded++
			e.reporter.Progress(batch.Name, batch.Downloaded(), batch.Total())
		}
	}
	return downloaded, nil
}

// tryDownload runs the staleness, readiness and identity checks for one job
// and downloads its artifact when all pass. Only a lost session is returned
// as an error; everything else leaves the job generating for a later cycle.
func (e *Engine) tryDownload(ctx context.Context, batch *models.FolderBatch, job *models.RenderJob) (bool, error) {
	position := job.SlotPosition
	image := filepath.Base(job.SourceImage)

	if age := e.now().Sub(job.QueuedAt); age > e.opts.StaleAfter {
		e.reporter.Warn("Generation too old, skipping",
			zap.String("image", image),
			zap.Int("slot", position),
			zap.Duration("age", age))
		return false, nil
	}

	ready, err := e.service.IsReady(ctx, position)
	if err != nil {
		if errors.Is(err, remote.ErrSessionLost) {
			return false, err
		}
		e.logger.Debug("Readiness check failed", zap.Int("slot", position), zap.Error(err))
		return false, nil
	}
	if !ready {
		return false, nil
	}

	displayed, found, err := e.service.PromptAt(ctx, position)
	if err != nil {
		if errors.Is(err, remote.ErrSessionLost) {
			return false, err
		}
		e.reporter.Warn("Prompt verification failed", zap.Int("slot", position), zap.Error(err))
		return false, nil
	}
	if !found {
		e.reporter.Warn("Cannot find prompt at slot, skipping", zap.Int("slot", position))
		return false, nil
	}
	if !PromptsMatch(job.PromptNormalized, displayed) {
		e.reportMismatch(batch, job, displayed)
		return false, nil
	}
	e.reporter.Info("Prompt verified", zap.String("image", image), zap.Int("slot", position))

	if err := e.service.Download(ctx, position, job.OutputPath); err != nil {
		if errors.Is(err, remote.ErrSessionLost) {
			return false, err
		}
		e.reporter.Warn("Download failed, will retry", zap.String("image", image), zap.Error(err))
		return false, nil
	}

	if err := job.MarkDownloaded(); err != nil {
		return false, err
	}
	e.reporter.Success("Downloaded", zap.String("output", filepath.Base(job.OutputPath)))
	return true, nil
}

// reportMismatch logs a failed identity check along with the job the
// displayed prompt most likely belongs to.
func (e *Engine) reportMismatch(batch *models.FolderBatch, job *models.RenderJob, displayed string) {
	fields := []zap.Field{
		zap.Int("slot", job.SlotPosition),
		zap.String("expected", prefix(job.PromptNormalized, 80)),
		zap.String("displayed", prefix(displayed, 80)),
	}
	if i := FuzzyMatchPrompt(binder.NormalizePrompt(displayed), batch.Jobs); i >= 0 && batch.Jobs[i] != job {
		owner := batch.Jobs[i]
		fields = append(fields,
			zap.String("likely_owner", filepath.Base(owner.SourceImage)),
			zap.Int("likely_owner_slot", owner.SlotPosition))
	}
	e.reporter.Warn("Prompt mismatch at slot, skipping download", fields...)
}
