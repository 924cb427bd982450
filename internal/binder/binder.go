package binder

import (
	"os"
	"path/filepath"

	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// DefaultOutputExt is the extension of downloaded artifacts
const DefaultOutputExt = ".mp4"

// Binder pairs folder images with prompt lines
type Binder struct {
	logger       *zap.Logger
	outputExt    string
	outputExists func(path string) bool
}

// Option configures a Binder
type Option func(*Binder)

// WithOutputExt sets the artifact extension used to derive output paths
func WithOutputExt(ext string) Option {
	return func(b *Binder) {
		if ext != "" {
			b.outputExt = ext
		}
	}
}

// WithOutputCheck replaces the on-disk existence check for output artifacts
func WithOutputCheck(exists func(path string) bool) Option {
	return func(b *Binder) {
		b.outputExists = exists
	}
}

// New creates a binder that logs skipped images to logger
func New(logger *zap.Logger, opts ...Option) *Binder {
	b := &Binder{
		logger:       logger,
		outputExt:    DefaultOutputExt,
		outputExists: fileExists,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind builds the job batch for a folder from its sorted images and prompt lines.
//
// Images without a leading number, or whose number has no prompt, are
// skipped with a warning. Jobs whose output already exists start out
// downloaded and are never resubmitted.
func (b *Binder) Bind(name, dir string, images, prompts []string) *models.FolderBatch {
	batch := &models.FolderBatch{Name: name, Dir: dir}

	if len(prompts) < len(images) {
		b.logger.Warn("Fewer prompts than images, processing only the first images",
			zap.String("folder", name),
			zap.Int("prompts", len(prompts)),
			zap.Int("images", len(images)))
		images = images[:len(prompts)]
	}

	promptMap := make(map[int]string, len(prompts))
	for i, line := range prompts {
		promptMap[PromptKey(line, i)] = line
	}

	for _, image := range images {
		number, ok := ImageNumber(image)
		if !ok {
			b.logger.Warn("Cannot extract number from image name, skipping",
				zap.String("folder", name),
				zap.String("image", filepath.Base(image)))
			continue
		}

		raw, ok := promptMap[number]
		if !ok {
			b.logger.Warn("No prompt found for image number, skipping",
				zap.String("folder", name),
				zap.String("image", filepath.Base(image)),
				zap.Int("number", number))
			continue
		}

		output := OutputPath(image, b.outputExt)
		batch.Jobs = append(batch.Jobs, models.NewRenderJob(
			number, image, output, raw, NormalizePrompt(raw), b.outputExists(output)))
	}

	return batch
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
