package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koios/kling-batcher/internal/binder"
	"github.com/koios/kling-batcher/internal/engine"
	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

// ErrInvalidFolder is returned when a start command names a folder outside the root
var ErrInvalidFolder = errors.New("invalid folder name")

// BatchController is the part of the worker the control surfaces drive
type BatchController interface {
	StartProcessing(folders []string) bool
	Pause()
	Resume()
	Stop()
	SaveSession(ctx context.Context) (models.SaveResult, error)
	Status() engine.Status
	Folders() ([]binder.FolderSummary, error)
}

// CommandHandler applies control commands to the worker
type CommandHandler struct {
	worker BatchController
	logger *zap.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(worker BatchController, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		worker: worker,
		logger: logger,
	}
}

// Handle processes a control command
func (h *CommandHandler) Handle(ctx context.Context, cmd *models.Command) (*models.CommandResult, error) {
	h.logger.Info("Processing command",
		zap.String("command", cmd.Name),
		zap.String("request_id", cmd.RequestID))

	result := &models.CommandResult{
		Command:   cmd.Name,
		RequestID: cmd.RequestID,
	}

	var err error
	switch cmd.Name {
	case models.CommandStart:
		for _, name := range cmd.Folders {
			if !binder.ValidFolderName(name) {
				err = fmt.Errorf("%w: %q", ErrInvalidFolder, name)
				break
			}
		}
		switch {
		case err != nil:
		case h.worker.StartProcessing(cmd.Folders):
			result.Success, result.Message = true, "Processing started"
		default:
			err = errors.New("processing already started")
		}
	case models.CommandPause:
		h.worker.Pause()
		result.Success, result.Message = true, "Paused"
	case models.CommandResume:
		h.worker.Resume()
		result.Success, result.Message = true, "Resumed"
	case models.CommandStop:
		h.worker.Stop()
		result.Success, result.Message = true, "Stop requested"
	case models.CommandSaveSession:
		var saved models.SaveResult
		saved, err = h.worker.SaveSession(ctx)
		result.Success, result.Message = saved.Success, saved.Message
	case "":
		err = errors.New("command is required")
	default:
		err = fmt.Errorf("unknown command: %s", cmd.Name)
	}

	result.ProcessedAt = time.Now()
	if err != nil {
		h.logger.Error("Command failed",
			zap.String("command", cmd.Name),
			zap.Error(err))
		result.Success = false
		result.Message = err.Error()
		return result, err
	}

	h.logger.Info("Command completed",
		zap.String("command", cmd.Name),
		zap.Bool("success", result.Success))
	return result, nil
}
