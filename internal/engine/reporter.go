package engine

import (
	"fmt"
	"strings"

	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Callbacks are invoked by the worker while batches are processed
type Callbacks struct {
	OnLog      func(level models.LogLevel, message string)
	OnProgress func(folder string, completed, total int)
}

// Reporter writes structured logs and forwards them to the control surface
type Reporter struct {
	logger    *zap.Logger
	callbacks Callbacks
}

// NewReporter creates a reporter; nil callbacks are ignored
func NewReporter(logger *zap.Logger, callbacks Callbacks) *Reporter {
	return &Reporter{logger: logger, callbacks: callbacks}
}

func (r *Reporter) Debug(msg string, fields ...zap.Field) {
	r.log(models.LevelDebug, msg, fields)
}

func (r *Reporter) Info(msg string, fields ...zap.Field) {
	r.log(models.LevelInfo, msg, fields)
}

func (r *Reporter) Success(msg string, fields ...zap.Field) {
	r.log(models.LevelSuccess, msg, fields)
}

func (r *Reporter) Warn(msg string, fields ...zap.Field) {
	r.log(models.LevelWarning, msg, fields)
}

func (r *Reporter) Error(msg string, fields ...zap.Field) {
	r.log(models.LevelError, msg, fields)
}

// Progress reports completed/total for folder
func (r *Reporter) Progress(folder string, completed, total int) {
	r.logger.Debug("Progress",
		zap.String("folder", folder),
		zap.Int("completed", completed),
		zap.Int("total", total))
	if r.callbacks.OnProgress != nil {
		r.callbacks.OnProgress(folder, completed, total)
	}
}

func (r *Reporter) log(level models.LogLevel, msg string, fields []zap.Field) {
	switch level {
	case models.LevelDebug:
		r.logger.Debug(msg, fields...)
	case models.LevelWarning:
		r.logger.Warn(msg, fields...)
	case models.LevelError:
		r.logger.Error(msg, fields...)
	case models.LevelSuccess:
		r.logger.Info(msg, append(fields, zap.Bool("success", true))...)
	default:
		r.logger.Info(msg, fields...)
	}

	if r.callbacks.OnLog != nil {
		r.callbacks.OnLog(level, formatMessage(msg, fields))
	}
}

// formatMessage renders zap fields as "msg (key=value, ...)" for human display
func formatMessage(msg string, fields []zap.Field) string {
	if len(fields) == 0 {
		return msg
	}
	enc := zapcore.NewMapObjectEncoder()
	var b strings.Builder
	b.WriteString(msg)
	b.WriteString(" (")
	for i, f := range fields {
		f.AddTo(enc)
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", f.Key, enc.Fields[f.Key])
	}
	b.WriteString(")")
	return b.String()
}
