package remote

import (
	"context"
	"errors"
)

// ErrSessionLost signals that the remote session can no longer be used.
// It is the only remote error that ends a multi-folder run.
var ErrSessionLost = errors.New("remote session lost")

// Service is a live session on the remote render service.
//
// The service exposes no job identifiers. Generations are visible only as a
// newest-first feed addressed by 1-based display position. A Service is not
// safe for concurrent use.
type Service interface {
	// Submit uploads the image, fills the prompt, triggers generation and
	// clears the upload widget. The new generation appears at position 1.
	Submit(ctx context.Context, image, prompt string) error

	// CountActiveGenerating counts entries among the newest limit that are
	// still queued or rendering.
	CountActiveGenerating(ctx context.Context, limit int) (int, error)

	// IsReady reports whether the entry at position shows a finished result.
	IsReady(ctx context.Context, position int) (bool, error)

	// PromptAt returns the prompt text shown at position.
	PromptAt(ctx context.Context, position int) (string, bool, error)

	// Download saves the artifact at position to dest.
	Download(ctx context.Context, position int, dest string) error

	PersistSession(ctx context.Context) ([]byte, error)
	RestoreSession(ctx context.Context, blob []byte) error

	// Close destroys the session.
	Close() error
}

// OpenOptions configures a new session
type OpenOptions struct {
	Headless bool
	// Session is a blob previously returned by PersistSession, or nil.
	Session []byte
}

// Opener establishes a new remote session
type Opener func(ctx context.Context, opts OpenOptions) (Service, error)
