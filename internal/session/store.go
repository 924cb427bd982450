package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no session has been saved
var ErrNotFound = errors.New("no saved session")

// Store persists the opaque login session blob produced by the browser
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}
