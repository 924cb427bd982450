package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/koios/kling-batcher/pkg/models"
)

const defaultSaveTimeout = 5 * time.Second

var (
	// ErrSavePending is returned when a save is requested while another is still queued
	ErrSavePending = errors.New("a session save is already pending")
	// ErrSaveTimeout is returned when the worker did not answer in time
	ErrSaveTimeout = errors.New("timeout waiting for session save")
	// ErrNotAttached is returned before the worker owns a session
	ErrNotAttached = errors.New("browser session not started yet")
)

type saveRequest struct {
	done chan models.SaveResult
}

// SaveCoordinator hands "persist the session now" requests from the control
// side to the worker that owns the session handle.
//
// It is a single-slot mailbox: at most one request is queued at a time. The
// worker drains it at its idle points; the requester waits for the result
// with a bounded timeout.
type SaveCoordinator struct {
	mailbox  chan *saveRequest
	attached atomic.Bool
	timeout  time.Duration
}

// NewSaveCoordinator creates a coordinator with the given requester timeout
func NewSaveCoordinator(timeout time.Duration) *SaveCoordinator {
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	return &SaveCoordinator{
		mailbox: make(chan *saveRequest, 1),
		timeout: timeout,
	}
}

// Attach marks that the worker owns a session and will service requests
func (c *SaveCoordinator) Attach() { c.attached.Store(true) }

// Detach marks that the session is gone; queued requests are dropped
func (c *SaveCoordinator) Detach() {
	c.attached.Store(false)
	select {
	case req := <-c.mailbox:
		req.done <- models.SaveResult{Success: false, Message: ErrNotAttached.Error()}
	default:
	}
}

// Request asks the worker to save the session and waits for the outcome.
// It is called from the control side.
func (c *SaveCoordinator) Request(ctx context.Context) (models.SaveResult, error) {
	if !c.attached.Load() {
		return models.SaveResult{Message: ErrNotAttached.Error()}, ErrNotAttached
	}

	req := &saveRequest{done: make(chan models.SaveResult, 1)}
	select {
	case c.mailbox <- req:
	default:
		return models.SaveResult{Message: ErrSavePending.Error()}, ErrSavePending
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-req.done:
		return result, nil
	case <-timer.C:
		c.withdraw(req)
		return models.SaveResult{Message: ErrSaveTimeout.Error()}, ErrSaveTimeout
	case <-ctx.Done():
		c.withdraw(req)
		return models.SaveResult{Message: ctx.Err().Error()}, ctx.Err()
	}
}

// Serve runs save for a queued request, if any, and publishes its result.
// It is called from the worker at idle points and never blocks.
func (c *SaveCoordinator) Serve(save func() models.SaveResult) bool {
	select {
	case req := <-c.mailbox:
		req.done <- save()
		return true
	default:
		return false
	}
}

func (c *SaveCoordinator) withdraw(req *saveRequest) {
	select {
	case queued := <-c.mailbox:
		if queued != req {
			// Not ours; put it back.
			select {
			case c.mailbox <- queued:
			default:
			}
		}
	default:
	}
}
