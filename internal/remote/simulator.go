package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// SimEntry is one generation in the simulated feed
type SimEntry struct {
	Image       string
	Prompt      string
	Ready       bool
	SubmittedAt time.Time
}

// Simulator is an in-memory Service backed by a newest-first feed.
// It is used for dry runs and tests.
type Simulator struct {
	mu         sync.Mutex
	entries    []*SimEntry
	session    []byte
	renderTime time.Duration
	now        func() time.Time
	failures   map[string]error
	closed     bool
	opened     int
	submits    int
	downloads  int
}

// SimOption configures a Simulator
type SimOption func(*Simulator)

// WithRenderTime makes entries finish on their own after d
func WithRenderTime(d time.Duration) SimOption {
	return func(s *Simulator) {
		s.renderTime = d
	}
}

// WithClock replaces the simulator's time source
func WithClock(now func() time.Time) SimOption {
	return func(s *Simulator) {
		s.now = now
	}
}

// NewSimulator creates an empty simulated feed
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		now:      time.Now,
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Opener returns an Opener that hands out this simulator
func (s *Simulator) Opener() Opener {
	return func(ctx context.Context, opts OpenOptions) (Service, error) {
		if err := s.takeFailure("open"); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.closed = false
		s.opened++
		s.mu.Unlock()
		if opts.Session != nil {
			if err := s.RestoreSession(ctx, opts.Session); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
}

func (s *Simulator) Submit(ctx context.Context, image, prompt string) error {
	if err := s.check("submit"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &SimEntry{Image: image, Prompt: prompt, SubmittedAt: s.now()}
	s.entries = append([]*SimEntry{entry}, s.entries...)
	s.submits++
	return nil
}

func (s *Simulator) CountActiveGenerating(ctx context.Context, limit int) (int, error) {
	if err := s.check("count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i, entry := range s.entries {
		if i >= limit {
			break
		}
		if !s.ready(entry) {
			count++
		}
	}
	return count, nil
}

func (s *Simulator) IsReady(ctx context.Context, position int) (bool, error) {
	if err := s.check("ready"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.at(position)
	return entry != nil && s.ready(entry), nil
}

func (s *Simulator) PromptAt(ctx context.Context, position int) (string, bool, error) {
	if err := s.check("prompt"); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.at(position)
	if entry == nil {
		return "", false, nil
	}
	return entry.Prompt, true, nil
}

func (s *Simulator) Download(ctx context.Context, position int, dest string) error {
	if err := s.check("download"); err != nil {
		return err
	}
	s.mu.Lock()
	entry := s.at(position)
	if entry == nil || !s.ready(entry) {
		s.mu.Unlock()
		return fmt.Errorf("no finished generation at position %d", position)
	}
	content := fmt.Sprintf("rendered %s | %s\n", entry.Image, entry.Prompt)
	s.downloads++
	s.mu.Unlock()

	if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *Simulator) PersistSession(ctx context.Context) ([]byte, error) {
	if err := s.check("persist"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return []byte(`{"cookies":[{"name":"session","value":"simulated"}]}`), nil
	}
	return append([]byte(nil), s.session...), nil
}

func (s *Simulator) RestoreSession(ctx context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = append([]byte(nil), blob...)
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Complete marks the entry at position as finished
func (s *Simulator) Complete(position int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.at(position)
	if entry == nil {
		return false
	}
	entry.Ready = true
	return true
}

// CompleteAll marks every entry as finished
func (s *Simulator) CompleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		entry.Ready = true
	}
}

// SetPrompt overrides the prompt text displayed at position
func (s *Simulator) SetPrompt(position int, prompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.at(position)
	if entry == nil {
		return false
	}
	entry.Prompt = prompt
	return true
}

// Inject pushes an entry the scheduler did not submit, as a manual
// generation in the same account would.
func (s *Simulator) Inject(prompt string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]*SimEntry{{Prompt: prompt, Ready: ready, SubmittedAt: s.now()}}, s.entries...)
}

// FailNext makes the next call of op return err.
// Ops are open, submit, count, ready, prompt, download and persist.
func (s *Simulator) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Entries returns a snapshot of the feed, newest first
func (s *Simulator) Entries() []SimEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimEntry, len(s.entries))
	for i, entry := range s.entries {
		out[i] = *entry
		out[i].Ready = s.ready(entry)
	}
	return out
}

// Submissions returns how many generations were submitted
func (s *Simulator) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Downloads returns how many artifacts were downloaded
func (s *Simulator) Downloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads
}

// Closed reports whether the session was destroyed
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Session returns the currently restored session blob
func (s *Simulator) Session() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.session...)
}

func (s *Simulator) check(op string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionLost
	}
	return s.takeFailure(op)
}

func (s *Simulator) takeFailure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	if err == nil {
		err = errors.New("simulated failure")
	}
	return err
}

func (s *Simulator) at(position int) *SimEntry {
	if position < 1 || position > len(s.entries) {
		return nil
	}
	return s.entries[position-1]
}

func (s *Simulator) ready(entry *SimEntry) bool {
	if entry.Ready {
		return true
	}
	return s.renderTime > 0 && s.now().Sub(entry.SubmittedAt) >= s.renderTime
}
