package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSimulatorFeedIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	for _, prompt := range []string{"first", "second", "third"} {
		if err := sim.Submit(ctx, prompt+".png", prompt); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	for pos, want := range map[int]string{1: "third", 2: "second", 3: "first"} {
		got, ok, err := sim.PromptAt(ctx, pos)
		if err != nil || !ok || got != want {
			t.Errorf("PromptAt(%d) = %q, %v, %v; want %q", pos, got, ok, err, want)
		}
	}
	if _, ok, _ := sim.PromptAt(ctx, 4); ok {
		t.Error("PromptAt(4) should be absent")
	}

	active, err := sim.CountActiveGenerating(ctx, 2)
	if err != nil || active != 2 {
		t.Errorf("CountActiveGenerating(limit=2) = %d, %v; want 2", active, err)
	}

	sim.Complete(1)
	active, _ = sim.CountActiveGenerating(ctx, 36)
	if active != 2 {
		t.Errorf("active after completion = %d, want 2", active)
	}
}

func TestSimulatorDownload(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	dest := filepath.Join(t.TempDir(), "1.mp4")

	sim.Submit(ctx, "1.png", "cat")
	if err := sim.Download(ctx, 1, dest); err == nil {
		t.Fatal("expected error downloading an unfinished generation")
	}

	sim.Complete(1)
	if ready, _ := sim.IsReady(ctx, 1); !ready {
		t.Fatal("IsReady(1) = false after Complete")
	}
	if err := sim.Download(ctx, 1, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
}

func TestSimulatorRenderTime(t *testing.T) {
	now := time.Now()
	sim := NewSimulator(WithRenderTime(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	sim.Submit(ctx, "1.png", "cat")
	if ready, _ := sim.IsReady(ctx, 1); ready {
		t.Fatal("entry should not be ready yet")
	}
	now = now.Add(2 * time.Minute)
	if ready, _ := sim.IsReady(ctx, 1); !ready {
		t.Fatal("entry should be ready after render time")
	}
}

func TestSimulatorFailuresAndClose(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	boom := errors.New("boom")

	sim.FailNext("submit", boom)
	if err := sim.Submit(ctx, "1.png", "cat"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if err := sim.Submit(ctx, "1.png", "cat"); err != nil {
		t.Errorf("second submit should succeed, got %v", err)
	}

	sim.Close()
	if _, err := sim.CountActiveGenerating(ctx, 10); !errors.Is(err, ErrSessionLost) {
		t.Errorf("err = %v, want ErrSessionLost", err)
	}
}

func TestSimulatorOpenerRestoresSession(t *testing.T) {
	sim := NewSimulator()
	svc, err := sim.Opener()(context.Background(), OpenOptions{Session: []byte("blob")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	blob, err := svc.PersistSession(context.Background())
	if err != nil || string(blob) != "blob" {
		t.Errorf("PersistSession = %q, %v; want blob", blob, err)
	}
}
