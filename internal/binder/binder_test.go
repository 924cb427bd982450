package binder

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/koios/kling-batcher/pkg/models"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

func TestListImagesSortOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.png", "2.jpg", "1_intro.webp", "cover.png", "3-b.JPEG", "alpha.png", "notes.txt", "12abc.png"} {
		writeFile(t, filepath.Join(dir, name), "x")
	}
	if err := os.Mkdir(filepath.Join(dir, "4.png"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	images, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}

	want := []string{"1_intro.webp", "2.jpg", "3-b.JPEG", "10.png", "12abc.png", "alpha.png", "cover.png"}
	if got := baseNames(images); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestImageNumber(t *testing.T) {
	tests := []struct {
		path string
		want int
		ok   bool
	}{
		{"/a/1.png", 1, true},
		{"/a/007_scene.jpg", 7, true},
		{"/a/12abc.png", 12, true},
		{"/a/cover.png", 0, false},
	}
	for _, tt := range tests {
		got, ok := ImageNumber(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ImageNumber(%q) = %d, %v; want %d, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPromptKey(t *testing.T) {
	tests := []struct {
		line  string
		index int
		want  int
	}{
		{"1: cat", 0, 1},
		{"  4. dog", 0, 4},
		{"7 - bird", 2, 7},
		{"8 – en dash", 0, 8},
		{"9—em dash", 0, 9},
		{"no number here", 2, 3},
		{"42 without separator", 5, 6},
		{"", 0, 1},
	}
	for _, tt := range tests {
		if got := PromptKey(tt.line, tt.index); got != tt.want {
			t.Errorf("PromptKey(%q, %d) = %d, want %d", tt.line, tt.index, got, tt.want)
		}
	}
}

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" 1: Cat ", "cat"},
		{"Cat", "cat"},
		{"12. A Dog Running", "a dog running"},
		{"3 - Sunset", "sunset"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizePrompt(tt.in); got != tt.want {
			t.Errorf("NormalizePrompt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePrompts(t *testing.T) {
	got, err := ParsePrompts([]byte("\xef\xbb\xbf1: cat\r\n\r\n3: dog\n"))
	if err != nil {
		t.Fatalf("ParsePrompts: %v", err)
	}
	want := []string{"1: cat", "", "3: dog"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePrompts = %q, want %q", got, want)
	}
}

func TestReadPromptsOverlongLine(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("a", maxPromptLine+1)
	writeFile(t, filepath.Join(dir, PromptsFile), "1: cat\n2: "+long+"\n3: dog\n")

	lines, err := ReadPrompts(dir)
	if err == nil {
		t.Fatalf("expected error for overlong line, got %d lines", len(lines))
	}
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("err = %v, want bufio.ErrTooLong", err)
	}
}

func TestReadPromptsMissing(t *testing.T) {
	_, err := ReadPrompts(t.TempDir())
	if !errors.Is(err, ErrPromptsMissing) {
		t.Errorf("err = %v, want ErrPromptsMissing", err)
	}
}

func TestBind(t *testing.T) {
	noOutputs := WithOutputCheck(func(string) bool { return false })

	t.Run("jobs only for images with a matching prompt", func(t *testing.T) {
		b := New(zap.NewNop(), noOutputs)
		images := []string{"/f/1.png", "/f/2.png", "/f/5.png", "/f/cover.png"}
		prompts := []string{"1: cat", "2: dog", "3: bird", "4: fish"}

		batch := b.Bind("f", "/f", images, prompts)
		if batch.Total() != 2 {
			t.Fatalf("Total = %d, want 2", batch.Total())
		}
		if batch.Jobs[0].Number != 1 || batch.Jobs[1].Number != 2 {
			t.Errorf("numbers = %d,%d, want 1,2", batch.Jobs[0].Number, batch.Jobs[1].Number)
		}
		if batch.Jobs[0].PromptNormalized != "cat" || batch.Jobs[0].PromptRaw != "1: cat" {
			t.Errorf("job 1 prompts = %q/%q", batch.Jobs[0].PromptRaw, batch.Jobs[0].PromptNormalized)
		}
		if batch.Jobs[0].OutputPath != "/f/1.mp4" {
			t.Errorf("OutputPath = %q, want /f/1.mp4", batch.Jobs[0].OutputPath)
		}
	})

	t.Run("prompts without ordinal bind by line position", func(t *testing.T) {
		b := New(zap.NewNop(), noOutputs)
		batch := b.Bind("f", "/f", []string{"/f/1.png", "/f/2.png"}, []string{"Cat", "Dog"})
		if batch.Total() != 2 {
			t.Fatalf("Total = %d, want 2", batch.Total())
		}
		if batch.Jobs[1].PromptNormalized != "dog" {
			t.Errorf("job 2 prompt = %q, want dog", batch.Jobs[1].PromptNormalized)
		}
	})

	t.Run("fewer prompts than images truncates images", func(t *testing.T) {
		b := New(zap.NewNop(), noOutputs)
		images := []string{"/f/1.png", "/f/2.png", "/f/3.png"}
		batch := b.Bind("f", "/f", images, []string{"3: late", "1: cat"})
		// Only 1.png and 2.png are considered; 2 has no prompt.
		if batch.Total() != 1 || batch.Jobs[0].Number != 1 {
			t.Fatalf("got %d jobs, want only job 1", batch.Total())
		}
	})

	t.Run("existing outputs start downloaded", func(t *testing.T) {
		b := New(zap.NewNop(), WithOutputCheck(func(p string) bool { return p == "/f/2.mp4" }))
		batch := b.Bind("f", "/f", []string{"/f/1.png", "/f/2.png"}, []string{"1: a", "2: b"})
		if batch.Jobs[0].Status != models.StatusPending {
			t.Errorf("job 1 status = %s, want pending", batch.Jobs[0].Status)
		}
		if batch.Jobs[1].Status != models.StatusDownloaded {
			t.Errorf("job 2 status = %s, want downloaded", batch.Jobs[1].Status)
		}
		if batch.Remaining() != 1 {
			t.Errorf("Remaining = %d, want 1", batch.Remaining())
		}
	})

	t.Run("custom output extension", func(t *testing.T) {
		b := New(zap.NewNop(), noOutputs, WithOutputExt(".webm"))
		batch := b.Bind("f", "/f", []string{"/f/1.png"}, []string{"cat"})
		if batch.Jobs[0].OutputPath != "/f/1.webm" {
			t.Errorf("OutputPath = %q, want /f/1.webm", batch.Jobs[0].OutputPath)
		}
	})
}

func TestBindIsIdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1.png"), "img")
	writeFile(t, filepath.Join(dir, "2.png"), "img")
	writeFile(t, filepath.Join(dir, "3.png"), "img")
	writeFile(t, filepath.Join(dir, "2.mp4"), "video")
	writeFile(t, filepath.Join(dir, PromptsFile), "1: cat\n2: dog\n3: bird\n")

	build := func() *models.FolderBatch {
		images, err := ListImages(dir)
		if err != nil {
			t.Fatalf("ListImages: %v", err)
		}
		prompts, err := ReadPrompts(dir)
		if err != nil {
			t.Fatalf("ReadPrompts: %v", err)
		}
		return New(zap.NewNop()).Bind("f", dir, images, prompts)
	}

	first, second := build(), build()
	if first.Total() != second.Total() {
		t.Fatalf("totals differ: %d vs %d", first.Total(), second.Total())
	}
	for i := range first.Jobs {
		a, b := first.Jobs[i], second.Jobs[i]
		if a.SourceImage != b.SourceImage || a.Status != b.Status || a.PromptNormalized != b.PromptNormalized {
			t.Errorf("job %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
	if first.Jobs[1].Status != models.StatusDownloaded {
		t.Errorf("job 2 status = %s, want downloaded", first.Jobs[1].Status)
	}
	if len(first.Pending()) != 2 {
		t.Errorf("Pending = %d, want 2", len(first.Pending()))
	}
}

func TestResolveFolders(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b", "a", "c"} {
		if err := os.Mkdir(filepath.Join(root, name), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeFile(t, filepath.Join(root, "file.txt"), "x")

	t.Run("all folders sorted by name", func(t *testing.T) {
		folders, err := ResolveFolders(root, nil, zap.NewNop())
		if err != nil {
			t.Fatalf("ResolveFolders: %v", err)
		}
		if got := baseNames(folders); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Errorf("got %v, want [a b c]", got)
		}
	})

	t.Run("selected order kept and missing skipped", func(t *testing.T) {
		folders, err := ResolveFolders(root, []string{"c", "missing", "a"}, zap.NewNop())
		if err != nil {
			t.Fatalf("ResolveFolders: %v", err)
		}
		if got := baseNames(folders); !reflect.DeepEqual(got, []string{"c", "a"}) {
			t.Errorf("got %v, want [c a]", got)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := ResolveFolders(filepath.Join(root, "nope"), nil, zap.NewNop()); err == nil {
			t.Error("expected error for missing root")
		}
	})
}

func TestSummarizeFolders(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b", "a"} {
		if err := os.Mkdir(filepath.Join(root, name), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeFile(t, filepath.Join(root, "a", "1.png"), "x")
	writeFile(t, filepath.Join(root, "a", "2.JPG"), "x")
	writeFile(t, filepath.Join(root, "a", "notes.md"), "x")
	writeFile(t, filepath.Join(root, "a", PromptsFile), "1: cat\n")
	writeFile(t, filepath.Join(root, "top.png"), "x")

	got, err := SummarizeFolders(root, zap.NewNop())
	if err != nil {
		t.Fatalf("SummarizeFolders: %v", err)
	}
	want := []FolderSummary{
		{Name: "a", Images: 2, HasPrompts: true},
		{Name: "b", Images: 0, HasPrompts: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := SummarizeFolders(filepath.Join(root, "nope"), zap.NewNop()); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestValidFolderName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"batch-01", true},
		{"my folder", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		if got := ValidFolderName(tt.name); got != tt.want {
			t.Errorf("ValidFolderName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
