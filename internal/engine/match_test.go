package engine

import (
	"testing"

	"github.com/koios/kling-batcher/pkg/models"
)

func TestPromptsMatch(t *testing.T) {
	long := "a lone lighthouse keeper watches a storm roll in over a grey and restless sea"

	tests := []struct {
		name      string
		expected  string
		displayed string
		want      bool
	}{
		{"identical", "a cat", "a cat", true},
		{"case and whitespace", "a cat", "  A Cat  ", true},
		{"displayed keeps ordinal", "a cat on a roof", "1: A cat on a roof", true},
		{"displayed truncated", long, long[:60] + "...", true},
		{"expected longer than shown", long, long[:30], true},
		{"different prompt", "a cat", "a dog", false},
		{"shared opening beyond fifty characters", long, long[:50] + " but then calm", true},
		{"unrelated long", long, "a crowded market street at noon with vendors shouting their prices", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromptsMatch(tt.expected, tt.displayed); got != tt.want {
				t.Errorf("PromptsMatch(%q, %q) = %v, want %v", tt.expected, tt.displayed, got, tt.want)
			}
		})
	}
}

func jobsWithPrompts(prompts ...string) []*models.RenderJob {
	jobs := make([]*models.RenderJob, len(prompts))
	for i, p := range prompts {
		jobs[i] = models.NewRenderJob(i+1, "", "", p, p, false)
	}
	return jobs
}

func TestFuzzyMatchPromptTiers(t *testing.T) {
	base := "an old steam train crossing a stone viaduct in autumn"

	tests := []struct {
		name   string
		prompt string
		jobs   []*models.RenderJob
		want   int
	}{
		{
			name:   "exact beats earlier prefix match",
			prompt: base,
			jobs:   jobsWithPrompts(base[:45]+" at dawn", base),
			want:   1,
		},
		{
			name:   "forty character prefix beats containment",
			prompt: base + " with fog",
			jobs:   jobsWithPrompts("steam train", base[:40]+" somewhere else entirely"),
			want:   1,
		},
		{
			name:   "containment beats twenty character prefix",
			prompt: "a viaduct in autumn light",
			jobs:   jobsWithPrompts("a viaduct in autumn somewhere", "under a viaduct in autumn light at noon"),
			want:   1,
		},
		{
			name:   "twenty character prefix as last resort",
			prompt: base[:25] + " over a river",
			jobs:   jobsWithPrompts("a dog", "x "+base[:20]+" y"),
			want:   1,
		},
		{
			name:   "no match",
			prompt: "completely unrelated",
			jobs:   jobsWithPrompts(base, "a dog"),
			want:   -1,
		},
		{
			name:   "empty prompt",
			prompt: "",
			jobs:   jobsWithPrompts(base),
			want:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FuzzyMatchPrompt(tt.prompt, tt.jobs); got != tt.want {
				t.Errorf("FuzzyMatchPrompt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFuzzyMatchSkipsDownloaded(t *testing.T) {
	jobs := jobsWithPrompts("a cat", "a cat")
	jobs[0].Status = models.StatusDownloaded

	if got := FuzzyMatchPrompt("a cat", jobs); got != 1 {
		t.Errorf("got %d, want 1", got)
	}

	jobs[1].Status = models.StatusDownloaded
	if got := FuzzyMatchPrompt("a cat", jobs); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}
