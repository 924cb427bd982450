package engine

import (
	"strings"

	"github.com/koios/kling-batcher/pkg/models"
)

const (
	verifyPrefixLen = 50
	strongPrefixLen = 40
	weakPrefixLen   = 20
)

// PromptsMatch reports whether the prompt displayed in a slot belongs to
// the expected job. Both sides are lower-cased and cut to their first 50
// characters; either cut must be contained in the other full text.
func PromptsMatch(expected, displayed string) bool {
	expected = strings.ToLower(expected)
	displayed = strings.ToLower(strings.TrimSpace(displayed))

	expectedShort := prefix(expected, verifyPrefixLen)
	displayedShort := prefix(displayed, verifyPrefixLen)

	return strings.Contains(displayed, expectedShort) || strings.Contains(expected, displayedShort)
}

// FuzzyMatchPrompt finds the job a normalized prompt most likely belongs to.
//
// Tiers are tried in decreasing precision and the first tier with a hit
// wins: exact equality, 40-character prefix, full containment, 20-character
// prefix. Downloaded jobs are never candidates. It returns -1 when nothing
// matches.
func FuzzyMatchPrompt(prompt string, jobs []*models.RenderJob) int {
	if prompt == "" {
		return -1
	}

	short := prefix(prompt, weakPrefixLen)
	tiers := []func(candidate string) bool{
		func(c string) bool { return c == prompt },
		func(c string) bool {
			return strings.HasPrefix(prompt, prefix(c, strongPrefixLen)) ||
				strings.HasPrefix(c, prefix(prompt, strongPrefixLen))
		},
		func(c string) bool { return strings.Contains(c, prompt) || strings.Contains(prompt, c) },
		func(c string) bool { return strings.HasPrefix(c, short) || strings.Contains(c, short) },
	}

	for _, matches := range tiers {
		for i, job := range jobs {
			if job.Status == models.StatusDownloaded {
				continue
			}
			if matches(job.PromptNormalized) {
				return i
			}
		}
	}
	return -1
}

// prefix cuts s to at most n runes
func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
