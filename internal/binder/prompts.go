package binder

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// PromptsFile is the per-folder prompt list, one prompt per line
const PromptsFile = "prompts.txt"

// ErrPromptsMissing is returned when a folder has no prompts file
var ErrPromptsMissing = errors.New("prompts file not found")

// ordinalPrefix matches "12: ", "12. ", "12 - ", "12 – " and "12 — "
var ordinalPrefix = regexp.MustCompile(`^\s*(\d+)\s*[:.–—-]\s*`)

// ReadPrompts loads the prompt lines of a folder. Blank lines are kept
// because prompts without an ordinal are keyed by their line position.
func ReadPrompts(dir string) ([]string, error) {
	path := filepath.Join(dir, PromptsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPromptsMissing, path)
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	lines, err := ParsePrompts(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return lines, nil
}

// maxPromptLine bounds a single prompt line
const maxPromptLine = 1024 * 1024

// ParsePrompts splits prompt file content into lines
func ParsePrompts(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxPromptLine)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", len(lines)+1, err)
	}
	return lines, nil
}

// PromptKey returns the number a prompt line binds to: its ordinal prefix
// when present, otherwise its 1-based line position.
func PromptKey(line string, index int) int {
	if m := ordinalPrefix.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return index + 1
}

// NormalizePrompt strips the ordinal prefix and lower-cases the prompt
func NormalizePrompt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = ordinalPrefix.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}
