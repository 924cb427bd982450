package binder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ResolveFolders returns the folders to process under root.
//
// With a selection, folders are returned in the selected order and missing
// ones are skipped with a warning. Without one, every sub-directory of root
// is returned sorted by name.
func ResolveFolders(root string, selected []string, logger *zap.Logger) ([]string, error) {
	if len(selected) > 0 {
		var folders []string
		for _, name := range selected {
			path := filepath.Join(root, name)
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				logger.Warn("Folder not found", zap.String("folder", name))
				continue
			}
			folders = append(folders, path)
		}
		return folders, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read root folder: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		if entry.IsDir() {
			folders = append(folders, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// FolderSummary describes an input folder for the control surfaces
type FolderSummary struct {
	Name       string `json:"name"`
	Images     int    `json:"images"`
	HasPrompts bool   `json:"has_prompts"`
}

// SummarizeFolders lists every sub-directory of root with its image count
func SummarizeFolders(root string, logger *zap.Logger) ([]FolderSummary, error) {
	folders, err := ResolveFolders(root, nil, logger)
	if err != nil {
		return nil, err
	}

	summaries := make([]FolderSummary, 0, len(folders))
	for _, dir := range folders {
		s := FolderSummary{Name: filepath.Base(dir)}
		images, err := ListImages(dir)
		if err != nil {
			logger.Warn("Cannot list images", zap.String("folder", s.Name), zap.Error(err))
		}
		s.Images = len(images)
		if info, err := os.Stat(filepath.Join(dir, PromptsFile)); err == nil && !info.IsDir() {
			s.HasPrompts = true
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// ValidFolderName reports whether name is a single path element below root
func ValidFolderName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
