package binder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	numericStem       = regexp.MustCompile(`^(\d+)$`)
	numericPrefixStem = regexp.MustCompile(`^(\d+)[-_].*`)
	leadingNumber     = regexp.MustCompile(`^(\d+)`)

	imageExtensions = map[string]bool{
		".png":  true,
		".jpg":  true,
		".jpeg": true,
		".webp": true,
	}
)

// ListImages returns the images in dir ordered by their numeric filename key.
// Names without a numeric key sort lexically after all numbered ones.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}

	SortImages(images)
	return images, nil
}

// SortImages orders image paths in place by their sort key
func SortImages(images []string) {
	sort.SliceStable(images, func(i, j int) bool {
		a, b := imageSortKey(images[i]), imageSortKey(images[j])
		if a.group != b.group {
			return a.group < b.group
		}
		if a.group == 0 && a.number != b.number {
			return a.number < b.number
		}
		return a.name < b.name
	})
}

type sortKey struct {
	group  int
	number int
	name   string
}

func imageSortKey(path string) sortKey {
	name := filepath.Base(path)
	stem := stemOf(name)
	for _, re := range []*regexp.Regexp{numericStem, numericPrefixStem} {
		if m := re.FindStringSubmatch(stem); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return sortKey{group: 0, number: n, name: strings.ToLower(name)}
			}
		}
	}
	return sortKey{group: 1, name: strings.ToLower(name)}
}

// ImageNumber extracts the leading number of an image filename
func ImageNumber(path string) (int, bool) {
	m := leadingNumber.FindStringSubmatch(stemOf(filepath.Base(path)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// OutputPath returns where the rendered artifact for an image is stored
func OutputPath(image, ext string) string {
	return strings.TrimSuffix(image, filepath.Ext(image)) + ext
}

func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
