package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store resolves sticker and caption content used when building censoring
// options. Queue and dispatch correctness never depends on it.
type Store interface {
	Categories() ([]string, error)
	Images(category string) ([]string, error)
}

// DirStore serves assets from the local filesystem: one subdirectory per
// category, one file per image. Intended for development and self-hosted
// deployments where an object storage service is not available.
type DirStore struct {
	basePath string
}

// NewDirStore initializes a DirStore rooted at basePath.
func NewDirStore(basePath string) (*DirStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("assets: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("assets: ensure base path: %w", err)
	}
	return &DirStore{basePath: basePath}, nil
}

// Categories lists the category subdirectories, sorted.
func (s *DirStore) Categories() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("assets: read base path: %w", err)
	}
	categories := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			categories = append(categories, entry.Name())
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// Images lists the image file paths inside one category, relative to the
// store root. Category names are sanitized to prevent directory traversal.
func (s *DirStore) Images(category string) ([]string, error) {
	clean, err := sanitizeCategory(category)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, clean)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("assets: read category %q: %w", clean, err)
	}
	images := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		images = append(images, clean+"/"+entry.Name())
	}
	sort.Strings(images)
	return images, nil
}

func sanitizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", errors.New("assets: category is required")
	}
	cleaned := filepath.Clean(strings.ReplaceAll(category, "\\", "/"))
	if cleaned == "." || cleaned == "/" || strings.Contains(cleaned, "..") || strings.Contains(cleaned, "/") {
		return "", errors.New("assets: invalid category")
	}
	return cleaned, nil
}
