package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxFolderSuffix = 10000

// Folder is a resolved, already created output directory.
type Folder struct {
	Name string
	Path string
}

// FolderResolver picks unique destination folders below a base directory.
type FolderResolver struct{}

// SanitizeFolderName replaces characters that are unsafe in file names on any of the
// platforms requesters sync to, and trims leading/trailing dots and spaces.
func SanitizeFolderName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	return strings.Trim(mapped, ". ")
}

// Resolve creates base/name, or base/name_1, base/name_2, ... for the first candidate
// that does not exist. An empty sanitized name falls back to "request-<id>".
func (FolderResolver) Resolve(base, name, requestID string) (Folder, error) {
	clean := SanitizeFolderName(name)
	if clean == "" {
		clean = "request-" + SanitizeFolderName(requestID)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return Folder{}, fmt.Errorf("create output root %s: %w", base, err)
	}

	for i := 0; i < maxFolderSuffix; i++ {
		candidate := clean
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", clean, i)
		}
		path := filepath.Join(base, candidate)
		// Mkdir fails on an existing path, so probing and creating is one step.
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return Folder{Name: candidate, Path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return Folder{}, fmt.Errorf("create folder %s: %w", path, err)
		}
	}
	return Folder{}, fmt.Errorf("no free folder name for %q after %d attempts", clean, maxFolderSuffix)
}
