package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckDirectory reports whether path exists and whether it is a directory.
// A missing path is not an error.
func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// EnsureDirectory creates path if missing and fails if it exists as a file.
func EnsureDirectory(path string) error {
	exists, isDir, err := CheckDirectory(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists && !isDir {
		return fmt.Errorf("%s exists and is not a directory", path)
	}
	if !exists {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil
}

// SafeBaseName reduces a client supplied file name to its last element so it
// cannot address anything outside the directory it is joined with.
func SafeBaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	switch base {
	case ".", "..", string(filepath.Separator), "":
		return "upload"
	}
	return base
}
