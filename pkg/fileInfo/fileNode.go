package fileInfo

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "application/octet-stream"

// FileNode describes a shared file or directory tree.
type FileNode struct {
	Name     string     `json:"name"`
	IsDir    bool       `json:"is_dir"`
	Size     int64      `json:"size"`
	MimeType string     `json:"mime_type,omitempty"`
	Checksum string     `json:"checksum,omitempty"`
	Children []FileNode `json:"children,omitempty"`
	Path     string     `json:"-"`
}

// DetectMimeType sniffs the content type of the file at path.
func DetectMimeType(path string) string {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return defaultMimeType
	}
	return mime.String()
}

// CreateNode describes path, recursing into directories. Checksums are
// computed only when withChecksum is set since they read every byte.
func CreateNode(path string, withChecksum bool) (FileNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, err
	}
	node := FileNode{
		Name:  info.Name(),
		IsDir: info.IsDir(),
		Size:  info.Size(),
		Path:  path,
	}
	if !node.IsDir {
		node.MimeType = DetectMimeType(path)
		if withChecksum {
			if _, err := node.CalcChecksum(); err != nil {
				return FileNode{}, err
			}
		}
		return node, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return FileNode{}, err
	}
	node.Size = 0
	node.Children = make([]FileNode, 0, len(entries))
	for _, entry := range entries {
		childPath := filepath.Join(path, entry.Name())
		child, err := CreateNode(childPath, withChecksum)
		if err != nil {
			slog.Warn("Skipping unreadable entry", "path", childPath, "error", err)
			continue
		}
		node.Children = append(node.Children, child)
		node.Size += child.Size
	}
	sort.Slice(node.Children, func(i, j int) bool {
		return node.Children[i].Name < node.Children[j].Name
	})
	if withChecksum {
		if _, err := node.CalcChecksum(); err != nil {
			return FileNode{}, err
		}
	}
	return node, nil
}

// DetectMimeTypeReader sniffs the content type of r and rewinds it.
func DetectMimeTypeReader(r io.ReadSeeker) string {
	mime, err := mimetype.DetectReader(r)
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return defaultMimeType
	}
	return mime.String()
}
