package fileInfo

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ChecksumFile returns the hex SHA-256 of the file at path.
func ChecksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "error", err.Error())
		}
	}()
	w := NewChecksumWriter()
	if _, err := io.Copy(w, file); err != nil {
		return "", err
	}
	return w.Sum(), nil
}

// ChecksumWriter hashes and counts everything written to it.
type ChecksumWriter struct {
	h hash.Hash
	n int64
}

func NewChecksumWriter() *ChecksumWriter {
	return &ChecksumWriter{h: sha256.New()}
}

func (w *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := w.h.Write(p)
	w.n += int64(n)
	return n, err
}

// Sum returns the hex SHA-256 of the bytes written so far.
func (w *ChecksumWriter) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Len returns the number of bytes written.
func (w *ChecksumWriter) Len() int64 {
	return w.n
}

// CalcChecksum fills Checksum. Directories hash the sorted
// "name:checksum" pairs of their children.
func (n *FileNode) CalcChecksum() (string, error) {
	if !n.IsDir {
		sum, err := ChecksumFile(n.Path)
		if err != nil {
			return "", err
		}
		n.Checksum = sum
		return sum, nil
	}

	childSums := make([]string, 0, len(n.Children))
	for i := range n.Children {
		child := &n.Children[i]
		sum := child.Checksum
		if sum == "" {
			var err error
			if sum, err = child.CalcChecksum(); err != nil {
				return "", err
			}
		}
		childSums = append(childSums, child.Name+":"+sum)
	}
	hash := sha256.Sum256([]byte(strings.Join(childSums, "|")))
	n.Checksum = hex.EncodeToString(hash[:])
	return n.Checksum, nil
}

// VerifySHA256 recomputes the checksum and compares it to expected.
func (n *FileNode) VerifySHA256(expected string) (bool, error) {
	n.resetChecksums()
	actual, err := n.CalcChecksum()
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func (n *FileNode) resetChecksums() {
	n.Checksum = ""
	for i := range n.Children {
		n.Children[i].resetChecksums()
	}
}
