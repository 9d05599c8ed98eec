package receiver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescp17/devicediscovery/internal/util"
)

const maxNameAttempts = 1000

// claimName reserves a file in dir named after name, adding " (n)" before
// the extension until the name is free. The empty file it creates is the
// reservation.
func claimName(dir, name string) (string, error) {
	name = util.SafeBaseName(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return p, nil
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

// moveToInbox moves src into the inbox under a free name derived from name.
func (a *App) moveToInbox(src, name string) (string, error) {
	dest, err := claimName(a.inboxDir, name)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dest); err == nil {
		return dest, nil
	}
	// Rename fails across filesystems; fall back to copying.
	if err := copyFile(src, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	if err := os.Remove(src); err != nil {
		slog.Warn("Failed to remove upload after copying it", "path", src, "error", err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
