// Package receiver is the embedding application behind the share command:
// it answers file requests from a shared directory and collects uploads
// into an inbox.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	appevents "github.com/rescp17/devicediscovery/internal/app_events"
	"github.com/rescp17/devicediscovery/internal/app_events/receiver"
	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
	"github.com/rescp17/devicediscovery/pkg/protocol"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

const (
	// UploadReply is the body returned for an accepted upload.
	UploadReply = "OK"
	// TextReply is the body returned for any text request except the listing.
	TextReply = "Received"

	dataPrefix = "/data/"
	listPath   = "/text/list"
)

// App shares one directory read-only and stores uploads in an inbox
// directory it owns.
type App struct {
	shareDir        string
	inboxDir        string
	defaultDocument string
	share           *os.Root
	uiMessages      chan appevents.AppUIMessage

	mu       sync.Mutex
	received []fileInfo.FileNode
}

// NewApp opens shareDir and creates inboxDir if needed. An empty
// defaultDocument falls back to index.html.
func NewApp(shareDir, inboxDir, defaultDocument string) (*App, error) {
	if defaultDocument == "" {
		defaultDocument = protocol.DefaultDocument
	}
	share, err := os.OpenRoot(shareDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared directory %s: %w", shareDir, err)
	}
	if err := util.EnsureDirectory(inboxDir); err != nil {
		_ = share.Close()
		return nil, fmt.Errorf("failed to prepare inbox: %w", err)
	}
	return &App{
		shareDir:        shareDir,
		inboxDir:        inboxDir,
		defaultDocument: defaultDocument,
		share:           share,
		uiMessages:      make(chan appevents.AppUIMessage, 16),
	}, nil
}

// Close releases the shared directory handle.
func (a *App) Close() error {
	return a.share.Close()
}

// UIMessages returns the channel the CLI listens on for updates.
func (a *App) UIMessages() <-chan appevents.AppUIMessage {
	return a.uiMessages
}

// Received returns every file accepted into the inbox so far.
func (a *App) Received() []fileInfo.FileNode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]fileInfo.FileNode(nil), a.received...)
}

// Listener returns the protocol callbacks backed by this App.
func (a *App) Listener() *protocol.EventListener {
	return &protocol.EventListener{
		OnProtocolEstablished: a.onEstablished,
		OnRequestText:         a.onRequestText,
		OnRequestFile:         a.onRequestFile,
		OnPostFiles:           a.onPostFiles,
	}
}

func (a *App) onEstablished(addr transport.Address) {
	slog.Info("Sharing directory", "dir", a.shareDir, "address", addr.String())
	appevents.Notify(a.uiMessages, receiver.EstablishedMsg{Address: addr})
}

// sharedName maps a request path onto a name inside the shared directory:
// "/" is the root and "/data/<rel>" is rel.
func sharedName(urlPath string) (string, bool) {
	if urlPath == "/" || urlPath == "" {
		return ".", true
	}
	rel, ok := strings.CutPrefix(urlPath, dataPrefix)
	if !ok {
		return "", false
	}
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" {
		return ".", true
	}
	if !filepath.IsLocal(rel) {
		return "", false
	}
	return rel, true
}

// resolve returns the shared file for name, using the default document for
// directories. Symlinks leaving the shared directory are refused by os.Root.
func (a *App) resolve(name string) (string, error) {
	info, err := a.share.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		name = path.Join(name, a.defaultDocument)
		if info, err = a.share.Stat(name); err != nil {
			return "", err
		}
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", name)
	}
	return filepath.Join(a.shareDir, filepath.FromSlash(name)), nil
}

func (a *App) onRequestFile(_ context.Context, uri *url.URL) (string, error) {
	name, ok := sharedName(uri.Path)
	if !ok {
		return "", protocol.ErrNoResult
	}
	p, err := a.resolve(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", protocol.ErrNoResult
		}
		return "", err
	}
	slog.Info("Serving file", "path", p, "peer_uri", uri.String())
	appevents.Notify(a.uiMessages, receiver.FileServedMsg{Path: p})
	return p, nil
}

func (a *App) onRequestText(_ context.Context, uri *url.URL) (string, error) {
	if uri.Path != listPath {
		slog.Debug("Text request", "uri", uri.String())
		return TextReply, nil
	}
	node, err := fileInfo.CreateNode(a.shareDir, false)
	if err != nil {
		return "", fmt.Errorf("failed to list shared directory: %w", err)
	}
	data, err := json.Marshal(node.Children)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// onPostFiles takes ownership of the uploaded parts and moves them into the
// inbox. The upload is refused when no part could be kept.
func (a *App) onPostFiles(_ context.Context, files []protocol.UploadedFile) (string, error) {
	var kept []fileInfo.FileNode
	var errs []error
	for _, f := range files {
		if f.Err != nil {
			slog.Warn("Upload part failed", "name", f.Name, "error", f.Err)
			errs = append(errs, f.Err)
			continue
		}
		dest, err := a.moveToInbox(f.Path, f.Name)
		if err != nil {
			slog.Warn("Failed to store upload in inbox", "name", f.Name, "error", err)
			_ = os.Remove(f.Path)
			errs = append(errs, err)
			continue
		}
		kept = append(kept, fileInfo.FileNode{
			Name:     filepath.Base(dest),
			Size:     f.Size,
			MimeType: f.MimeType,
			Checksum: f.Checksum,
			Path:     dest,
		})
	}

	if len(kept) == 0 && len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	if len(kept) > 0 {
		a.mu.Lock()
		a.received = append(a.received, kept...)
		a.mu.Unlock()
		slog.Info("Files received", "count", len(kept), "inbox", a.inboxDir)
		appevents.Notify(a.uiMessages, receiver.FilesReceivedMsg{Files: kept})
	}
	return UploadReply, nil
}
