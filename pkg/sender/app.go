// Package sender is the peer side: it finds advertised services and moves
// files to and from them over HTTP.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appevents "github.com/rescp17/devicediscovery/internal/app_events"
	"github.com/rescp17/devicediscovery/internal/app_events/sender"
	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/discovery"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
)

// ErrUnexpectedStatus is returned when a peer answers with anything but 200.
var ErrUnexpectedStatus = errors.New("unexpected response status")

const (
	defaultParallel     = 4
	defaultDownloadName = "download"
	maxReplySize        = 64 << 10
)

// App talks to peers found through a discovery Adapter.
type App struct {
	discoverer  discovery.Adapter
	httpClient  *http.Client
	uiMessages  chan appevents.AppUIMessage
	maxParallel int
}

// NewApp creates a sender. A nil adapter browses with multicast DNS.
func NewApp(adapter discovery.Adapter) *App {
	if adapter == nil {
		adapter = &discovery.MDNSAdapter{}
	}
	return &App{
		discoverer: adapter,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 2 * time.Minute,
				MaxIdleConnsPerHost:   defaultParallel,
			},
		},
		uiMessages:  make(chan appevents.AppUIMessage, 16),
		maxParallel: defaultParallel,
	}
}

// UIMessages returns the channel the CLI listens on for updates.
func (a *App) UIMessages() <-chan appevents.AppUIMessage {
	return a.uiMessages
}

// Browse looks for serviceType (e.g. "_http._tcp") in the local domain and
// calls found with every new snapshot of peers. It returns when ctx ends or
// the lookup fails.
func (a *App) Browse(ctx context.Context, serviceType string, found func([]discovery.ServiceInfo)) error {
	service := fmt.Sprintf("%s.%s.", serviceType, discovery.DefaultDomain)
	results := a.discoverer.Discover(ctx, service)
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-results:
			if !ok {
				return nil
			}
			if res.Error != nil {
				slog.Error("Discovery failed", "service", service, "error", res.Error)
				return res.Error
			}
			appevents.Notify(a.uiMessages, sender.FoundServicesMsg{Services: res.Services})
			if found != nil {
				found(res.Services)
			}
		}
	}
}

// ServiceURL builds the base URL a discovered service is reachable at,
// honouring its "scheme" and "path" TXT keys.
func ServiceURL(info discovery.ServiceInfo) (string, error) {
	if info.Addr == nil {
		return "", fmt.Errorf("service %s has no address", info.Name)
	}
	if info.Port <= 0 {
		return "", fmt.Errorf("service %s has no port", info.Name)
	}
	scheme := info.Text["scheme"]
	if scheme == "" {
		scheme = "http"
	}
	p := info.Text["path"]
	if p == "" {
		p = "/"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(info.Addr.String(), strconv.Itoa(info.Port)),
		Path:   p,
	}
	return u.String(), nil
}

// downloadTarget picks the local path for u: dst itself, or a file inside
// dst named after the last URL element when dst is a directory.
func downloadTarget(dst string, u *url.URL) (string, error) {
	_, isDir, err := util.CheckDirectory(dst)
	if err != nil {
		return "", err
	}
	if !isDir {
		return dst, nil
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = defaultDownloadName
	}
	return filepath.Join(dst, util.SafeBaseName(name)), nil
}

// Download fetches rawURL into dst, which is either a file path or an
// existing directory. The file appears only once it is complete.
func (a *App) Download(ctx context.Context, rawURL, dst string) (fileInfo.FileNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fileInfo.FileNode{}, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	target, err := downloadTarget(dst, req.URL)
	if err != nil {
		return fileInfo.FileNode{}, err
	}

	appevents.Notify(a.uiMessages, sender.TransferStartedMsg{URL: rawURL})
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fileInfo.FileNode{}, fmt.Errorf("download %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fileInfo.FileNode{}, fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*.part")
	if err != nil {
		return fileInfo.FileNode{}, fmt.Errorf("failed to create download file: %w", err)
	}
	sum := fileInfo.NewChecksumWriter()
	_, copyErr := io.Copy(io.MultiWriter(tmp, sum), resp.Body)
	if err := errors.Join(copyErr, tmp.Close()); err != nil {
		_ = os.Remove(tmp.Name())
		return fileInfo.FileNode{}, fmt.Errorf("download %s interrupted: %w", rawURL, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fileInfo.FileNode{}, fmt.Errorf("failed to save %s: %w", target, err)
	}

	node := fileInfo.FileNode{
		Name:     filepath.Base(target),
		Size:     sum.Len(),
		MimeType: resp.Header.Get("Content-Type"),
		Checksum: sum.Sum(),
		Path:     target,
	}
	slog.Info("Download complete", "url", rawURL, "path", target, "size", util.FormatSize(node.Size))
	appevents.Notify(a.uiMessages, sender.TransferCompleteMsg{URL: rawURL, Bytes: node.Size})
	return node, nil
}

// Fetch downloads every URL into dir, a few at a time. The first failure
// cancels the remaining downloads.
func (a *App) Fetch(ctx context.Context, dir string, urls ...string) ([]fileInfo.FileNode, error) {
	if err := util.EnsureDirectory(dir); err != nil {
		return nil, err
	}
	nodes := make([]fileInfo.FileNode, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)
	for i, u := range urls {
		g.Go(func() error {
			node, err := a.Download(gctx, u, dir)
			if err != nil {
				return err
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Upload posts the files at paths to the peer at baseURL as one multipart
// body, streamed from disk, and returns the peer's reply.
func (a *App) Upload(ctx context.Context, baseURL string, paths ...string) (string, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("cannot upload %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("cannot upload %s: not a regular file", p)
		}
		total += info.Size()
	}
	target, err := url.JoinPath(baseURL, "upload")
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", baseURL, err)
	}

	body, contentType, writeParts := multipartStream(paths)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(writeParts)

	var reply string
	g.Go(func() error {
		req, err := http.NewRequestWithContext(gctx, http.MethodPost, target, body)
		if err != nil {
			body.CloseWithError(err)
			return err
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := a.httpClient.Do(req)
		if err != nil {
			body.CloseWithError(err)
			return fmt.Errorf("upload to %s failed: %w", target, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
		if err != nil {
			return fmt.Errorf("failed to read reply from %s: %w", target, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s: %s: %s", ErrUnexpectedStatus, target, resp.Status, strings.TrimSpace(string(data)))
		}
		reply = string(data)
		return nil
	})

	appevents.Notify(a.uiMessages, sender.TransferStartedMsg{URL: target})
	if err := g.Wait(); err != nil {
		return "", err
	}
	slog.Info("Upload complete", "url", target, "files", len(paths), "size", util.FormatSize(total))
	appevents.Notify(a.uiMessages, sender.TransferCompleteMsg{URL: target, Bytes: total})
	return reply, nil
}
