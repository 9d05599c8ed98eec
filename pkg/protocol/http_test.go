package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/devicediscovery/pkg/transport"
)

func startHTTP(t *testing.T, listener *EventListener) (*HTTP, string, string) {
	t.Helper()
	cacheDir := t.TempDir()
	h := NewHTTP(Config{Host: "127.0.0.1", Port: transport.AutoPort, ShutdownTimeout: time.Second}, cacheDir)
	require.NoError(t, h.Start(listener))
	t.Cleanup(func() { _ = h.Stop() })

	addr, ok := h.Address()
	require.True(t, ok)
	return h, addr.String(), cacheDir
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fileListener(path string, seen chan<- *url.URL) *EventListener {
	return &EventListener{
		OnRequestFile: func(ctx context.Context, uri *url.URL) (string, error) {
			if seen != nil {
				seen <- uri
			}
			return path, nil
		},
	}
}

func TestHTTP_EstablishedFiresOnceWithBoundAddress(t *testing.T) {
	established := make(chan transport.Address, 2)
	h, _, _ := startHTTP(t, &EventListener{
		OnProtocolEstablished: func(addr transport.Address) { established <- addr },
	})

	var addr transport.Address
	select {
	case addr = <-established:
	case <-time.After(2 * time.Second):
		t.Fatal("OnProtocolEstablished was not called")
	}

	bound, ok := h.Address()
	require.True(t, ok)
	assert.Equal(t, bound, addr)
	assert.Equal(t, "http", addr.Scheme)
	assert.Equal(t, "127.0.0.1", addr.Host)
	assert.GreaterOrEqual(t, addr.Port, 1)

	conn, err := net.DialTimeout("tcp", addr.HostPort(), time.Second)
	require.NoError(t, err)
	_ = conn.Close()

	// A second Start is a no-op and must not fire the callback again.
	require.NoError(t, h.Start(&EventListener{
		OnProtocolEstablished: func(addr transport.Address) { established <- addr },
	}))
	select {
	case extra := <-established:
		t.Fatalf("unexpected second OnProtocolEstablished: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHTTP_GetRootServesListenerFile(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	seen := make(chan *url.URL, 1)
	_, base, _ := startHTTP(t, fileListener(writeFile(t, "index.html", content), seen))

	resp, body := do(t, http.MethodGet, base+"/", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, len(content), len(body))
	assert.Equal(t, content, body)
	assert.EqualValues(t, len(content), resp.ContentLength)

	uri := <-seen
	assert.Equal(t, "/", uri.Path)
	assert.Equal(t, "http", uri.Scheme)
}

func TestHTTP_GetDataPassesFullURI(t *testing.T) {
	seen := make(chan *url.URL, 1)
	_, base, _ := startHTTP(t, fileListener(writeFile(t, "photo.jpg", "jpeg"), seen))

	resp, body := do(t, http.MethodGet, base+"/data/album/photo.jpg?size=large", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", body)

	uri := <-seen
	assert.Equal(t, "/data/album/photo.jpg", uri.Path)
	assert.Equal(t, "size=large", uri.RawQuery)
}

func TestHTTP_GetNotFound(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		listener *EventListener
	}{
		{"listener has no file", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { return "", ErrNoResult },
		}},
		{"listener returns empty path", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { return "", nil },
		}},
		{"listener fails", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { return "", errors.New("boom") },
		}},
		{"listener returns missing file", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { return filepath.Join(dir, "missing"), nil },
		}},
		{"listener returns directory", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { return dir, nil },
		}},
		{"no OnRequestFile slot", &EventListener{}},
		{"listener panics", &EventListener{
			OnRequestFile: func(context.Context, *url.URL) (string, error) { panic("listener bug") },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, base, _ := startHTTP(t, tt.listener)
			resp, _ := do(t, http.MethodGet, base+"/", nil, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)

			// The server keeps serving after a failed request.
			resp, _ = do(t, http.MethodGet, base+"/data/x", nil, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestHTTP_HeadMatchesGet(t *testing.T) {
	content := "<html><body>hello</body></html>"
	_, base, _ := startHTTP(t, fileListener(writeFile(t, "index.html", content), nil))

	for _, path := range []string{"/", "/data/index.html"} {
		t.Run(path, func(t *testing.T) {
			getResp, _ := do(t, http.MethodGet, base+path, nil, "")
			headResp, headBody := do(t, http.MethodHead, base+path, nil, "")

			assert.Equal(t, getResp.StatusCode, headResp.StatusCode)
			assert.Equal(t, getResp.Header.Get("Content-Type"), headResp.Header.Get("Content-Type"))
			assert.Equal(t, getResp.Header.Get("Content-Length"), headResp.Header.Get("Content-Length"))
			assert.Equal(t, getResp.Header.Get("Last-Modified"), headResp.Header.Get("Last-Modified"))
			assert.Empty(t, headBody)
		})
	}
}

func TestHTTP_HeadNotFound(t *testing.T) {
	_, base, _ := startHTTP(t, &EventListener{})

	getResp, _ := do(t, http.MethodGet, base+"/", nil, "")
	headResp, headBody := do(t, http.MethodHead, base+"/", nil, "")
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
	assert.Equal(t, getResp.StatusCode, headResp.StatusCode)
	assert.Empty(t, headBody)
}

func TestHTTP_UnknownRoutesAreNotFound(t *testing.T) {
	_, base, _ := startHTTP(t, fileListener(writeFile(t, "f", "x"), nil))

	tests := []struct{ method, path string }{
		{http.MethodGet, "/other"},
		{http.MethodPost, "/"},
		{http.MethodPut, "/upload"},
		{http.MethodDelete, "/data/f"},
		{http.MethodGet, "/upload"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, _ := do(t, tt.method, base+tt.path, nil, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestHTTP_Text(t *testing.T) {
	_, base, _ := startHTTP(t, &EventListener{
		OnRequestText: func(ctx context.Context, uri *url.URL) (string, error) {
			if uri.Path == "/text/greeting" {
				return "Received", nil
			}
			return "", ErrNoResult
		},
	})

	resp, body := do(t, http.MethodGet, base+"/text/greeting", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Received", body)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, _ = do(t, http.MethodGet, base+"/text/other", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_NoListenerIsUnavailable(t *testing.T) {
	_, base, _ := startHTTP(t, nil)

	resp, _ := do(t, http.MethodGet, base+"/", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body, ct := multipartBody(t, part{field: "file", fileName: "a.txt", content: "a"})
	resp, _ = do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTP_UploadTwoFiles(t *testing.T) {
	received := make(chan []UploadedFile, 1)
	_, base, cacheDir := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			received <- files
			return "OK", nil
		},
	})

	body, ct := multipartBody(t,
		part{field: "description", content: "holiday photos"},
		part{field: "file", fileName: "a.txt", content: "alpha content"},
		part{field: "file", fileName: "b.txt", content: "bravo content"},
	)
	resp, text := do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", text)

	files := <-received
	require.Len(t, files, 2)
	expected := map[string]string{"a.txt": "alpha content", "b.txt": "bravo content"}
	for _, f := range files {
		require.NoError(t, f.Err)
		assert.Equal(t, cacheDir, filepath.Dir(f.Path))
		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		assert.Equal(t, expected[f.Name], string(data))
		assert.EqualValues(t, len(expected[f.Name]), f.Size)
		assert.Len(t, f.Checksum, 64)
		assert.True(t, strings.HasPrefix(f.MimeType, "text/plain"), f.MimeType)
	}
	assert.NotEqual(t, files[0].Path, files[1].Path)
}

func TestHTTP_UploadSanitizesNames(t *testing.T) {
	received := make(chan []UploadedFile, 1)
	_, base, cacheDir := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			received <- files
			return "OK", nil
		},
	})

	body, ct := multipartBody(t, part{field: "file", fileName: "../../escape.txt", content: "x"})
	resp, _ := do(t, http.MethodPost, base+"/upload", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	files := <-received
	require.Len(t, files, 1)
	assert.Equal(t, "escape.txt", files[0].Name)
	assert.Equal(t, cacheDir, filepath.Dir(files[0].Path))
}

func TestHTTP_UploadConcurrentSameName(t *testing.T) {
	var mu sync.Mutex
	var all []UploadedFile
	_, base, _ := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			mu.Lock()
			all = append(all, files...)
			mu.Unlock()
			return "OK", nil
		},
	})

	const uploads = 8
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		body, ct := multipartBody(t, part{field: "file", fileName: "same.txt", content: strings.Repeat(fmt.Sprint(i), 64*1024)})
		req, err := http.NewRequest(http.MethodPost, base+"/upload", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", ct)

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := testClient.Do(req)
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	require.Len(t, all, uploads)
	paths := make(map[string]bool)
	contents := make(map[string]bool)
	for _, f := range all {
		require.NoError(t, f.Err)
		paths[f.Path] = true
		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		require.Len(t, data, 64*1024)
		assert.Equal(t, strings.Repeat(string(data[0]), len(data)), string(data), "upload bytes were interleaved")
		contents[string(data[0])] = true
	}
	assert.Len(t, paths, uploads)
	assert.Len(t, contents, uploads)
}

// requirePartialUpload checks that a.txt was kept and b.txt was reported
// as failed without leaving anything behind.
func requirePartialUpload(t *testing.T, files []UploadedFile, cacheDir string) {
	t.Helper()
	require.Len(t, files, 2)

	a, b := files[0], files[1]
	assert.Equal(t, "a.txt", a.Name)
	require.NoError(t, a.Err)
	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "alpha content", string(data))

	assert.Equal(t, "b.txt", b.Name)
	assert.ErrorIs(t, b.Err, ErrUpload)
	assert.Empty(t, b.Path)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the complete part is stored")
	assert.Equal(t, filepath.Base(a.Path), entries[0].Name())
}

func TestHTTP_UploadTruncatedPartIsReported(t *testing.T) {
	received := make(chan []UploadedFile, 1)
	_, base, cacheDir := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			received <- files
			return "OK", nil
		},
	})

	_, cut, ct := truncatedUpload(t)
	resp, text := do(t, http.MethodPost, base+"/upload", bytes.NewReader(cut), ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", text)

	requirePartialUpload(t, <-received, cacheDir)
}

func TestHTTP_UploadClientDisconnectStillReachesListener(t *testing.T) {
	received := make(chan []UploadedFile, 1)
	h, _, cacheDir := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			received <- files
			return "OK", nil
		},
	})
	addr, ok := h.Address()
	require.True(t, ok)

	full, cut, ct := truncatedUpload(t)
	conn, err := net.Dial("tcp", addr.HostPort())
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "POST /upload HTTP/1.1\r\nHost: %s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		addr.HostPort(), ct, len(full))
	require.NoError(t, err)
	_, err = conn.Write(cut)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case files := <-received:
		requirePartialUpload(t, files, cacheDir)
	case <-time.After(5 * time.Second):
		t.Fatal("OnPostFiles was not called after the client went away")
	}
}

func TestHTTP_UploadRejected(t *testing.T) {
	_, base, _ := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			for _, f := range files {
				_ = os.Remove(f.Path)
			}
			return "", ErrNoResult
		},
	})

	body, ct := multipartBody(t, part{field: "file", fileName: "a.txt", content: "a"})
	resp, _ := do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_UploadWithoutSlotStoresNothing(t *testing.T) {
	_, base, cacheDir := startHTTP(t, &EventListener{})

	body, ct := multipartBody(t, part{field: "file", fileName: "a.txt", content: "a"})
	resp, _ := do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHTTP_UploadRequiresMultipart(t *testing.T) {
	_, base, _ := startHTTP(t, &EventListener{
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) { return "OK", nil },
	})

	resp, _ := do(t, http.MethodPost, base+"/upload", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_SlowListenerDoesNotBlockOtherRequests(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	path := writeFile(t, "slow.txt", "slow")
	_, base, _ := startHTTP(t, &EventListener{
		OnRequestFile: func(ctx context.Context, uri *url.URL) (string, error) {
			close(entered)
			<-release
			return path, nil
		},
		OnPostFiles: func(ctx context.Context, files []UploadedFile) (string, error) {
			return fmt.Sprintf("%d", len(files)), nil
		},
	})

	slowDone := make(chan int, 1)
	go func() {
		resp, err := testClient.Get(base + "/")
		if err != nil {
			slowDone <- 0
			return
		}
		resp.Body.Close()
		slowDone <- resp.StatusCode
	}()
	<-entered

	body, ct := multipartBody(t, part{field: "file", fileName: "a.txt", content: "a"})
	start := time.Now()
	resp, text := do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", text)
	assert.Less(t, time.Since(start), 2*time.Second)

	close(release)
	assert.Equal(t, http.StatusOK, <-slowDone)
}

func TestHTTP_StopBeforeStartIsNoop(t *testing.T) {
	h := NewHTTP(Config{Host: "127.0.0.1"}, t.TempDir())
	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop())
	_, ok := h.Address()
	assert.False(t, ok)
}

func TestHTTP_StartTwiceBindsOnce(t *testing.T) {
	h, _, _ := startHTTP(t, &EventListener{})
	first, _ := h.Address()

	require.NoError(t, h.Start(&EventListener{}))
	second, ok := h.Address()
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestHTTP_RestartAfterStop(t *testing.T) {
	h, base, _ := startHTTP(t, fileListener(writeFile(t, "f.txt", "one"), nil))
	require.NoError(t, h.Stop())
	_, ok := h.Address()
	assert.False(t, ok)

	_, err := testClient.Get(base + "/")
	assert.Error(t, err, "socket is closed after Stop")

	require.NoError(t, h.Start(fileListener(writeFile(t, "f.txt", "two"), nil)))
	addr, ok := h.Address()
	require.True(t, ok)
	resp, body := do(t, http.MethodGet, addr.String()+"/", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "two", body)
}

func TestHTTP_BindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	h := NewHTTP(Config{Host: "127.0.0.1", Port: transport.Port(port)}, t.TempDir())
	err = h.Start(&EventListener{})
	assert.ErrorIs(t, err, ErrBind)
	_, ok := h.Address()
	assert.False(t, ok)
	assert.NoError(t, h.Stop())
}

func TestHTTP_ExplicitPortIsHonoured(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	h := NewHTTP(Config{Host: "127.0.0.1", Port: transport.Port(port)}, t.TempDir())
	require.NoError(t, h.Start(&EventListener{}))
	defer h.Stop()

	addr, ok := h.Address()
	require.True(t, ok)
	assert.Equal(t, port, addr.Port)
}

func TestHTTP_ConnectionLimit(t *testing.T) {
	path := writeFile(t, "a.txt", "limited")
	h := NewHTTP(Config{Host: "127.0.0.1", ShutdownTimeout: time.Second, MaxConnections: 1}, t.TempDir())
	require.NoError(t, h.Start(fileListener(path, nil)))
	t.Cleanup(func() { _ = h.Stop() })
	addr, ok := h.Address()
	require.True(t, ok)

	idle, err := net.Dial("tcp", addr.HostPort())
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		resp, err := testClient.Get(addr.String() + "/")
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-done:
		t.Fatal("request served while the only connection slot was taken")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, idle.Close())
	select {
	case status := <-done:
		assert.Equal(t, http.StatusOK, status)
	case <-time.After(5 * time.Second):
		t.Fatal("request not served after the slot was freed")
	}
}

func TestHTTP_ConcurrentStartStopKeepsListenerConsistent(t *testing.T) {
	listener := &EventListener{}
	for i := 0; i < 50; i++ {
		h := NewHTTP(Config{Host: "127.0.0.1", ShutdownTimeout: time.Second}, t.TempDir())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Start(listener))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Stop())
		}()
		wg.Wait()

		_, bound := h.Address()
		assert.Equal(t, bound, h.listener.Load() != nil, "a bound protocol always has its listener")

		require.NoError(t, h.Stop())
		assert.Nil(t, h.listener.Load())
	}
}

func TestHTTP_StopWaitsForRunningCallbacks(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	h := NewHTTP(Config{Host: "127.0.0.1", ShutdownTimeout: 2 * time.Second}, t.TempDir())
	require.NoError(t, h.Start(&EventListener{
		OnProtocolEstablished: func(transport.Address) {
			close(entered)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
		},
	}))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("OnProtocolEstablished was not called")
	}
	require.NoError(t, h.Stop())
	assert.True(t, finished.Load())
}
