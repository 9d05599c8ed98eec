package protocol

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type part struct {
	field    string
	fileName string
	content  string
}

func multipartBody(t *testing.T, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.fileName == "" {
			require.NoError(t, mw.WriteField(p.field, p.content))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.fileName)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var testClient = &http.Client{Timeout: 10 * time.Second}

func do(t *testing.T, method, url string, body io.Reader, contentType string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := testClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

// truncatedUpload builds a body with a complete a.txt part followed by a
// b.txt part, and returns the full body plus a prefix that ends inside b.txt.
func truncatedUpload(t *testing.T) (full, cut []byte, contentType string) {
	t.Helper()
	body, ct := multipartBody(t,
		part{field: "file", fileName: "a.txt", content: "alpha content"},
		part{field: "file", fileName: "b.txt", content: "bravo content"},
	)
	full, err := io.ReadAll(body)
	require.NoError(t, err)
	i := bytes.Index(full, []byte("bravo content"))
	require.Positive(t, i)
	return full, full[:i+3], ct
}
