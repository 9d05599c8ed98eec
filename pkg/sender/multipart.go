package sender

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

const fileField = "file"

// multipartStream returns a body that yields a multipart/form-data encoding
// of paths as write runs. write closes the body when done.
func multipartStream(paths []string) (body *io.PipeReader, contentType string, write func() error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType = mw.FormDataContentType()

	write = func() error {
		err := writeParts(mw, paths)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
		return err
	}
	return pr, contentType, write
}

func writeParts(mw *multipart.Writer, paths []string) error {
	for _, p := range paths {
		if err := writePart(mw, p); err != nil {
			return err
		}
	}
	return nil
}

func writePart(mw *multipart.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := mw.CreateFormFile(fileField, filepath.Base(p))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to stream %s: %w", p, err)
	}
	return nil
}
