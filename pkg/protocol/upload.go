package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
)

// ErrUpload marks a file part that could not be stored.
var ErrUpload = errors.New("upload failed")

const maxFormFieldSize = 1 << 20

// receiveParts drains a multipart body, storing every file part in dir.
// An interrupted stream ends the loop; parts stored so far are kept.
func receiveParts(reader *multipart.Reader, dir string) []UploadedFile {
	files := make([]UploadedFile, 0)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("Upload stream interrupted", "error", err, "stored", len(files))
			break
		}

		if part.FileName() == "" {
			n, err := io.Copy(io.Discard, io.LimitReader(part, maxFormFieldSize))
			if err != nil {
				slog.Warn("Failed to read form field", "field", part.FormName(), "error", err)
			} else {
				slog.Debug("Form field received", "field", part.FormName(), "size", n)
			}
			_ = part.Close()
			continue
		}

		file := storePart(part, dir)
		_ = part.Close()
		if file.Err != nil {
			slog.Warn("Failed to store uploaded file", "name", file.Name, "error", file.Err)
		} else {
			slog.Info("File received", "name", file.Name, "size", util.FormatSize(file.Size), "path", file.Path)
		}
		files = append(files, file)
	}
	return files
}

// storePart writes one part to a private temporary file and renames it to
// a unique name once complete, so concurrent uploads of the same name never
// share a target and readers never see a partial file under its final name.
func storePart(part *multipart.Part, dir string) UploadedFile {
	file := UploadedFile{Name: util.SafeBaseName(part.FileName())}

	tmp, err := os.CreateTemp(dir, ".upload-*.part")
	if err != nil {
		file.Err = fmt.Errorf("%w: %s: %w", ErrUpload, file.Name, err)
		return file
	}

	digest := fileInfo.NewChecksumWriter()
	_, copyErr := io.Copy(io.MultiWriter(tmp, digest), part)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		file.Err = fmt.Errorf("%w: %s: %w", ErrUpload, file.Name, err)
		return file
	}

	target := filepath.Join(dir, uuid.NewString()+"-"+file.Name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		file.Err = fmt.Errorf("%w: %s: %w", ErrUpload, file.Name, err)
		return file
	}

	file.Path = target
	file.Size = digest.Len()
	file.Checksum = digest.Sum()
	file.MimeType = fileInfo.DetectMimeType(target)
	return file
}
