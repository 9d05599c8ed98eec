package protocol

import (
	"context"
	"errors"
	"net/url"

	"github.com/rescp17/devicediscovery/pkg/transport"
)

// ErrNoResult is returned by a listener handler that has no answer for the
// request: no file to serve, no text, or an upload it refuses.
var ErrNoResult = errors.New("no result")

// UploadedFile is one file part of an upload, stored under the protocol's
// cache directory. Once handed to OnPostFiles the application owns Path and
// is responsible for moving or deleting it. A part that failed to store has
// Err set and no Path.
type UploadedFile struct {
	Name     string
	Path     string
	Size     int64
	MimeType string
	Checksum string
	Err      error
}

// EventListener is the decision surface the application hands to a protocol.
// Every slot is optional:
//   - OnProtocolEstablished: nothing happens.
//   - OnRequestText, OnRequestFile: the request gets 404.
//   - OnPostFiles: the upload is refused with 400 before anything is stored.
//
// Request handlers run on a worker pool, never on the goroutine serving the
// connection, and may block for as long as they need.
type EventListener struct {
	OnProtocolEstablished func(addr transport.Address)
	OnRequestText         func(ctx context.Context, uri *url.URL) (string, error)
	OnRequestFile         func(ctx context.Context, uri *url.URL) (string, error)
	OnPostFiles           func(ctx context.Context, files []UploadedFile) (string, error)
}
