package server

import "errors"

var (
	// ErrConfiguration is returned by Build when a field is missing or the
	// protocol and discovery selection has no implementation.
	ErrConfiguration = errors.New("invalid server configuration")

	// ErrNetworkUnavailable is returned by Build when no local address can be
	// resolved to bind to.
	ErrNetworkUnavailable = errors.New("network unavailable")
)
