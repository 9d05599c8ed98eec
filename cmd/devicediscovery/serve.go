package main

import (
	"context"
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/rescp17/devicediscovery/pkg/server"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// serve runs s until ctx is done. started, if set, is called with the bound
// address. Readiness and shutdown are reported to systemd for Type=notify
// units; outside systemd the notifications are no-ops.
func serve(ctx context.Context, s *server.Server, started func(addr transport.Address)) error {
	if err := s.Start(); err != nil {
		return err
	}
	if addr, ok := s.Address(); ok && started != nil {
		started(addr)
	}
	notifySystemd(daemon.SdNotifyReady)

	<-ctx.Done()
	notifySystemd(daemon.SdNotifyStopping)
	return s.Stop()
}

func notifySystemd(state string) {
	if sent, err := daemon.SdNotify(false, state); err != nil {
		slog.Warn("Failed to notify systemd", "state", state, "error", err)
	} else if sent {
		slog.Debug("Notified systemd", "state", state)
	}
}
