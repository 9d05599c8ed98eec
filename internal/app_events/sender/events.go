package sender

import (
	appevents "github.com/rescp17/devicediscovery/internal/app_events"
	"github.com/rescp17/devicediscovery/pkg/discovery"
)

// FoundServicesMsg carries the current set of discovered peers.
type FoundServicesMsg struct {
	appevents.UIMessage
	Services []discovery.ServiceInfo
}

// TransferStartedMsg is sent before a download or upload begins.
type TransferStartedMsg struct {
	appevents.UIMessage
	URL string
}

// TransferCompleteMsg reports a finished transfer and the bytes moved.
type TransferCompleteMsg struct {
	appevents.UIMessage
	URL   string
	Bytes int64
}

var (
	_ appevents.AppUIMessage = FoundServicesMsg{}
	_ appevents.AppUIMessage = TransferStartedMsg{}
	_ appevents.AppUIMessage = TransferCompleteMsg{}
)
