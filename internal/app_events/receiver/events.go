package receiver

import (
	appevents "github.com/rescp17/devicediscovery/internal/app_events"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// EstablishedMsg is sent once the server is reachable.
type EstablishedMsg struct {
	appevents.UIMessage
	Address transport.Address
}

// FileServedMsg is sent when a peer is handed a shared file.
type FileServedMsg struct {
	appevents.UIMessage
	Path string
}

// FilesReceivedMsg lists the files of one upload that landed in the inbox.
type FilesReceivedMsg struct {
	appevents.UIMessage
	Files []fileInfo.FileNode
}

var (
	_ appevents.AppUIMessage = EstablishedMsg{}
	_ appevents.AppUIMessage = FileServedMsg{}
	_ appevents.AppUIMessage = FilesReceivedMsg{}
)
