package appevents

// AppUIMessage is a marker interface for messages an App sends to whatever
// presents it (the CLI). Only types embedding UIMessage satisfy it.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is embedded by every message type to implement AppUIMessage.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// ErrorMsg reports a failure that did not stop the App.
type ErrorMsg struct {
	UIMessage
	Err error
}

// Notify delivers msg without blocking. Messages are dropped when nobody
// keeps up with the channel.
func Notify(ch chan<- AppUIMessage, msg AppUIMessage) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}
