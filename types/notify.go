package types

import (
	"time"
)

// Control protocol between pages and the gateway, carried over the notify
// hub. SkipWaiting is accepted from clients; the rest are pushed to them.
const (
	MsgSkipWaiting     = "SKIP_WAITING"
	MsgUpdateAvailable = "SW_UPDATE_AVAILABLE"
	MsgActivated       = "SW_ACTIVATED"
	MsgConnectivity    = "CONNECTIVITY"
)

type NotifyHub interface {
	LifecycleManager
	Publish(msgType string, payload interface{}) error
	Subscribe(msgType string, handler NotifyHandler) error
	Unsubscribe(msgType string) error
	ClientCount() int
}

type NotifyHandler func(msg *NotifyMessage) error

type NotifyMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source,omitempty"`
	MessageID string      `json:"message_id"`
}
