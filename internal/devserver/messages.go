package devserver

import "errors"

// ErrHubClosed is returned when a client connects after the hub was closed.
var ErrHubClosed = errors.New("live reload hub closed")

// Message types exchanged over the live reload socket.
const (
	TypeUpdate      = "update"
	TypeError       = "error"
	TypeAck         = "ack"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Message is the JSON frame sent to and received from live reload clients.
type Message struct {
	Type    string `json:"type"`
	Version int64  `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}
