package feed

type MessageType string

const (
	MessageTypeConnected   MessageType = "connected"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeProgress    MessageType = "progress"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeError       MessageType = "error"
)

type IncomingMessage struct {
	Type     MessageType `json:"type"`
	UploadID string      `json:"uploadId,omitempty"`
}

type OutgoingMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error,omitempty"`
}

// ProgressMessage mirrors what the progress endpoint reports, pushed
// instead of polled.
type ProgressMessage struct {
	Type       MessageType `json:"type"`
	UploadID   string      `json:"uploadId"`
	Percentage int         `json:"percentage"`
	Status     string      `json:"status"`
}
