package jobworker

import (
	"fmt"

	"github.com/guildgallery/guildgallery_server/internal/uploader"
)

type CommandType string

const (
	CommandStart CommandType = "start"
	CommandStop  CommandType = "stop"
)

// Command is the worker's inbound message. Start begins polling the
// given job; Stop halts the loop before its next scheduled tick.
type Command struct {
	Type    CommandType `json:"type"`
	JobID   string      `json:"jobId,omitempty"`
	BaseURL string      `json:"baseUrl,omitempty"`
}

type EventType string

const (
	EventUpdate   EventType = "update"
	EventComplete EventType = "complete"
	EventFailed   EventType = "failed"
	EventTimeout  EventType = "timeout"
	EventNotFound EventType = "not_found"
	EventError    EventType = "error"
)

// Event is the worker's outbound message, one per observed transition.
type Event struct {
	Type EventType           `json:"type"`
	Job  *uploader.UploadJob `json:"job,omitempty"`
	Err  error               `json:"-"`
}

// TimeoutError is the worker's client-side giving-up signal, distinct
// from any server-side state; the underlying session may still complete.
type TimeoutError struct {
	JobID  string
	Reason string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s watch timed out: %s", e.JobID, e.Reason)
}
