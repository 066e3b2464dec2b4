package jobworker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guildgallery/guildgallery_server/internal/session"
	"github.com/guildgallery/guildgallery_server/internal/uploader"
)

type Config struct {
	// PollInterval is the fixed delay between progress polls.
	PollInterval time.Duration
	// MaxFailures is the consecutive poll failure count that triggers a
	// timeout event.
	MaxFailures int
	// MaxDuration bounds how long a job is watched without reaching a
	// terminal state before the worker gives up.
	MaxDuration time.Duration
	// HTTPClient overrides the poll transport, mainly for tests.
	HTTPClient *http.Client
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		MaxFailures:  5,
		MaxDuration:  10 * time.Minute,
	}
}

// Worker watches upload jobs from a goroutine of its own, communicating
// exclusively through typed messages: commands in, events out. It holds
// no durable state; after a restart the caller re-issues start with the
// job id recovered from the persisted progress record.
type Worker struct {
	config   Config
	commands chan Command
	events   chan Event
	done     chan struct{}
}

func NewWorker(config Config) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	return &Worker{
		config:   config,
		commands: make(chan Command, 8),
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
	}
}

// Events is the outbound message stream. The owning goroutine must drain
// it; progress mutations happen there, never in the worker.
func (w *Worker) Events() <-chan Event {
	return w.events
}

func (w *Worker) Start(jobID, baseURL string) {
	w.commands <- Command{Type: CommandStart, JobID: jobID, BaseURL: baseURL}
}

// Stop halts the poll loop before its next scheduled tick. An in-flight
// poll is allowed to finish; its result is discarded.
func (w *Worker) Stop() {
	w.commands <- Command{Type: CommandStop}
}

// Close shuts the worker down for good and waits for Run to exit.
func (w *Worker) Close() {
	close(w.commands)
	<-w.done
}

// Run is the actor loop: idle until a start command, then poll until a
// terminal observation, a stop, or a timeout. Call it on a dedicated
// goroutine.
func (w *Worker) Run() {
	defer close(w.done)
	defer close(w.events)

	var pending *Command
	for {
		var cmd Command
		if pending != nil {
			cmd = *pending
			pending = nil
		} else {
			c, ok := <-w.commands
			if !ok {
				return
			}
			cmd = c
		}

		if cmd.Type != CommandStart || cmd.JobID == "" {
			continue
		}

		next, alive := w.watch(cmd)
		if !alive {
			return
		}
		pending = next
	}
}

type pollOutcome struct {
	job *uploader.UploadJob
	err error
}

// watch polls one job until it ends. Returns a start command to switch to
// (when one arrived mid-watch) and whether the worker should keep
// running.
func (w *Worker) watch(cmd Command) (*Command, bool) {
	client := uploader.NewClient(cmd.BaseURL, w.config.HTTPClient)
	jobID := cmd.JobID

	var deadline time.Time
	if w.config.MaxDuration > 0 {
		deadline = time.Now().Add(w.config.MaxDuration)
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	log.Debug().Str("jobId", jobID).Msg("[WORKER] Watch started")

	failures := 0
	var inflight chan pollOutcome

	for {
		select {
		case c, ok := <-w.commands:
			if !ok {
				return nil, false
			}
			switch c.Type {
			case CommandStop:
				log.Debug().Str("jobId", jobID).Msg("[WORKER] Watch stopped")
				return nil, true
			case CommandStart:
				return &c, true
			}

		case <-ticker.C:
			if inflight != nil {
				// Previous poll still in flight; skip this tick.
				continue
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				w.emit(Event{Type: EventTimeout, Err: &TimeoutError{JobID: jobID, Reason: "watch duration exceeded"}})
				return nil, true
			}

			inflight = make(chan pollOutcome, 1)
			go func(ch chan pollOutcome) {
				ctx, cancel := context.WithTimeout(context.Background(), w.config.PollInterval)
				defer cancel()
				job, err := client.Progress(ctx, jobID)
				ch <- pollOutcome{job: job, err: err}
			}(inflight)

		case outcome := <-inflight:
			inflight = nil

			if outcome.err != nil {
				var notFound *session.SessionNotFoundError
				if errors.As(outcome.err, &notFound) {
					w.emit(Event{Type: EventNotFound, Err: outcome.err})
					return nil, true
				}

				failures++
				if failures >= w.config.MaxFailures {
					w.emit(Event{Type: EventTimeout, Err: &TimeoutError{JobID: jobID, Reason: "consecutive poll failures"}})
					return nil, true
				}
				w.emit(Event{Type: EventError, Err: outcome.err})
				continue
			}

			failures = 0
			switch session.Status(outcome.job.Status) {
			case session.StatusCompleted:
				w.emit(Event{Type: EventComplete, Job: outcome.job})
				return nil, true
			case session.StatusFailed, session.StatusCancelled:
				w.emit(Event{Type: EventFailed, Job: outcome.job})
				return nil, true
			default:
				w.emit(Event{Type: EventUpdate, Job: outcome.job})
			}
		}
	}
}

func (w *Worker) emit(event Event) {
	w.events <- event
}
