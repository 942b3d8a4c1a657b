package pipeline

import "github.com/makeasinger/videogen/internal/model"

type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
)

// Event is emitted after the matching progress write, carrying the record
// exactly as it was written.
type Event struct {
	Type   EventType
	JobID  string
	Stage  model.Stage
	Record model.ProgressRecord
	Err    error
}

// Observer receives pipeline events. OnEvent is called synchronously from
// the running stage and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type observers []Observer

func (obs observers) OnEvent(e Event) {
	for _, o := range obs {
		if o != nil {
			o.OnEvent(e)
		}
	}
}
