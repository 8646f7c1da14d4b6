package job

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is a status notification from either the webhook path or the
// polling path. Both paths are event producers; the state machine is the
// single arbiter of what an event does to a job.
type Event struct {
	Kind     EventKind
	Progress int
	Results  []ResultFile
	Reason   string
}

// Started signals the first transition out of pending.
func Started() Event {
	return Event{Kind: EventStarted}
}

// ProgressUpdate reports a progress percentage.
func ProgressUpdate(v int) Event {
	return Event{Kind: EventProgress, Progress: v}
}

// Completed carries the harvested result artifacts.
func Completed(results []ResultFile) Event {
	return Event{Kind: EventCompleted, Results: results}
}

// Failed carries the failure reason.
func Failed(reason string) Event {
	return Event{Kind: EventFailed, Reason: reason}
}

// Cancelled signals cooperative cancellation.
func Cancelled() Event {
	return Event{Kind: EventCancelled}
}
