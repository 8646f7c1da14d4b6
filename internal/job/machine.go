package job

import "time"

// Apply runs the state machine: it mutates j according to the event and
// reports whether anything changed. Events against a terminal job are
// ignored without error, which makes duplicate and out-of-order
// notifications safe regardless of which path produced them.
//
// Transitions:
//
//	pending ──started──▶ processing ──completed──▶ completed
//	   │                     │       ──failed─────▶ failed
//	   │                     └───────cancelled────▶ cancelled
//	   └── failed / cancelled / completed (implicit start) as above
func Apply(j *Job, e Event, now time.Time) bool {
	if j.Terminal() {
		return false
	}

	switch e.Kind {
	case EventStarted:
		return applyStarted(j, now)

	case EventProgress:
		changed := false
		// A progress report for a pending job implies the run started.
		if j.Status == StatusPending {
			changed = applyStarted(j, now)
		}
		p := clampProgress(e.Progress)
		if p > j.Progress {
			j.Progress = p
			changed = true
		}
		return changed

	case EventCompleted:
		if j.Status == StatusPending {
			applyStarted(j, now)
		}
		j.Status = StatusCompleted
		j.Progress = 100
		j.ResultFiles = e.Results
		if j.ResultFiles == nil {
			j.ResultFiles = []ResultFile{}
		}
		finish(j, now)
		return true

	case EventFailed:
		j.Status = StatusFailed
		j.ErrorMessage = e.Reason
		finish(j, now)
		return true

	case EventCancelled:
		j.Status = StatusCancelled
		finish(j, now)
		return true
	}

	return false
}

func applyStarted(j *Job, now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	j.Status = StatusProcessing
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	return true
}

// finish stamps the terminal fields exactly once.
func finish(j *Job, now time.Time) {
	t := now
	j.CompletedAt = &t
	if j.StartedAt != nil {
		j.ProcessingTime = t.Sub(*j.StartedAt).Seconds()
	}
}

// clampProgress keeps reported progress in [0, 99]; only a Completed event
// may reach 100.
func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 99 {
		return 99
	}
	return v
}
