package job

import (
	"testing"
	"time"
)

func newTestJob() *Job {
	return New("HDRI - test.jpg", "file-1", "test.jpg", "https://files.test/test.jpg", Config{})
}

func TestApply_StartedSetsStartedAtOnce(t *testing.T) {
	j := newTestJob()
	now := time.Now().UTC()

	if changed := Apply(j, Started(), now); !changed {
		t.Fatal("expected Started to change a pending job")
	}
	if j.Status != StatusProcessing {
		t.Errorf("expected processing, got %s", j.Status)
	}
	if j.StartedAt == nil || !j.StartedAt.Equal(now) {
		t.Errorf("expected started_at %v, got %v", now, j.StartedAt)
	}

	later := now.Add(time.Minute)
	if changed := Apply(j, Started(), later); changed {
		t.Error("expected duplicate Started to be a no-op")
	}
	if !j.StartedAt.Equal(now) {
		t.Error("started_at must be set exactly once")
	}
}

func TestApply_ProgressMonotonicAndClamped(t *testing.T) {
	j := newTestJob()
	now := time.Now().UTC()
	Apply(j, Started(), now)

	Apply(j, ProgressUpdate(40), now)
	if j.Progress != 40 {
		t.Fatalf("expected progress 40, got %d", j.Progress)
	}

	// Out-of-order update must be discarded, not applied.
	if changed := Apply(j, ProgressUpdate(20), now); changed {
		t.Error("expected regressing progress to be a no-op")
	}
	if j.Progress != 40 {
		t.Errorf("progress regressed to %d", j.Progress)
	}

	// Progress never reaches 100 except via Completed.
	Apply(j, ProgressUpdate(250), now)
	if j.Progress != 99 {
		t.Errorf("expected clamp to 99, got %d", j.Progress)
	}

	Apply(j, ProgressUpdate(-5), now)
	if j.Progress != 99 {
		t.Errorf("negative update changed progress to %d", j.Progress)
	}
}

func TestApply_ProgressOnPendingImpliesStart(t *testing.T) {
	j := newTestJob()
	now := time.Now().UTC()

	Apply(j, ProgressUpdate(30), now)
	if j.Status != StatusProcessing {
		t.Errorf("expected implicit start, got %s", j.Status)
	}
	if j.StartedAt == nil {
		t.Error("expected started_at to be set")
	}
	if j.Progress != 30 {
		t.Errorf("expected progress 30, got %d", j.Progress)
	}
}

func TestApply_CompletedSetsTerminalFields(t *testing.T) {
	j := newTestJob()
	start := time.Now().UTC()
	Apply(j, Started(), start)

	done := start.Add(90 * time.Second)
	results := []ResultFile{{Filename: "result.hdr", Type: FileTypeHDRI, Format: "hdr"}}
	Apply(j, Completed(results), done)

	if j.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", j.Status)
	}
	if j.Progress != 100 {
		t.Errorf("expected progress 100, got %d", j.Progress)
	}
	if j.CompletedAt == nil || !j.CompletedAt.Equal(done) {
		t.Errorf("expected completed_at %v, got %v", done, j.CompletedAt)
	}
	if got, want := j.ProcessingTime, 90.0; got < want-0.001 || got > want+0.001 {
		t.Errorf("expected processing_time %v, got %v", want, got)
	}
	if len(j.ResultFiles) != 1 {
		t.Errorf("expected 1 result file, got %d", len(j.ResultFiles))
	}
}

func TestApply_CompletedOnPendingImpliesStart(t *testing.T) {
	j := newTestJob()
	now := time.Now().UTC()

	Apply(j, Completed(nil), now)
	if j.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", j.Status)
	}
	if j.StartedAt == nil {
		t.Error("expected implicit Started to set started_at")
	}
	if j.ResultFiles == nil {
		t.Error("result files must never be nil after completion")
	}
}

func TestApply_FailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusProcessing} {
		j := newTestJob()
		now := time.Now().UTC()
		if from == StatusProcessing {
			Apply(j, Started(), now)
		}

		Apply(j, Failed("provider unreachable"), now.Add(time.Second))
		if j.Status != StatusFailed {
			t.Errorf("from %s: expected failed, got %s", from, j.Status)
		}
		if j.ErrorMessage != "provider unreachable" {
			t.Errorf("from %s: expected error message, got %q", from, j.ErrorMessage)
		}
		if j.CompletedAt == nil {
			t.Errorf("from %s: expected completed_at", from)
		}
	}
}

func TestApply_TerminalIsFinal(t *testing.T) {
	terminalEvents := []Event{
		Completed([]ResultFile{{Filename: "late.hdr"}}),
		Failed("late failure"),
		Cancelled(),
		Started(),
		ProgressUpdate(50),
	}

	j := newTestJob()
	now := time.Now().UTC()
	Apply(j, Started(), now)
	Apply(j, Failed("original"), now.Add(time.Second))

	snapshot := *j
	for _, e := range terminalEvents {
		if changed := Apply(j, e, now.Add(time.Minute)); changed {
			t.Errorf("event %s mutated a terminal job", e.Kind)
		}
	}
	if j.Status != snapshot.Status || j.ErrorMessage != snapshot.ErrorMessage {
		t.Error("terminal fields changed after terminal state")
	}
	if !j.CompletedAt.Equal(*snapshot.CompletedAt) {
		t.Error("completed_at changed after terminal state")
	}
}

func TestApply_DuplicateTerminalEventIdempotent(t *testing.T) {
	results := []ResultFile{{Filename: "result.hdr", Type: FileTypeResult, Format: "hdr"}}

	once := newTestJob()
	twice := newTestJob()
	twice.ID = once.ID
	start := time.Now().UTC()
	end := start.Add(10 * time.Second)

	Apply(once, Started(), start)
	Apply(once, Completed(results), end)

	Apply(twice, Started(), start)
	Apply(twice, Completed(results), end)
	Apply(twice, Completed(results), end.Add(time.Hour))

	if once.Status != twice.Status || once.Progress != twice.Progress ||
		!once.CompletedAt.Equal(*twice.CompletedAt) ||
		once.ProcessingTime != twice.ProcessingTime ||
		len(once.ResultFiles) != len(twice.ResultFiles) {
		t.Error("duplicate terminal delivery produced a different record")
	}
}

func TestApply_CancelledOnlyFromNonTerminal(t *testing.T) {
	j := newTestJob()
	now := time.Now().UTC()

	Apply(j, Cancelled(), now)
	if j.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", j.Status)
	}
	if j.CompletedAt == nil {
		t.Error("expected completed_at on cancellation")
	}

	// Cancelling a completed job is a no-op.
	k := newTestJob()
	Apply(k, Started(), now)
	Apply(k, Completed(nil), now.Add(time.Second))
	if changed := Apply(k, Cancelled(), now.Add(time.Minute)); changed {
		t.Error("cancel on terminal job must be a no-op")
	}
	if k.Status != StatusCompleted {
		t.Errorf("status changed to %s", k.Status)
	}
}

func TestConfig_DefaultsAndValidation(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Resolution != 1024 || cfg.OutputFormat != "hdr" || cfg.AntiAliasing != "4" || cfg.Preset != "automotivo" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	bad := Config{Resolution: 777}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for resolution 777")
	}
	bad = Config{OutputFormat: "png"}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for output format png")
	}
}
