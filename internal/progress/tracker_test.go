package progress

import (
	"testing"

	"github.com/wsiviewer/api/internal/model"
)

// fakeProbe stands in for the tile cache in lookup fallbacks.
type fakeProbe struct {
	descriptor bool
	tiles      bool
}

func (p fakeProbe) DescriptorExists(string) bool { return p.descriptor }
func (p fakeProbe) HasAny(string) bool           { return p.tiles }

func TestBegin_AtMostOneInFlight(t *testing.T) {
	tr := NewTracker()

	job, created := tr.Begin("sample")
	if !created {
		t.Fatal("first Begin should create a job")
	}
	if job.Status != model.JobStatusStarting {
		t.Errorf("new job status = %s, want starting", job.Status)
	}
	if job.ID == "" {
		t.Error("new job should carry an ID")
	}

	dup, created := tr.Begin("sample")
	if created {
		t.Fatal("second Begin must not create a second in-flight job")
	}
	if dup.ID != job.ID {
		t.Errorf("duplicate Begin returned a different job: %s vs %s", dup.ID, job.ID)
	}

	// Still guarded once the worker picks it up.
	tr.SetConverting("sample", 100)
	if _, created := tr.Begin("sample"); created {
		t.Error("Begin must not replace a converting job")
	}
}

func TestBegin_ReplacesTerminalJobs(t *testing.T) {
	tr := NewTracker()

	first, _ := tr.Begin("sample")
	tr.Fail("sample", "decoder exploded")

	second, created := tr.Begin("sample")
	if !created {
		t.Fatal("Begin after failure should start a fresh job")
	}
	if second.ID == first.ID {
		t.Error("fresh job should have a new ID")
	}

	tr.Complete("sample")
	if _, created := tr.Begin("sample"); !created {
		t.Error("Begin after completion should start a fresh job")
	}
}

func TestAdvance_Monotonic(t *testing.T) {
	tr := NewTracker()
	tr.Begin("sample")
	tr.SetConverting("sample", 200)

	if pct := tr.Advance("sample", 50); pct != 25 {
		t.Errorf("progress = %d, want 25", pct)
	}
	// A stale, lower count must not move progress backwards.
	if pct := tr.Advance("sample", 30); pct != 25 {
		t.Errorf("progress regressed to %d", pct)
	}
	if pct := tr.Advance("sample", 200); pct != 100 {
		t.Errorf("progress = %d, want 100", pct)
	}
}

func TestCompleteAndFail(t *testing.T) {
	tr := NewTracker()
	tr.Begin("sample")
	tr.SetConverting("sample", 10)
	tr.Complete("sample")

	job, ok := tr.Snapshot("sample")
	if !ok {
		t.Fatal("job should still be tracked after completion")
	}
	if job.Status != model.JobStatusComplete || job.Progress != 100 {
		t.Errorf("completed job = %s/%d, want complete/100", job.Status, job.Progress)
	}
	if job.TilesCompleted != job.TilesTotal {
		t.Errorf("completed counts = %d/%d", job.TilesCompleted, job.TilesTotal)
	}

	tr.Begin("broken")
	tr.Fail("broken", "out of disk")
	job, _ = tr.Snapshot("broken")
	if job.Status != model.JobStatusError {
		t.Errorf("failed job status = %s, want error", job.Status)
	}
	if job.Error == nil || *job.Error != "out of disk" {
		t.Errorf("failed job error = %v", job.Error)
	}
}

func TestRemove_CancelsInFlight(t *testing.T) {
	tr := NewTracker()
	tr.Begin("sample")

	cancelled := false
	tr.BindCancel("sample", func() { cancelled = true })

	tr.Remove("sample")
	if !cancelled {
		t.Error("Remove should invoke the bound cancel hook")
	}
	if _, ok := tr.Snapshot("sample"); ok {
		t.Error("Remove should drop the registry entry")
	}

	// Removing an untracked slide is a no-op.
	tr.Remove("sample")
}

func TestLookup_Fallbacks(t *testing.T) {
	tr := NewTracker()

	// Tracked in memory: the job record wins regardless of cache state.
	tr.Begin("tracked")
	tr.SetConverting("tracked", 100)
	tr.Advance("tracked", 40)
	resp := tr.Lookup("tracked", fakeProbe{descriptor: true, tiles: true})
	if resp.Status != model.JobStatusConverting || resp.Progress != 40 {
		t.Errorf("tracked lookup = %s/%d, want converting/40", resp.Status, resp.Progress)
	}

	// Untracked with a descriptor: complete.
	resp = tr.Lookup("done", fakeProbe{descriptor: true})
	if resp.Status != model.JobStatusComplete || resp.Progress != 100 {
		t.Errorf("descriptor lookup = %s/%d, want complete/100", resp.Status, resp.Progress)
	}

	// Untracked with tiles but no descriptor: the fixed placeholder.
	resp = tr.Lookup("half", fakeProbe{tiles: true})
	if resp.Status != model.JobStatusConverting || resp.Progress != restartProgress {
		t.Errorf("partial lookup = %s/%d, want converting/%d", resp.Status, resp.Progress, restartProgress)
	}

	// Nothing anywhere: idle.
	resp = tr.Lookup("unknown", fakeProbe{})
	if resp.Status != model.JobStatusIdle || resp.Progress != 0 {
		t.Errorf("unknown lookup = %s/%d, want idle/0", resp.Status, resp.Progress)
	}
}

func TestMarkComplete_Idempotent(t *testing.T) {
	tr := NewTracker()
	tr.MarkComplete("sample")
	tr.MarkComplete("sample")

	job, ok := tr.Snapshot("sample")
	if !ok || job.Status != model.JobStatusComplete || job.Progress != 100 {
		t.Errorf("seeded job = %+v", job)
	}
}
