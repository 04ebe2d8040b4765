package worker

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/cortex/internal/classify"
	"github.com/kalambet/cortex/internal/clustering"
	"github.com/kalambet/cortex/internal/notes"
	"github.com/kalambet/cortex/internal/storage"
)

type fixedClassifier struct {
	result classify.Result
}

func (c *fixedClassifier) Classify(context.Context, string) classify.Result {
	return c.result
}

type fixedFinder struct {
	conns []notes.Connection
	calls int
}

func (f *fixedFinder) Discover(_ context.Context, _ notes.Entry, _ []notes.Entry) ([]notes.Connection, error) {
	f.calls++
	return f.conns, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveEntry(t *testing.T, s *storage.Store, id, body string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.SaveEntry(notes.Entry{
		ID:        id,
		Body:      body,
		Category:  notes.CategoryIdea,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveEntry(%s): %v", id, err)
	}
}

func enqueue(t *testing.T, s *storage.Store, id, jobType, payload string) {
	t.Helper()
	if err := s.EnqueueJob(storage.Job{ID: id, Type: jobType, PayloadJSON: payload}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	w := NewWorker(openTestStore(t), &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)
	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if did {
		t.Error("RunOnce reported work on an empty queue")
	}
}

func TestRunOnce_ClassifyEntry(t *testing.T) {
	s := openTestStore(t)
	saveEntry(t, s, "e1", "finish the report by friday")
	enqueue(t, s, "j1", JobClassifyEntry, `{"entry_id":"e1"}`)

	classifier := &fixedClassifier{result: classify.Result{
		Category:   notes.CategoryTask,
		Confidence: 0.8,
		Tier:       classify.TierRuleBased,
	}}
	w := NewWorker(s, classifier, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)

	did, err := w.RunOnce(context.Background())
	if err != nil || !did {
		t.Fatalf("RunOnce = (%v, %v)", did, err)
	}

	got, err := s.GetEntry("e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Category != notes.CategoryTask {
		t.Errorf("category = %s, want task", got.Category)
	}
	// A fresh task with no due date scores its base.
	if got.Score < 90 {
		t.Errorf("score = %v, want task-level score", got.Score)
	}
}

func TestRunOnce_DiscoverConnections(t *testing.T) {
	s := openTestStore(t)
	saveEntry(t, s, "e1", "first note")
	saveEntry(t, s, "e2", "second note")
	enqueue(t, s, "j1", JobDiscoverConnections, `{"entry_id":"e1"}`)

	finder := &fixedFinder{conns: []notes.Connection{{
		ID:        "c1",
		SourceID:  "e1",
		TargetID:  "e2",
		Strength:  0.7,
		CreatedBy: notes.CreatorAuto,
		CreatedAt: time.Now().UTC(),
	}}}
	w := NewWorker(s, &fixedClassifier{}, finder, nil, clustering.KeywordConfig{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if finder.calls != 1 {
		t.Errorf("finder calls = %d, want 1", finder.calls)
	}

	conns, err := s.ConnectionsFor(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ConnectionsFor: %v", err)
	}
	if len(conns) != 1 || conns[0].TargetID != "e2" {
		t.Errorf("connections = %+v", conns)
	}
}

func TestRunOnce_ReclusterKeywords(t *testing.T) {
	s := openTestStore(t)
	saveEntry(t, s, "e1", "garden compost tomatoes")
	saveEntry(t, s, "e2", "garden compost schedule")
	saveEntry(t, s, "e3", "unrelated taxes paperwork")
	enqueue(t, s, "j1", JobRecluster, `{"engine":"keywords"}`)

	w := NewWorker(s, &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	groups, err := s.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(groups), groups)
	}
	if !groups[0].Contains("e1") || !groups[0].Contains("e2") || groups[0].Contains("e3") {
		t.Errorf("group members = %v", groups[0].MemberIDs)
	}
	if !groups[0].AutoGenerated {
		t.Error("fresh cluster should be auto-generated")
	}
}

func TestRunOnce_ReclusterEmbeddingsUnavailable(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, "j1", JobRecluster, `{"engine":"embeddings"}`)

	w := NewWorker(s, &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)
	did, err := w.RunOnce(context.Background())
	if err != nil || !did {
		t.Fatalf("RunOnce = (%v, %v)", did, err)
	}

	// The job failed and was rescheduled with an attempt recorded.
	var status string
	var attempts int
	if err := s.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = 'j1'`).Scan(&status, &attempts); err != nil {
		t.Fatalf("reading job: %v", err)
	}
	if status != "pending" || attempts != 1 {
		t.Errorf("job = %s/%d, want pending/1", status, attempts)
	}
}

func TestRunOnce_RescoreAll(t *testing.T) {
	s := openTestStore(t)
	saveEntry(t, s, "e1", "an idea")
	if err := s.UpdateEntryScore("e1", -999); err != nil {
		t.Fatalf("UpdateEntryScore: %v", err)
	}
	enqueue(t, s, "j1", JobRescoreAll, "")

	w := NewWorker(s, &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := s.GetEntry("e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	// Fresh idea scores base plus recency, nowhere near the stale -999.
	if got.Score < 40 {
		t.Errorf("score = %v, want recomputed idea score", got.Score)
	}
}

func TestRunOnce_UnknownJobTypeFails(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, "j1", "make_coffee", "")

	// The worker only claims known types, so the stray job stays queued.
	w := NewWorker(s, &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 0)
	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if did {
		t.Error("RunOnce claimed a job of unknown type")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, &fixedClassifier{}, &fixedFinder{}, nil, clustering.KeywordConfig{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
