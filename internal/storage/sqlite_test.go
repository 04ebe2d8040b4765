package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/cortex/internal/notes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func testEntry(id string) notes.Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return notes.Entry{
		ID:        id,
		Title:     "Test note",
		Body:      "body of " + id,
		Category:  notes.CategoryIdea,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	due := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	e := testEntry("e1")
	e.Category = notes.CategoryTask
	e.Score = 123.5
	e.Pinned = true
	e.Starred = true
	e.DueDate = &due
	e.Urgency = notes.UrgencyHigh

	if err := s.SaveEntry(e); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	got, err := s.GetEntry("e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != e.Title || got.Body != e.Body || got.Category != notes.CategoryTask {
		t.Errorf("entry = %+v", got)
	}
	if got.Score != 123.5 || !got.Pinned || !got.Starred || got.Archived || got.Completed {
		t.Errorf("flags/score = %+v", got)
	}
	if got.Urgency != notes.UrgencyHigh {
		t.Errorf("urgency = %q", got.Urgency)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestGetEntry_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEntry("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateEntry(t *testing.T) {
	s := openTestStore(t)
	e := testEntry("e1")
	if err := s.SaveEntry(e); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	e.Body = "revised body"
	e.Category = notes.CategoryProject
	e.Archived = true
	if err := s.UpdateEntry(e); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}

	got, err := s.GetEntry("e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Body != "revised body" || got.Category != notes.CategoryProject || !got.Archived {
		t.Errorf("entry after update = %+v", got)
	}

	missing := testEntry("nope")
	if err := s.UpdateEntry(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestListEntries_OrderAndArchivedFilter(t *testing.T) {
	s := openTestStore(t)

	low := testEntry("low")
	low.Score = 10
	high := testEntry("high")
	high.Score = 90
	archived := testEntry("archived")
	archived.Score = 50
	archived.Archived = true

	for _, e := range []notes.Entry{low, high, archived} {
		if err := s.SaveEntry(e); err != nil {
			t.Fatalf("SaveEntry(%s): %v", e.ID, err)
		}
	}

	active, err := s.ListEntries(false)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(active) != 2 || active[0].ID != "high" || active[1].ID != "low" {
		t.Errorf("active = %v", ids(active))
	}

	all, err := s.ListEntries(true)
	if err != nil {
		t.Fatalf("ListEntries(true): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %v, want 3 entries", ids(all))
	}
}

func ids(entries []notes.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestUpdateCategoryAndScore(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveEntry(testEntry("e1")); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	if err := s.UpdateEntryCategory("e1", notes.CategoryBucket); err != nil {
		t.Fatalf("UpdateEntryCategory: %v", err)
	}
	if err := s.UpdateEntryScore("e1", 77); err != nil {
		t.Fatalf("UpdateEntryScore: %v", err)
	}

	got, _ := s.GetEntry("e1")
	if got.Category != notes.CategoryBucket || got.Score != 77 {
		t.Errorf("entry = %+v", got)
	}
}

func TestUpdateScores_Batch(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.SaveEntry(testEntry(id)); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}

	if err := s.UpdateScores(map[string]float64{"a": 11, "b": 22}); err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}
	a, _ := s.GetEntry("a")
	b, _ := s.GetEntry("b")
	if a.Score != 11 || b.Score != 22 {
		t.Errorf("scores = %v, %v", a.Score, b.Score)
	}

	if err := s.UpdateScores(nil); err != nil {
		t.Errorf("UpdateScores(nil): %v", err)
	}
}

func testConnection(id, source, target string) notes.Connection {
	return notes.Connection{
		ID:        id,
		SourceID:  source,
		TargetID:  target,
		Strength:  0.8,
		CreatedBy: notes.CreatorAuto,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestConnections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveEntry(testEntry(id)); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}

	weak := testConnection("c1", "a", "b")
	weak.Strength = 0.6
	strong := testConnection("c2", "c", "a")
	strong.Strength = 0.9
	if err := s.SaveConnection(weak); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	if err := s.SaveConnection(strong); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	// Both directions count, ordered by strength descending.
	conns, err := s.ConnectionsFor(ctx, "a")
	if err != nil {
		t.Fatalf("ConnectionsFor: %v", err)
	}
	if len(conns) != 2 || conns[0].ID != "c2" || conns[1].ID != "c1" {
		t.Errorf("connections = %+v", conns)
	}
	if conns[1].Relationship != notes.DefaultRelationship {
		t.Errorf("relationship defaulted to %q", conns[1].Relationship)
	}

	// The count subquery sees edges from both sides.
	a, _ := s.GetEntry("a")
	if a.ConnectionCount != 2 {
		t.Errorf("connection count = %d, want 2", a.ConnectionCount)
	}

	if err := s.UpdateConnectionStrength(ctx, "c1", 0.95); err != nil {
		t.Fatalf("UpdateConnectionStrength: %v", err)
	}
	conns, _ = s.ConnectionsFor(ctx, "a")
	if conns[0].ID != "c1" {
		t.Errorf("expected c1 first after strength bump, got %+v", conns)
	}

	if err := s.DeleteConnection("c2"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if err := s.DeleteConnection("c2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteEntry_CascadesConnections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.SaveEntry(testEntry(id)); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}
	if err := s.SaveConnection(testConnection("c1", "a", "b")); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	if err := s.DeleteEntry("a"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	conns, err := s.ConnectionsFor(ctx, "b")
	if err != nil {
		t.Fatalf("ConnectionsFor: %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("connections after cascade = %+v, want none", conns)
	}
}

func TestGroups(t *testing.T) {
	s := openTestStore(t)

	groups := []notes.Group{
		{
			ID:            "g1",
			Name:          "hiking & trails",
			MemberIDs:     []string{"a", "b"},
			Centroid:      []float32{0.25, -1.5, 3},
			AutoGenerated: true,
			CreatedAt:     time.Now().UTC().Truncate(time.Second),
		},
		{
			ID:        "g2",
			Name:      "My Reading",
			MemberIDs: []string{"c"},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := s.ReplaceGroups(groups); err != nil {
		t.Fatalf("ReplaceGroups: %v", err)
	}

	got, err := s.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	g1 := got[0]
	if g1.ID != "g1" || !g1.AutoGenerated {
		g1 = got[1]
	}
	if len(g1.MemberIDs) != 2 || g1.MemberIDs[0] != "a" {
		t.Errorf("member_ids = %v", g1.MemberIDs)
	}
	if len(g1.Centroid) != 3 || g1.Centroid[1] != -1.5 {
		t.Errorf("centroid = %v, want [0.25 -1.5 3]", g1.Centroid)
	}

	// Replacing again fully swaps the set.
	if err := s.ReplaceGroups(groups[:1]); err != nil {
		t.Fatalf("ReplaceGroups: %v", err)
	}
	got, _ = s.ListGroups()
	if len(got) != 1 || got[0].ID != "g1" {
		t.Errorf("groups after swap = %+v", got)
	}

	if err := s.RenameGroup("g1", "Mountains"); err != nil {
		t.Fatalf("RenameGroup: %v", err)
	}
	got, _ = s.ListGroups()
	if got[0].Name != "Mountains" || got[0].AutoGenerated {
		t.Errorf("renamed group = %+v, want user-owned Mountains", got[0])
	}

	if err := s.RenameGroup("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing err = %v, want ErrNotFound", err)
	}
}

func TestJobQueue_ClaimAndComplete(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "classify_entry", PayloadJSON: `{"entry_id":"e1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// Unrelated types never match.
	job, err := s.ClaimNextJob([]string{"recluster"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed %+v, want nil", job)
	}

	job, err = s.ClaimNextJob([]string{"classify_entry", "recluster"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j1" || job.Status != "running" {
		t.Fatalf("claimed = %+v", job)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("max attempts defaulted to %d, want 3", job.MaxAttempts)
	}

	// A running job cannot be claimed twice.
	again, err := s.ClaimNextJob([]string{"classify_entry"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("double claim returned %+v", again)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestJobQueue_NotDueUntilRunAfter(t *testing.T) {
	s := openTestStore(t)

	future := time.Now().UTC().Add(time.Hour)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "rescore_all", RunAfter: future}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := s.ClaimNextJob([]string{"rescore_all"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed future job %+v", job)
	}
}

// resetRunAfter makes a backed-off job immediately runnable again.
func resetRunAfter(t *testing.T, s *Store, id string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	if _, err := s.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, past, id); err != nil {
		t.Fatalf("resetting run_after: %v", err)
	}
}

func TestJobQueue_FailureBackoffThenDead(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "discover_connections"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	for attempt := 1; attempt < 3; attempt++ {
		job, err := s.ClaimNextJob([]string{"discover_connections"})
		if err != nil {
			t.Fatalf("ClaimNextJob (attempt %d): %v", attempt, err)
		}
		if job == nil {
			t.Fatalf("no job to claim on attempt %d", attempt)
		}
		if err := s.FailJob("j1", "ollama down"); err != nil {
			t.Fatalf("FailJob: %v", err)
		}

		// Backoff pushes run_after into the future, so the job is not
		// immediately claimable.
		if job, _ := s.ClaimNextJob([]string{"discover_connections"}); job != nil {
			t.Fatalf("claimed backed-off job on attempt %d", attempt)
		}
		resetRunAfter(t, s, "j1")
	}

	job, err := s.ClaimNextJob([]string{"discover_connections"})
	if err != nil {
		t.Fatalf("ClaimNextJob (final): %v", err)
	}
	if job == nil || job.Attempts != 2 {
		t.Fatalf("final claim = %+v, want attempts 2", job)
	}
	if job.LastError != "ollama down" {
		t.Errorf("last error = %q", job.LastError)
	}

	// Third failure exhausts max attempts: the job goes dead.
	if err := s.FailJob("j1", "still down"); err != nil {
		t.Fatalf("FailJob (final): %v", err)
	}
	var status string
	if err := s.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, "j1").Scan(&status); err != nil {
		t.Fatalf("reading status: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("fail missing err = %v, want ErrNotFound", err)
	}
}
