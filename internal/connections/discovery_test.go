package connections

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kalambet/cortex/internal/notes"
)

// mapEmbedder returns a fixed vector per text.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

// memStore records connections in memory.
type memStore struct {
	conns   []notes.Connection
	updates map[string]float64
}

func (s *memStore) ConnectionsFor(_ context.Context, entryID string) ([]notes.Connection, error) {
	var out []notes.Connection
	for _, c := range s.conns {
		if c.SourceID == entryID || c.TargetID == entryID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) UpdateConnectionStrength(_ context.Context, connectionID string, strength float64) error {
	if s.updates == nil {
		s.updates = make(map[string]float64)
	}
	s.updates[connectionID] = strength
	return nil
}

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func entry(id, body string, created time.Time) notes.Entry {
	return notes.Entry{ID: id, Body: body, CreatedAt: created, UpdatedAt: created}
}

func TestDiscover_SimilarityGate(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"garden plans for spring":   {1, 0},
		"greenhouse garden layouts": {0.9, 0.1},
		"tax filing checklist":      {0, 1},
	}}
	d := New(embedder, nil, Config{})

	target := entry("a", "garden plans for spring", baseTime)
	corpus := []notes.Entry{
		target,
		entry("b", "greenhouse garden layouts", baseTime.Add(-48*time.Hour)),
		entry("c", "tax filing checklist", baseTime),
	}

	got, err := d.Discover(context.Background(), target, corpus)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d connections, want 1: %+v", len(got), got)
	}
	if got[0].TargetID != "b" {
		t.Errorf("connected to %s, want b", got[0].TargetID)
	}
	if got[0].CreatedBy != notes.CreatorAuto || got[0].Relationship != notes.DefaultRelationship {
		t.Errorf("connection metadata = %+v", got[0])
	}
}

func TestDiscover_StrengthClampedAtOne(t *testing.T) {
	// Identical vectors, identical keywords, created within the temporal
	// window: 0.6 + 0.2 + 0.2 would already be 1.0, so the clamp holds.
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"weekend climbing trip ideas": {1, 0},
	}}
	d := New(embedder, nil, Config{})

	target := entry("a", "weekend climbing trip ideas", baseTime)
	other := entry("b", "weekend climbing trip ideas", baseTime.Add(10*time.Minute))

	got, err := d.Discover(context.Background(), target, []notes.Entry{target, other})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d connections, want 1", len(got))
	}
	if math.Abs(got[0].Strength-1.0) > 1e-9 {
		t.Errorf("strength = %v, want clamped 1.0", got[0].Strength)
	}
}

func TestDiscover_CapsAtMaxConnections(t *testing.T) {
	vectors := map[string][]float32{"target note text": {1, 0}}
	corpus := []notes.Entry{entry("t", "target note text", baseTime)}
	for i := 0; i < 8; i++ {
		body := fmt.Sprintf("candidate note %d", i)
		vectors[body] = []float32{1, 0}
		corpus = append(corpus, entry(fmt.Sprintf("c%d", i), body, baseTime))
	}
	d := New(&mapEmbedder{vectors: vectors}, nil, Config{MaxConnections: 3})

	got, err := d.Discover(context.Background(), corpus[0], corpus)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d connections, want 3", len(got))
	}
}

func TestDiscover_DeterministicOrdering(t *testing.T) {
	// Equal scores fall back to candidate ID order.
	vectors := map[string][]float32{
		"target note text": {1, 0},
		"first twin":       {1, 0},
		"second twin":      {1, 0},
	}
	d := New(&mapEmbedder{vectors: vectors}, nil, Config{})
	target := entry("t", "target note text", baseTime)
	corpus := []notes.Entry{
		target,
		entry("z", "second twin", baseTime.Add(-2*time.Hour)),
		entry("a", "first twin", baseTime.Add(-2*time.Hour)),
	}

	got, err := d.Discover(context.Background(), target, corpus)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 || got[0].TargetID != "a" || got[1].TargetID != "z" {
		t.Errorf("order = %+v, want a then z", got)
	}
}

func TestDiscover_DeduplicatesAgainstStore(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"note about sourdough starters": {1, 0},
		"sourdough feeding schedule":    {1, 0},
	}}
	store := &memStore{conns: []notes.Connection{{
		ID:       "conn-1",
		SourceID: "b",
		TargetID: "a",
		Strength: 0.55,
	}}}
	d := New(embedder, store, Config{})

	target := entry("a", "note about sourdough starters", baseTime)
	other := entry("b", "sourdough feeding schedule", baseTime.Add(5*time.Minute))

	got, err := d.Discover(context.Background(), target, []notes.Entry{target, other})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// The pair already has an edge (in either direction), so no new
	// connection is created and the stored strength rises to the new score.
	if len(got) != 0 {
		t.Errorf("got %d new connections, want 0: %+v", len(got), got)
	}
	updated, ok := store.updates["conn-1"]
	if !ok {
		t.Fatal("existing connection strength was not raised")
	}
	if updated <= 0.55 {
		t.Errorf("updated strength = %v, want > 0.55", updated)
	}
}

func TestDiscover_NoDowngradeOfStrongerEdge(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"first":  {1, 0},
		"second": {0.8, 0.6},
	}}
	store := &memStore{conns: []notes.Connection{{
		ID:       "conn-1",
		SourceID: "a",
		TargetID: "b",
		Strength: 0.99,
	}}}
	d := New(embedder, store, Config{})

	target := entry("a", "first", baseTime)
	other := entry("b", "second", baseTime.Add(72*time.Hour))

	if _, err := d.Discover(context.Background(), target, []notes.Entry{target, other}); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, ok := store.updates["conn-1"]; ok {
		t.Errorf("stored strength was lowered: %v", store.updates)
	}
}

func TestDiscoverDebounced_SupersededCallReturnsNothing(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"debounced note": {1, 0},
		"its neighbor":   {1, 0},
	}}
	d := New(embedder, nil, Config{DebounceInterval: 60 * time.Millisecond})

	target := entry("a", "debounced note", baseTime)
	corpus := []notes.Entry{target, entry("b", "its neighbor", baseTime)}

	type outcome struct {
		conns []notes.Connection
		err   error
	}
	firstCh := make(chan outcome, 1)
	go func() {
		conns, err := d.DiscoverDebounced(context.Background(), target, corpus)
		firstCh <- outcome{conns, err}
	}()

	// Let the first call take its token, then supersede it.
	time.Sleep(15 * time.Millisecond)
	second, err := d.DiscoverDebounced(context.Background(), target, corpus)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(second) != 1 {
		t.Errorf("second call found %d connections, want 1", len(second))
	}

	first := <-firstCh
	if first.err != nil {
		t.Fatalf("first call: %v", first.err)
	}
	if len(first.conns) != 0 {
		t.Errorf("superseded call returned %d connections, want 0", len(first.conns))
	}
}

func TestDiscoverDebounced_CancelledContext(t *testing.T) {
	d := New(&mapEmbedder{}, nil, Config{DebounceInterval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.DiscoverDebounced(ctx, notes.Entry{ID: "a", Body: "x"}, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
}
