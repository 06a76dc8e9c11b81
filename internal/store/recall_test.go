package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/embedding"
	"github.com/kbanc85/claudia-sub002/internal/model"
)

func TestRecallKeywordRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Remember(ctx, RememberParams{Content: "Sarah Chen is allergic to shellfish", Entities: []string{"Sarah Chen"}})
	s.Remember(ctx, RememberParams{Content: "The quarterly review is every March"})
	s.Remember(ctx, RememberParams{Content: "Miguel moved to Lisbon last spring", Entities: []string{"Miguel"}})

	results, err := s.Recall(ctx, RecallParams{Query: "shellfish allergy"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Memory.Content != "Sarah Chen is allergic to shellfish" {
		t.Errorf("expected shellfish memory first, got %q", results[0].Memory.Content)
	}
	if results[0].Score <= results[len(results)-1].Score {
		t.Errorf("expected descending scores, got first %f last %f",
			results[0].Score, results[len(results)-1].Score)
	}
	if len(results[0].Entities) != 1 || results[0].Entities[0] != "Sarah Chen" {
		t.Errorf("expected entity names on results, got %v", results[0].Entities)
	}
}

func TestRecallVectorSignalDominates(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreWithVectors(t, map[string]embedding.Vector{
		"What does Jordan like to eat": {1, 0, 0},
		"Jordan loves spicy ramen":     {0.99, 0.1410674, 0}, // cosine 0.99
		"The tax filing is in April":   {0, 1, 0},            // cosine 0
	})

	s.Remember(ctx, RememberParams{Content: "Jordan loves spicy ramen", Entities: []string{"Jordan"}})
	s.Remember(ctx, RememberParams{Content: "The tax filing is in April"})

	results, err := s.Recall(ctx, RecallParams{Query: "What does Jordan like to eat"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Memory.Content != "Jordan loves spicy ramen" {
		t.Errorf("expected semantically close memory first, got %q", results[0].Memory.Content)
	}
}

func TestRecallFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	imp := 0.9
	s.Remember(ctx, RememberParams{Content: "Maya prefers async communication", Type: model.MemoryPreference, Entities: []string{"Maya"}, Importance: &imp})
	s.Remember(ctx, RememberParams{Content: "Maya mentioned a new project", Type: model.MemoryObservation, Entities: []string{"Maya"}})
	s.Remember(ctx, RememberParams{Content: "Dev prefers long walks", Type: model.MemoryPreference, Entities: []string{"Dev"}})

	byType, err := s.Recall(ctx, RecallParams{Query: "Maya", Type: model.MemoryPreference})
	if err != nil {
		t.Fatalf("recall by type: %v", err)
	}
	for _, r := range byType {
		if r.Memory.Type != model.MemoryPreference {
			t.Errorf("type filter leaked %s", r.Memory.Type)
		}
	}

	byEntity, err := s.Recall(ctx, RecallParams{Query: "prefers", Entity: "Maya"})
	if err != nil {
		t.Fatalf("recall by entity: %v", err)
	}
	if len(byEntity) != 2 {
		t.Fatalf("expected 2 memories for Maya, got %d", len(byEntity))
	}

	strong, err := s.Recall(ctx, RecallParams{Query: "prefers", MinImportance: 0.8})
	if err != nil {
		t.Fatalf("recall min importance: %v", err)
	}
	if len(strong) != 1 || strong[0].Memory.Importance != 0.9 {
		t.Fatalf("expected only the 0.9 importance memory, got %d results", len(strong))
	}

	if _, err := s.Recall(ctx, RecallParams{Query: "anything", Entity: "Nobody"}); err == nil {
		t.Error("expected error for unknown entity filter")
	}
}

func TestRecallImportanceMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Remember(ctx, RememberParams{Content: "standup notes from monday morning"})
	target, _ := s.Remember(ctx, RememberParams{Content: "standup notes from tuesday morning"})
	s.Remember(ctx, RememberParams{Content: "standup notes from friday morning"})

	rank := func() int {
		results, err := s.Recall(ctx, RecallParams{Query: "standup notes"})
		if err != nil {
			t.Fatalf("recall: %v", err)
		}
		for i, r := range results {
			if r.Memory.ID == target.Memory.ID {
				return i
			}
		}
		t.Fatalf("target memory missing from results")
		return -1
	}

	before := rank()

	// Raising a memory's importance must never push it down the ranking.
	if _, err := s.db.Exec(`UPDATE memories SET importance = 0.95, base_importance = 0.95 WHERE id = ?`,
		target.Memory.ID); err != nil {
		t.Fatalf("bump importance: %v", err)
	}

	after := rank()
	if after > before {
		t.Errorf("rank dropped from %d to %d after importance raise", before, after)
	}
	if after != 0 {
		t.Errorf("expected highest-importance memory first, got rank %d", after)
	}
}

func TestRecallLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Remember(ctx, RememberParams{Content: "meeting notes from monday standup"})
	s.Remember(ctx, RememberParams{Content: "meeting notes from tuesday standup"})
	s.Remember(ctx, RememberParams{Content: "meeting notes from friday standup"})

	results, err := s.Recall(ctx, RecallParams{Query: "meeting notes", Limit: 2})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected limit 2, got %d", len(results))
	}
}

func TestRecallTouchesAccessed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, _ := s.Remember(ctx, RememberParams{Content: "Priya runs the platform team"})

	if _, err := s.Recall(ctx, RecallParams{Query: "platform team"}); err != nil {
		t.Fatalf("recall: %v", err)
	}

	m, _ := s.GetMemory(ctx, res.Memory.ID)
	if m.AccessCount != 1 {
		t.Errorf("expected access_count 1 after recall, got %d", m.AccessCount)
	}
	if m.LastAccessedAt == nil {
		t.Error("expected last_accessed_at set after recall")
	}
}

func TestHalfLifeScore(t *testing.T) {
	half := 168 * time.Hour

	if got := halfLifeScore(0, half); math.Abs(got-1.0) > 0.001 {
		t.Errorf("fresh = %f, want 1.0", got)
	}
	if got := halfLifeScore(half, half); math.Abs(got-0.5) > 0.001 {
		t.Errorf("one half-life = %f, want 0.5", got)
	}
	if got := halfLifeScore(10*half, half); got > 0.001 {
		t.Errorf("ten half-lives = %f, want near 0", got)
	}
	older := halfLifeScore(3*half, half)
	newer := halfLifeScore(half, half)
	if older >= newer {
		t.Errorf("recency must decrease with age: %f >= %f", older, newer)
	}
}

func TestAbout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Remember(ctx, RememberParams{
		Content:  "Sarah Chen is the CTO at Meridian Labs",
		Entities: []string{"Sarah Chen", "Meridian Labs:organization"},
	})
	imp := 0.9
	s.Remember(ctx, RememberParams{
		Content:    "Sarah Chen is allergic to shellfish",
		Entities:   []string{"Sarah Chen"},
		Importance: &imp,
	})
	s.Relate(ctx, RelateParams{From: "Sarah Chen", To: "David Park", Type: "works_with"})

	res, err := s.About(ctx, "Sarah Chen", 50, 1)
	if err != nil {
		t.Fatalf("about: %v", err)
	}
	if res.Entity.Name != "Sarah Chen" {
		t.Errorf("entity = %q", res.Entity.Name)
	}
	if len(res.Memories) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(res.Memories))
	}
	// Importance first.
	if res.Memories[0].Content != "Sarah Chen is allergic to shellfish" {
		t.Errorf("expected high-importance memory first, got %q", res.Memories[0].Content)
	}
	if len(res.Relationships) != 2 {
		t.Errorf("expected co-mention + works_with, got %d relationships", len(res.Relationships))
	}
	if len(res.Connected) != 2 {
		t.Errorf("expected Meridian Labs and David Park connected, got %d", len(res.Connected))
	}

	if _, err := s.About(ctx, "Unknown Person", 10, 1); err == nil {
		t.Error("expected ErrNotFound for unknown entity")
	}
}
