package store

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

func TestRunDecayHalvesIdleImportance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Remember(ctx, RememberParams{
		Content: "The old office was on Pine Street",
		Origin:  model.OriginExtracted,
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	asOf := time.Now()
	backdateMemory(t, s, res.Memory.ID, asOf.Add(-s.cfg.Decay.HalfLife)) // one half-life idle

	sum, err := s.RunDecay(ctx, asOf)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if sum.Touched != 1 {
		t.Fatalf("touched = %d, want 1", sum.Touched)
	}

	m, _ := s.GetMemory(ctx, res.Memory.ID)
	if math.Abs(m.Importance-0.25) > 0.001 {
		t.Errorf("importance after one half-life = %f, want 0.25", m.Importance)
	}

	// Re-running with the same asOf is a no-op: decay computes from the
	// base, it never compounds.
	sum2, err := s.RunDecay(ctx, asOf)
	if err != nil {
		t.Fatalf("second decay: %v", err)
	}
	if sum2.Touched != 0 {
		t.Errorf("second run touched %d, want 0", sum2.Touched)
	}
	m2, _ := s.GetMemory(ctx, res.Memory.ID)
	if m2.Importance != m.Importance {
		t.Errorf("importance changed on re-run: %f -> %f", m.Importance, m2.Importance)
	}
}

func TestRunDecayFloor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, _ := s.Remember(ctx, RememberParams{
		Content: "An ancient detail nobody asked about",
		Origin:  model.OriginExtracted,
	})

	asOf := time.Now()
	backdateMemory(t, s, res.Memory.ID, asOf.AddDate(-3, 0, 0))

	if _, err := s.RunDecay(ctx, asOf); err != nil {
		t.Fatalf("decay: %v", err)
	}

	m, _ := s.GetMemory(ctx, res.Memory.ID)
	if m.Importance != s.cfg.Decay.Floor {
		t.Errorf("importance = %f, want floor %f", m.Importance, s.cfg.Decay.Floor)
	}
}

func TestRunDecaySkipsProtected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stated, _ := s.Remember(ctx, RememberParams{Content: "My daughter's birthday is June 4th"})
	extracted, _ := s.Remember(ctx, RememberParams{
		Content: "Mentioned liking the window seat once",
		Origin:  model.OriginExtracted,
	})
	corrected, _ := s.Remember(ctx, RememberParams{
		Content: "Old address on Pine Street",
		Origin:  model.OriginExtracted,
	})
	if _, err := s.Correct(ctx, corrected.Memory.ID, "New address on Market Street"); err != nil {
		t.Fatalf("correct: %v", err)
	}

	asOf := time.Now()
	for _, id := range []string{stated.Memory.ID, extracted.Memory.ID, corrected.Memory.ID} {
		backdateMemory(t, s, id, asOf.AddDate(-1, 0, 0))
	}

	if _, err := s.RunDecay(ctx, asOf); err != nil {
		t.Fatalf("decay: %v", err)
	}

	m, _ := s.GetMemory(ctx, stated.Memory.ID)
	if m.Importance != 0.5 {
		t.Errorf("high-confidence user_stated memory decayed to %f", m.Importance)
	}
	m, _ = s.GetMemory(ctx, corrected.Memory.ID)
	if m.Importance != 0.5 {
		t.Errorf("corrected memory decayed to %f", m.Importance)
	}
	m, _ = s.GetMemory(ctx, extracted.Memory.ID)
	if m.Importance >= 0.5 {
		t.Errorf("extracted memory should decay, still %f", m.Importance)
	}
}

func TestRecallResistsDecay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, _ := s.Remember(ctx, RememberParams{
		Content: "Miguel recommended the harbor restaurant",
		Origin:  model.OriginExtracted,
	})

	asOf := time.Now()
	backdateMemory(t, s, res.Memory.ID, asOf.AddDate(0, -6, 0))

	// A recall counts as rehearsal; the refreshed access time puts the
	// memory back inside the min-idle window.
	if _, err := s.Recall(ctx, RecallParams{Query: "harbor restaurant"}); err != nil {
		t.Fatalf("recall: %v", err)
	}

	if _, err := s.RunDecay(ctx, asOf); err != nil {
		t.Fatalf("decay: %v", err)
	}
	m, _ := s.GetMemory(ctx, res.Memory.ID)
	if m.Importance != 0.5 {
		t.Errorf("recently recalled memory decayed to %f", m.Importance)
	}
}

func TestRunDedupSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Remember(ctx, RememberParams{
		Content:  "Maya prefers tea over coffee",
		Entities: []string{"Maya"},
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	backdateMemory(t, s, first.Memory.ID, time.Now().Add(-time.Hour))

	// Insert a duplicate behind the write path, as an import might.
	maya, _ := s.GetEntity(ctx, "Maya")
	dup := &model.Memory{
		ID:                 s.newID(),
		Content:            "Maya prefers tea over coffee",
		Type:               model.MemoryFact,
		Importance:         0.5,
		Confidence:         1.0,
		ContentHash:        contentHash("Maya prefers tea over coffee"),
		EntityIDs:          []string{maya.ID},
		OriginType:         model.OriginUserStated,
		VerificationStatus: model.VerificationPending,
		CreatedAt:          time.Now(),
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertMemoryTx(tx, dup)
	})
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}

	sum, err := s.RunDedupSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.Merged != 1 {
		t.Fatalf("merged = %d, want 1", sum.Merged)
	}

	// The older memory survives and absorbed the newer one.
	survivor, _ := s.GetMemory(ctx, first.Memory.ID)
	if survivor.InvalidatedAt != nil {
		t.Fatal("survivor must stay valid")
	}
	if survivor.MergeCount != 1 {
		t.Errorf("survivor merge_count = %d, want 1", survivor.MergeCount)
	}

	loser, _ := s.GetMemory(ctx, dup.ID)
	if loser.InvalidatedAt == nil {
		t.Fatal("expected duplicate soft-invalidated")
	}
	if !strings.Contains(loser.InvalidationReason, first.Memory.ID) {
		t.Errorf("invalidation reason %q should point at survivor", loser.InvalidationReason)
	}
}

func TestRunPatternMaintenanceFlagsDormant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Remember(ctx, RememberParams{
		Content:  "Dev is prototyping the mobile app",
		Entities: []string{"Dev"},
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	asOf := time.Now()
	old := asOf.AddDate(0, 0, -100)
	backdateMemory(t, s, res.Memory.ID, old)
	if _, err := s.db.Exec(`UPDATE entities SET last_seen_at = ? WHERE name = 'Dev'`, fmtTime(old)); err != nil {
		t.Fatalf("backdate entity: %v", err)
	}

	sum, err := s.RunPatternMaintenance(ctx, asOf)
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	if sum.Flagged != 1 {
		t.Fatalf("flagged = %d, want 1", sum.Flagged)
	}

	e, _ := s.GetEntity(ctx, "Dev")
	if e.ContactVelocity != model.VelocityDormant {
		t.Errorf("velocity = %s, want dormant", e.ContactVelocity)
	}
	if e.AttentionTier != model.TierDormant {
		t.Errorf("tier = %s, want dormant", e.AttentionTier)
	}

	// The dormancy surfaced as a flagged, inferred pattern memory.
	about, _ := s.About(ctx, "Dev", 50, 1)
	var pattern *model.Memory
	for i := range about.Memories {
		if about.Memories[i].Type == model.MemoryPattern {
			pattern = &about.Memories[i]
		}
	}
	if pattern == nil {
		t.Fatal("expected a pattern memory for the dormant entity")
	}
	if pattern.OriginType != model.OriginInferred {
		t.Errorf("pattern origin = %s, want inferred", pattern.OriginType)
	}
	if pattern.VerificationStatus != model.VerificationFlagged {
		t.Errorf("pattern status = %s, want flagged", pattern.VerificationStatus)
	}
}

func TestPatternMaintenanceIgnoresRelateOnlyEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Entities known only through a relationship have no interaction
	// history to go quiet from.
	if _, err := s.Relate(ctx, RelateParams{From: "Ana", To: "Ben", Type: "works_with"}); err != nil {
		t.Fatalf("relate: %v", err)
	}

	sum, err := s.RunPatternMaintenance(ctx, time.Now())
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	if sum.Flagged != 0 {
		t.Fatalf("flagged = %d, want 0", sum.Flagged)
	}

	for _, name := range []string{"Ana", "Ben"} {
		e, err := s.GetEntity(ctx, name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if e.ContactVelocity != model.VelocityStable {
			t.Errorf("%s velocity = %s, want stable", name, e.ContactVelocity)
		}
	}
}

func TestPatternMaintenanceIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Remember(ctx, RememberParams{
		Content:  "Ana led the onboarding workshop",
		Entities: []string{"Ana"},
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	asOf := time.Now()
	old := asOf.AddDate(0, 0, -100)
	backdateMemory(t, s, res.Memory.ID, old)
	if _, err := s.db.Exec(`UPDATE entities SET last_seen_at = ? WHERE name = 'Ana'`, fmtTime(old)); err != nil {
		t.Fatalf("backdate entity: %v", err)
	}

	first, err := s.RunPatternMaintenance(ctx, asOf)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Flagged != 1 {
		t.Fatalf("first pass flagged = %d, want 1", first.Flagged)
	}

	// The flagged pattern memory is system-authored; a second pass must
	// not read it as fresh contact and flip the entity to accelerating.
	second, err := s.RunPatternMaintenance(ctx, asOf.Add(time.Minute))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Flagged != 0 {
		t.Errorf("second pass flagged = %d, want 0", second.Flagged)
	}

	e, _ := s.GetEntity(ctx, "Ana")
	if e.ContactVelocity != model.VelocityDormant {
		t.Errorf("velocity after second pass = %s, want dormant", e.ContactVelocity)
	}
}

func TestComputeVelocity(t *testing.T) {
	cases := []struct {
		recent, previous int
		hasHistory       bool
		want             model.ContactVelocity
	}{
		{0, 0, true, model.VelocityDormant},
		{0, 0, false, model.VelocityStable},
		{0, 5, true, model.VelocityDormant},
		{5, 0, true, model.VelocityAccelerating},
		{6, 3, true, model.VelocityAccelerating},
		{3, 6, true, model.VelocityDecelerating},
		{4, 5, true, model.VelocityStable},
	}
	for _, tc := range cases {
		if got := computeVelocity(tc.recent, tc.previous, tc.hasHistory, 2.0); got != tc.want {
			t.Errorf("computeVelocity(%d, %d, %t) = %s, want %s", tc.recent, tc.previous, tc.hasHistory, got, tc.want)
		}
	}
}

func TestComputeTier(t *testing.T) {
	now := time.Now()
	active := now.Add(-24 * time.Hour)
	watch := now.Add(-30 * 24 * time.Hour)
	gone := now.Add(-90 * 24 * time.Hour)

	if got := computeTier(&active, now, 14*24*time.Hour, 60*24*time.Hour); got != model.TierActive {
		t.Errorf("1 day idle = %s, want active", got)
	}
	if got := computeTier(&watch, now, 14*24*time.Hour, 60*24*time.Hour); got != model.TierWatch {
		t.Errorf("30 days idle = %s, want watch", got)
	}
	if got := computeTier(&gone, now, 14*24*time.Hour, 60*24*time.Hour); got != model.TierDormant {
		t.Errorf("90 days idle = %s, want dormant", got)
	}
	if got := computeTier(nil, now, 14*24*time.Hour, 60*24*time.Hour); got != model.TierDormant {
		t.Errorf("never seen = %s, want dormant", got)
	}
}

func TestPruneAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, _ := s.Remember(ctx, RememberParams{Content: "A recent memory to keep"})

	// Plant an expired audit entry well past retention.
	old := time.Now().Add(-s.cfg.Audit.Retention - 24*time.Hour)
	if _, err := s.db.Exec(`INSERT INTO audit_log (id, actor, operation, target_id, created_at)
		VALUES (?, 'user', 'remember', 'gone', ?)`, s.newID(), fmtTime(old)); err != nil {
		t.Fatalf("plant old entry: %v", err)
	}

	pruned, err := s.pruneAudit(ctx, time.Now())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	trail, _ := s.AuditTrail(ctx, res.Memory.ID)
	if len(trail) != 1 {
		t.Errorf("recent trail must survive pruning, got %d entries", len(trail))
	}
}

func TestRunFullRecordsRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Remember(ctx, RememberParams{Content: "Priya runs the platform team", Entities: []string{"Priya"}})

	if _, err := s.RunFull(ctx, time.Now()); err != nil {
		t.Fatalf("full: %v", err)
	}

	runs, err := s.LastRuns(ctx)
	if err != nil {
		t.Fatalf("last runs: %v", err)
	}
	for _, job := range []string{"dedup", "pattern"} {
		if _, ok := runs[job]; !ok {
			t.Errorf("missing run record for %s", job)
		}
	}
}
