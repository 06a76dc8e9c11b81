package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kbanc85/claudia-sub002/internal/config"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	res, err := src.Remember(ctx, RememberParams{
		Content:  "Sarah Chen is the CTO at Meridian Labs",
		Entities: []string{"Sarah Chen", "Meridian Labs:organization"},
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if _, err := src.Relate(ctx, RelateParams{From: "Sarah Chen", To: "David Park", Type: "works_with"}); err != nil {
		t.Fatalf("relate: %v", err)
	}
	gone, _ := src.Remember(ctx, RememberParams{Content: "A fact that gets retracted later"})
	if err := src.Invalidate(ctx, gone.Memory.ID, "retracted"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	dump, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(dump.Entities) != 3 {
		t.Errorf("exported %d entities, want 3", len(dump.Entities))
	}
	if len(dump.Memories) != 2 {
		t.Errorf("exported %d memories, want 2", len(dump.Memories))
	}
	if len(dump.Audit) == 0 {
		t.Error("expected audit entries in the dump")
	}

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "restored.db")
	dst, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}
	defer dst.Close()

	n, err := dst.Import(ctx, dump)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n == 0 {
		t.Fatal("expected imported rows")
	}

	// History came across: the invalidated memory, its reason, the trail.
	restored, err := dst.GetMemory(ctx, gone.Memory.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if restored.InvalidatedAt == nil || restored.InvalidationReason != "retracted" {
		t.Errorf("invalidation state lost: %+v", restored)
	}
	trail, _ := dst.AuditTrail(ctx, res.Memory.ID)
	if len(trail) == 0 {
		t.Error("audit trail lost on import")
	}
	about, err := dst.About(ctx, "Sarah Chen", 50, 1)
	if err != nil {
		t.Fatalf("about restored: %v", err)
	}
	if len(about.Memories) != 1 {
		t.Errorf("restored entity has %d memories, want 1", len(about.Memories))
	}
	if len(about.Relationships) != 2 {
		t.Errorf("restored entity has %d relationships, want 2", len(about.Relationships))
	}

	// Importing the same dump again changes nothing.
	again, err := dst.Import(ctx, dump)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again != 0 {
		t.Errorf("re-import added %d rows, want 0", again)
	}
}
