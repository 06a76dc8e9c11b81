package store

import (
	"context"
	"os"
	"time"
)

// Status is the liveness/readiness snapshot for external monitoring.
type Status struct {
	DBPath          string               `json:"db_path"`
	DBSizeBytes     int64                `json:"db_size_bytes"`
	SchemaVersion   int                  `json:"schema_version"`
	Entities        int                  `json:"entities"`
	Memories        int                  `json:"memories"`
	ActiveMemories  int                  `json:"active_memories"`
	Relationships   int                  `json:"relationships"`
	ActiveRelations int                  `json:"active_relationships"`
	AuditEntries    int                  `json:"audit_entries"`
	Operations      map[string]int       `json:"operations"`
	LastRuns        map[string]time.Time `json:"last_consolidation,omitempty"`
	EmbedderEnabled bool                 `json:"embedder_enabled"`
	Degraded        bool                 `json:"degraded"`
}

// Status reports store health: record counts, operation counts from the
// audit log, last consolidation per job, and the embedder degraded flag.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		DBPath:          s.cfg.DBPath,
		Operations:      map[string]int{},
		EmbedderEnabled: s.embed.Enabled(),
		Degraded:        s.embed.Degraded(),
	}

	if info, err := os.Stat(s.cfg.DBPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = v

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL`).Scan(&st.Entities)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.Memories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE invalidated_at IS NULL`).Scan(&st.ActiveMemories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&st.Relationships)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships WHERE invalid_at IS NULL`).Scan(&st.ActiveRelations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&st.AuditEntries)

	rows, err := s.db.QueryContext(ctx, `SELECT operation, COUNT(*) FROM audit_log GROUP BY operation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		st.Operations[op] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs, err := s.LastRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		st.LastRuns = runs
	}

	return st, nil
}
