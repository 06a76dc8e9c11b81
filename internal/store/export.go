package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

// Dump is a portable snapshot of the whole store, including soft-deleted
// and invalidated records, so a restored store preserves full history.
type Dump struct {
	SchemaVersion int                  `json:"schema_version"`
	ExportedAt    time.Time            `json:"exported_at"`
	Entities      []model.Entity       `json:"entities"`
	Memories      []dumpMemory         `json:"memories"`
	Links         []dumpLink           `json:"links"`
	Relationships []model.Relationship `json:"relationships"`
	Audit         []model.AuditEntry   `json:"audit"`
}

type dumpMemory struct {
	model.Memory
	EmbeddingB64 []byte `json:"embedding,omitempty"` // raw blob, base64 in JSON
}

type dumpLink struct {
	MemoryID string `json:"memory_id"`
	EntityID string `json:"entity_id"`
}

// Export snapshots every table.
func (s *Store) Export(ctx context.Context) (*Dump, error) {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	d := &Dump{SchemaVersion: version, ExportedAt: time.Now()}

	rows, err := s.db.QueryContext(ctx, `SELECT `+entityCols+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d.Entities = append(d.Entities, e)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT `+memoryCols+` FROM memories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d.Memories = append(d.Memories, dumpMemory{Memory: m, EmbeddingB64: encodeVector(m.Embedding)})
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT memory_id, entity_id FROM memory_entities`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var l dumpLink
		if err := rows.Scan(&l.MemoryID, &l.EntityID); err != nil {
			rows.Close()
			return nil, err
		}
		d.Links = append(d.Links, l)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT `+relationshipCols+` FROM relationships ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d.Relationships = append(d.Relationships, r)
	}
	rows.Close()

	audit, err := s.auditAll(ctx)
	if err != nil {
		return nil, err
	}
	d.Audit = audit

	return d, nil
}

func (s *Store) auditAll(ctx context.Context) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, operation, target_id, details, created_at FROM audit_log ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Operation, &e.TargetID, &details, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		if details.Valid {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Import loads a dump into this store. Records that already exist by id are
// skipped, so importing the same dump twice is harmless.
func (s *Store) Import(ctx context.Context, d *Dump) (int, error) {
	imported := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range d.Entities {
			var aliases, attrs *string
			if len(e.Aliases) > 0 {
				b, _ := json.Marshal(e.Aliases)
				str := string(b)
				aliases = &str
			}
			if len(e.Attributes) > 0 {
				b, _ := json.Marshal(e.Attributes)
				str := string(b)
				attrs = &str
			}
			res, err := tx.Exec(`INSERT OR IGNORE INTO entities
				(id, name, type, aliases, attributes, attention_tier, contact_velocity,
				 created_at, updated_at, last_seen_at, deleted_at, delete_reason, merged_into)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.Name, e.Type, aliases, attrs, e.AttentionTier, e.ContactVelocity,
				fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt), timePtrStr(e.LastSeenAt),
				timePtrStr(e.DeletedAt), nullStr(e.DeleteReason), nullStr(e.MergedInto))
			if err != nil {
				return fmt.Errorf("import entity %s: %w", e.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported++
			}
		}

		for _, m := range d.Memories {
			res, err := tx.Exec(`INSERT OR IGNORE INTO memories
				(id, content, type, importance, base_importance, confidence, embedding,
				 content_hash, origin_type, source_channel, verification_status, prior_content,
				 deadline_at, created_at, last_accessed_at, access_count, merge_count,
				 invalidated_at, invalidation_reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, m.Content, m.Type, m.Importance, m.Importance, m.Confidence,
				m.EmbeddingB64, nullStr(m.ContentHash), m.OriginType, nullStr(m.SourceChannel),
				m.VerificationStatus, nullStr(m.PriorContent), timePtrStr(m.DeadlineAt),
				fmtTime(m.CreatedAt), timePtrStr(m.LastAccessedAt), m.AccessCount, m.MergeCount,
				timePtrStr(m.InvalidatedAt), nullStr(m.InvalidationReason))
			if err != nil {
				return fmt.Errorf("import memory %s: %w", m.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported++
			}
		}

		for _, l := range d.Links {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_entities (memory_id, entity_id) VALUES (?, ?)`,
				l.MemoryID, l.EntityID); err != nil {
				return fmt.Errorf("import link: %w", err)
			}
		}

		for _, r := range d.Relationships {
			dirInt := 0
			if r.Directed {
				dirInt = 1
			}
			res, err := tx.Exec(`INSERT OR IGNORE INTO relationships
				(id, from_entity, to_entity, type, directed, strength, valid_at, invalid_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.FromEntity, r.ToEntity, r.Type, dirInt, r.Strength,
				fmtTime(r.ValidAt), timePtrStr(r.InvalidAt), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
			if err != nil {
				return fmt.Errorf("import relationship %s: %w", r.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported++
			}
		}

		for _, a := range d.Audit {
			var details *string
			if len(a.Details) > 0 {
				b, _ := json.Marshal(a.Details)
				str := string(b)
				details = &str
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO audit_log
				(id, actor, operation, target_id, details, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				a.ID, a.Actor, a.Operation, a.TargetID, details, fmtTime(a.CreatedAt)); err != nil {
				return fmt.Errorf("import audit entry %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

func timePtrStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
