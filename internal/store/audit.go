package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

// auditTx appends one audit entry inside the caller's transaction. Mutation
// and audit entry commit or roll back together.
func (s *Store) auditTx(tx *sql.Tx, actor model.Actor, op model.Operation, targetID string, details map[string]string, now time.Time) error {
	var detailsJSON *string
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		str := string(b)
		detailsJSON = &str
	}

	_, err := tx.Exec(`INSERT INTO audit_log (id, actor, operation, target_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.newID(), actor, op, targetID, detailsJSON, fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns the audit entries for one record, oldest first.
func (s *Store) AuditTrail(ctx context.Context, targetID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, operation, target_id, details, created_at
		 FROM audit_log WHERE target_id = ? ORDER BY created_at ASC`, targetID)
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

// Provenance is the origin chain of a memory: where it came from, how sure
// we are, and (for corrected memories) the immediately prior content. Only
// one level of prior content is kept; older versions live in the audit trail
// until retention prunes them.
type Provenance struct {
	MemoryID      string             `json:"memory_id"`
	OriginType    model.OriginType   `json:"origin_type"`
	SourceChannel string             `json:"source_channel,omitempty"`
	Confidence    float64            `json:"confidence"`
	Corrected     bool               `json:"corrected"`
	PriorContent  string             `json:"prior_content,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	Trail         []model.AuditEntry `json:"trail"`
}

// Provenance returns the origin chain for a memory.
func (s *Store) Provenance(ctx context.Context, memoryID string) (*Provenance, error) {
	m, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	trail, err := s.AuditTrail(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return &Provenance{
		MemoryID:      m.ID,
		OriginType:    m.OriginType,
		SourceChannel: m.SourceChannel,
		Confidence:    m.Confidence,
		Corrected:     m.OriginType == model.OriginCorrected,
		PriorContent:  m.PriorContent,
		CreatedAt:     m.CreatedAt,
		Trail:         trail,
	}, nil
}

// pruneAudit drops audit entries older than the retention window. The
// consolidation_runs summaries are kept, so run history survives pruning.
func (s *Store) pruneAudit(ctx context.Context, asOf time.Time) (int, error) {
	if s.cfg.Audit.Retention <= 0 {
		return 0, nil
	}
	cutoff := asOf.Add(-s.cfg.Audit.Retention)

	var pruned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM audit_log WHERE created_at < ?`, fmtTime(cutoff))
		if err != nil {
			return err
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(pruned), nil
}
