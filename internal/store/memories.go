package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

const memoryCols = `id, content, type, importance, confidence, embedding, content_hash,
	origin_type, source_channel, verification_status, prior_content, deadline_at,
	created_at, last_accessed_at, access_count, merge_count, invalidated_at, invalidation_reason`

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var embedding []byte
	var hash, source, prior, deadline, lastAccessed, invalidatedAt, invalidReason sql.NullString
	var createdAt string

	err := row.Scan(&m.ID, &m.Content, &m.Type, &m.Importance, &m.Confidence,
		&embedding, &hash, &m.OriginType, &source, &m.VerificationStatus,
		&prior, &deadline, &createdAt, &lastAccessed, &m.AccessCount,
		&m.MergeCount, &invalidatedAt, &invalidReason)
	if err != nil {
		return m, err
	}

	m.Embedding = decodeVector(embedding)
	m.CreatedAt = parseTime(createdAt)
	m.LastAccessedAt = parseTimePtr(lastAccessed)
	m.DeadlineAt = parseTimePtr(deadline)
	m.InvalidatedAt = parseTimePtr(invalidatedAt)
	if hash.Valid {
		m.ContentHash = hash.String
	}
	if source.Valid {
		m.SourceChannel = source.String
	}
	if prior.Valid {
		m.PriorContent = prior.String
	}
	if invalidReason.Valid {
		m.InvalidationReason = invalidReason.String
	}
	return m, nil
}

// GetMemory fetches one memory by id, invalidated or not, with its entity links.
func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryCols+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entity_id FROM memory_entities WHERE memory_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eid string
		if err := rows.Scan(&eid); err != nil {
			return nil, err
		}
		m.EntityIDs = append(m.EntityIDs, eid)
	}
	return &m, rows.Err()
}

func (s *Store) getMemoryTx(tx *sql.Tx, id string) (*model.Memory, error) {
	row := tx.QueryRow(`SELECT `+memoryCols+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &m, nil
}

// touchMemories records a rehearsal: recalled memories bump their access
// count and refresh last_accessed_at, which both resists decay and feeds the
// recency signal. Best-effort, outside the query path's result assembly.
func (s *Store) touchMemories(ctx context.Context, ids []string, now time.Time) {
	if len(ids) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, id := range ids {
		s.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			fmtTime(now), id)
	}
}

// memoriesForEntity returns non-invalidated memories linked to an entity,
// most important first, newest breaking ties.
func (s *Store) memoriesForEntity(ctx context.Context, entityID string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixCols("m.", memoryCols)+`
		FROM memories m
		INNER JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ? AND m.invalidated_at IS NULL
		ORDER BY m.importance DESC, m.created_at DESC
		LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
