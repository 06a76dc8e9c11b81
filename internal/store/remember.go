package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/embedding"
	"github.com/kbanc85/claudia-sub002/internal/model"
)

const (
	minContentLen = 3
	maxContentLen = 10000
)

// RememberParams holds the input for one ingestion.
type RememberParams struct {
	Content    string
	Type       model.MemoryType
	Origin     model.OriginType
	Importance *float64 // nil = default
	Confidence *float64 // nil = default for the origin
	Entities   []string // names, ids, or "name:type" refs; unknown names auto-create
	Source     string   // free-form channel tag, e.g. conversation/meeting/import
}

// RememberResult reports what the write did, including the dedup outcome.
type RememberResult struct {
	Memory          *model.Memory `json:"memory"`
	Deduped         bool          `json:"deduped"`
	Similarity      float64       `json:"similarity,omitempty"`
	Contradicts     []string      `json:"contradicts,omitempty"`
	CreatedEntities []string      `json:"created_entities,omitempty"`
}

func defaultConfidence(origin model.OriginType) float64 {
	switch origin {
	case model.OriginUserStated, model.OriginCorrected:
		return 1.0
	case model.OriginExtracted:
		return 0.8
	default:
		return 0.6
	}
}

// Remember validates and writes a new memory: entity auto-creation, the
// near-duplicate merge-or-flag decision, contradiction flagging, entity
// co-mention strengthening, and one audit entry, all in one transaction.
func (s *Store) Remember(ctx context.Context, p RememberParams) (*RememberResult, error) {
	p.Content = strings.TrimSpace(p.Content)
	if len(p.Content) < minContentLen {
		return nil, fmt.Errorf("%w: content shorter than %d characters", ErrValidation, minContentLen)
	}
	if len(p.Content) > maxContentLen {
		return nil, fmt.Errorf("%w: content longer than %d characters", ErrValidation, maxContentLen)
	}
	if p.Type == "" {
		p.Type = model.MemoryFact
	}
	if !p.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrValidation, p.Type)
	}
	if p.Origin == "" {
		p.Origin = model.OriginUserStated
	}
	switch p.Origin {
	case model.OriginUserStated, model.OriginExtracted, model.OriginInferred:
	default:
		return nil, fmt.Errorf("%w: origin %q not allowed on ingestion", ErrValidation, p.Origin)
	}

	importance := s.cfg.Dedup.DefaultImportance
	if p.Importance != nil {
		importance = model.ClampScore(*p.Importance)
	}
	confidence := defaultConfidence(p.Origin)
	if p.Confidence != nil {
		confidence = model.ClampScore(*p.Confidence)
	}

	now := time.Now()

	var deadline *time.Time
	if p.Type == model.MemoryCommitment {
		deadline = extractDeadline(p.Content, now)
	}

	// The embedder call is the only slow dependency; it happens before the
	// write transaction and degrades to a nil vector on failure.
	vec, _ := s.embed.Embed(ctx, p.Content)
	hash := contentHash(p.Content)

	res := &RememberResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var entityIDs []string
		for _, ref := range p.Entities {
			if strings.TrimSpace(ref) == "" {
				continue
			}
			e, created, err := s.ensureEntityTx(tx, ref, now)
			if err != nil {
				return err
			}
			entityIDs = appendUnique(entityIDs, e.ID)
			if created {
				res.CreatedEntities = append(res.CreatedEntities, e.ID)
			}
		}

		cands, err := s.dedupCandidatesTx(tx, entityIDs)
		if err != nil {
			return err
		}

		for i := range cands {
			sim := similarity(vec, hash, &cands[i])
			if sim >= s.cfg.Dedup.Threshold {
				merged, err := s.mergeIntoTx(tx, &cands[i], importance, confidence, p.Source, sim, now)
				if err != nil {
					return err
				}
				res.Memory = merged
				res.Deduped = true
				res.Similarity = sim
				// A merge supersedes any contradiction hits from
				// earlier candidates; nothing new was written.
				res.Contradicts = nil
				return nil
			}
			if sim >= s.cfg.Dedup.ContradictionLow && hasNegation(p.Content) != hasNegation(cands[i].Content) {
				res.Contradicts = append(res.Contradicts, cands[i].ID)
			}
		}

		m := &model.Memory{
			ID:                 s.newID(),
			Content:            p.Content,
			Type:               p.Type,
			Importance:         importance,
			Confidence:         confidence,
			Embedding:          vec,
			ContentHash:        hash,
			EntityIDs:          entityIDs,
			OriginType:         p.Origin,
			SourceChannel:      p.Source,
			VerificationStatus: model.VerificationPending,
			DeadlineAt:         deadline,
			CreatedAt:          now,
		}
		if len(res.Contradicts) > 0 {
			m.VerificationStatus = model.VerificationContradicts
		}

		if err := s.insertMemoryTx(tx, m); err != nil {
			return err
		}

		for _, cid := range res.Contradicts {
			if _, err := tx.Exec(`UPDATE memories SET verification_status = ? WHERE id = ?`,
				model.VerificationContradicts, cid); err != nil {
				return err
			}
		}

		details := map[string]string{
			"type":   string(m.Type),
			"origin": string(m.OriginType),
		}
		if p.Source != "" {
			details["source"] = p.Source
		}
		if len(res.CreatedEntities) > 0 {
			details["created_entities"] = strings.Join(res.CreatedEntities, ",")
		}
		if len(res.Contradicts) > 0 {
			details["contradicts"] = strings.Join(res.Contradicts, ",")
		}
		if err := s.auditTx(tx, actorFor(p.Origin), model.OpRemember, m.ID, details, now); err != nil {
			return err
		}

		// Entities mentioned together grow a low-strength edge.
		for i := 0; i < len(entityIDs); i++ {
			for j := i + 1; j < len(entityIDs); j++ {
				if _, err := s.relateTx(tx, entityIDs[i], entityIDs[j], "mentioned_with", nil, false, now); err != nil {
					return err
				}
			}
		}

		res.Memory = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func actorFor(origin model.OriginType) model.Actor {
	if origin == model.OriginUserStated {
		return model.ActorUser
	}
	return model.ActorIngestion
}

func appendUnique(ids []string, id string) []string {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}

func (s *Store) insertMemoryTx(tx *sql.Tx, m *model.Memory) error {
	var deadline, lastAccessed, source *string
	if m.DeadlineAt != nil {
		d := fmtTime(*m.DeadlineAt)
		deadline = &d
	}
	if m.LastAccessedAt != nil {
		la := fmtTime(*m.LastAccessedAt)
		lastAccessed = &la
	}
	if m.SourceChannel != "" {
		source = &m.SourceChannel
	}

	_, err := tx.Exec(`INSERT INTO memories (id, content, type, importance, base_importance,
			confidence, embedding, content_hash, origin_type, source_channel,
			verification_status, deadline_at, created_at, last_accessed_at, access_count, merge_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID, m.Content, m.Type, m.Importance, m.Importance, m.Confidence,
		encodeVector(m.Embedding), m.ContentHash, m.OriginType, source,
		m.VerificationStatus, deadline, fmtTime(m.CreatedAt), lastAccessed)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	for _, eid := range m.EntityIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_entities (memory_id, entity_id) VALUES (?, ?)`,
			m.ID, eid); err != nil {
			return fmt.Errorf("link entity: %w", err)
		}
	}
	return nil
}

// dedupCandidatesTx returns the most recent non-invalidated memories sharing
// an entity with the new write. With no entities given, it falls back to the
// most recent memories overall.
func (s *Store) dedupCandidatesTx(tx *sql.Tx, entityIDs []string) ([]model.Memory, error) {
	window := s.cfg.Dedup.CandidateWindow
	if window <= 0 {
		window = 20
	}

	var rows *sql.Rows
	var err error
	if len(entityIDs) > 0 {
		placeholders := strings.Repeat("?,", len(entityIDs))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]interface{}, 0, len(entityIDs)+1)
		for _, id := range entityIDs {
			args = append(args, id)
		}
		args = append(args, window)
		rows, err = tx.Query(`
			SELECT DISTINCT `+prefixCols("m.", memoryCols)+`
			FROM memories m
			INNER JOIN memory_entities me ON me.memory_id = m.id
			WHERE me.entity_id IN (`+placeholders+`) AND m.invalidated_at IS NULL
			ORDER BY m.created_at DESC
			LIMIT ?`, args...)
	} else {
		rows, err = tx.Query(`
			SELECT `+memoryCols+`
			FROM memories WHERE invalidated_at IS NULL
			ORDER BY created_at DESC
			LIMIT ?`, window)
	}
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

// similarity compares a new write against an existing memory: cosine when
// both sides carry vectors, normalized-content hash equality otherwise.
func similarity(vec embedding.Vector, hash string, existing *model.Memory) float64 {
	if len(vec) > 0 && len(existing.Embedding) > 0 {
		return embedding.CosineSimilarity(vec, existing.Embedding)
	}
	if hash != "" && hash == existing.ContentHash {
		return 1.0
	}
	return 0
}

// mergeIntoTx absorbs a duplicate write into the existing memory instead of
// inserting a new row: importance merges per the configured strategy,
// confidence keeps the max, and the merge is audited.
func (s *Store) mergeIntoTx(tx *sql.Tx, existing *model.Memory, importance, confidence float64, source string, sim float64, now time.Time) (*model.Memory, error) {
	merged := existing.Importance
	if importance > merged {
		merged = importance
	}
	if s.cfg.Dedup.MergeStrategy != "keep_max" {
		merged = model.ClampScore(merged + s.cfg.Dedup.MergeBoost)
	}
	conf := existing.Confidence
	if confidence > conf {
		conf = confidence
	}

	_, err := tx.Exec(`UPDATE memories SET importance = ?, base_importance = ?, confidence = ?,
			merge_count = merge_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		merged, merged, conf, fmtTime(now), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("merge memory: %w", err)
	}

	details := map[string]string{
		"similarity": fmt.Sprintf("%.4f", sim),
		"importance": fmt.Sprintf("%.2f", merged),
	}
	if source != "" {
		details["source"] = source
	}
	if err := s.auditTx(tx, model.ActorIngestion, model.OpMerge, existing.ID, details, now); err != nil {
		return nil, err
	}

	out := *existing
	out.Importance = merged
	out.Confidence = conf
	out.MergeCount++
	la := now
	out.LastAccessedAt = &la
	return &out, nil
}

var negationMarkers = []string{
	" not ", "n't ", " never ", " no longer", " stopped ", " former ", " quit ",
}

func hasNegation(content string) bool {
	padded := " " + strings.ToLower(content) + " "
	for _, m := range negationMarkers {
		if strings.Contains(padded, m) {
			return true
		}
	}
	return false
}

// Correct replaces a memory's displayed content while preserving the prior
// value: origin becomes corrected, confidence resets to 1.0, and the old and
// new content land in the audit entry. One level of prior content is kept.
func (s *Store) Correct(ctx context.Context, memoryID, newContent string) (*model.Memory, error) {
	newContent = strings.TrimSpace(newContent)
	if len(newContent) < minContentLen {
		return nil, fmt.Errorf("%w: content shorter than %d characters", ErrValidation, minContentLen)
	}
	if len(newContent) > maxContentLen {
		return nil, fmt.Errorf("%w: content longer than %d characters", ErrValidation, maxContentLen)
	}

	now := time.Now()
	vec, _ := s.embed.Embed(ctx, newContent)

	var out *model.Memory
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := s.getMemoryTx(tx, memoryID)
		if err != nil {
			return err
		}

		prior := m.Content
		_, err = tx.Exec(`UPDATE memories SET content = ?, prior_content = ?, origin_type = ?,
				confidence = 1.0, verification_status = ?, embedding = ?, content_hash = ?
			WHERE id = ?`,
			newContent, prior, model.OriginCorrected, model.VerificationVerified,
			encodeVector(vec), contentHash(newContent), m.ID)
		if err != nil {
			return fmt.Errorf("correct memory: %w", err)
		}

		if err := s.auditTx(tx, model.ActorUser, model.OpCorrect, m.ID, map[string]string{
			"prior_content": prior,
			"new_content":   newContent,
		}, now); err != nil {
			return err
		}

		out = m
		out.Content = newContent
		out.PriorContent = prior
		out.OriginType = model.OriginCorrected
		out.Confidence = 1.0
		out.VerificationStatus = model.VerificationVerified
		out.Embedding = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate soft-deletes a memory: the row stays, stamped with a reason,
// and default queries exclude it from then on.
func (s *Store) Invalidate(ctx context.Context, memoryID, reason string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := s.getMemoryTx(tx, memoryID)
		if err != nil {
			return err
		}
		if m.InvalidatedAt != nil {
			return fmt.Errorf("%w: memory %s already invalidated", ErrValidation, memoryID)
		}

		if _, err := tx.Exec(`UPDATE memories SET invalidated_at = ?, invalidation_reason = ? WHERE id = ?`,
			fmtTime(now), reason, m.ID); err != nil {
			return fmt.Errorf("invalidate memory: %w", err)
		}

		return s.auditTx(tx, model.ActorUser, model.OpInvalidate, m.ID, map[string]string{
			"reason": reason,
		}, now)
	})
}
