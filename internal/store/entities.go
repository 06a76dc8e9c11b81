package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

const entityCols = `id, name, type, aliases, attributes, attention_tier, contact_velocity,
	created_at, updated_at, last_seen_at, deleted_at, delete_reason, merged_into`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scanner) (model.Entity, error) {
	var e model.Entity
	var aliases, attrs, lastSeen, deletedAt, deleteReason, mergedInto sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.Name, &e.Type, &aliases, &attrs, &e.AttentionTier,
		&e.ContactVelocity, &createdAt, &updatedAt, &lastSeen, &deletedAt,
		&deleteReason, &mergedInto)
	if err != nil {
		return e, err
	}

	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.LastSeenAt = parseTimePtr(lastSeen)
	e.DeletedAt = parseTimePtr(deletedAt)
	if deleteReason.Valid {
		e.DeleteReason = deleteReason.String
	}
	if mergedInto.Valid {
		e.MergedInto = mergedInto.String
	}
	if aliases.Valid {
		json.Unmarshal([]byte(aliases.String), &e.Aliases)
	}
	if attrs.Valid {
		json.Unmarshal([]byte(attrs.String), &e.Attributes)
	}
	return e, nil
}

// GetEntity fetches one entity by id, exact name, or alias.
func (s *Store) GetEntity(ctx context.Context, ref string) (*model.Entity, error) {
	var e model.Entity
	var err error
	row := s.db.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities
		WHERE deleted_at IS NULL AND (id = ? OR name = ? COLLATE NOCASE
			OR lower(COALESCE(aliases, '')) LIKE '%"' || lower(?) || '"%')
		LIMIT 1`, ref, ref, ref)
	if e, err = scanEntity(row); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity %q", ErrNotFound, ref)
		}
		return nil, err
	}
	return &e, nil
}

// resolveEntityTx finds a live entity by id, name, or alias within tx.
func (s *Store) resolveEntityTx(tx *sql.Tx, ref string) (*model.Entity, error) {
	row := tx.QueryRow(`SELECT `+entityCols+` FROM entities
		WHERE deleted_at IS NULL AND (id = ? OR name = ? COLLATE NOCASE
			OR lower(COALESCE(aliases, '')) LIKE '%"' || lower(?) || '"%')
		LIMIT 1`, ref, ref, ref)
	e, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity %q", ErrNotFound, ref)
		}
		return nil, err
	}
	return &e, nil
}

// ensureEntityTx resolves ref, auto-creating an entity on first mention.
// A "name:type" ref pins the entity type; otherwise new entities default to
// person. Resolution always bumps last_seen_at.
func (s *Store) ensureEntityTx(tx *sql.Tx, ref string, now time.Time) (*model.Entity, bool, error) {
	name, etype := splitEntityRef(ref)

	e, err := s.resolveEntityTx(tx, name)
	if err == nil {
		_, uerr := tx.Exec(`UPDATE entities SET last_seen_at = ?, updated_at = ? WHERE id = ?`,
			fmtTime(now), fmtTime(now), e.ID)
		if uerr != nil {
			return nil, false, uerr
		}
		ls := now
		e.LastSeenAt = &ls
		return e, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	created := &model.Entity{
		ID:              s.newID(),
		Name:            name,
		Type:            etype,
		AttentionTier:   model.TierActive,
		ContactVelocity: model.VelocityStable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ls := now
	created.LastSeenAt = &ls

	_, err = tx.Exec(`INSERT INTO entities (id, name, type, attention_tier, contact_velocity,
			created_at, updated_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.Name, created.Type, created.AttentionTier,
		created.ContactVelocity, fmtTime(now), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("insert entity: %w", err)
	}
	return created, true, nil
}

// splitEntityRef parses "Acme Corp:organization" style refs. A trailing
// segment that is not a valid entity type stays part of the name.
func splitEntityRef(ref string) (string, model.EntityType) {
	if i := strings.LastIndex(ref, ":"); i > 0 {
		if t := model.EntityType(strings.TrimSpace(ref[i+1:])); t.IsValid() {
			return strings.TrimSpace(ref[:i]), t
		}
	}
	return strings.TrimSpace(ref), model.EntityPerson
}

// SearchEntities finds live entities whose name or aliases contain the query.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityCols+` FROM entities
		WHERE deleted_at IS NULL AND (lower(name) LIKE ? OR lower(COALESCE(aliases, '')) LIKE ?)
		ORDER BY last_seen_at DESC
		LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MergeSummary reports what an entity merge moved.
type MergeSummary struct {
	WinnerID           string `json:"winner_id"`
	LoserID            string `json:"loser_id"`
	MemoriesMoved      int    `json:"memories_moved"`
	RelationshipsMoved int    `json:"relationships_moved"`
	AliasesAdded       int    `json:"aliases_added"`
}

// MergeEntities folds loser onto winner: memories and relationships are
// re-parented, the loser's name and aliases become winner aliases, and the
// loser is soft-deleted with a merge marker. Nothing is dropped.
func (s *Store) MergeEntities(ctx context.Context, winnerRef, loserRef string) (*MergeSummary, error) {
	now := time.Now()
	var sum *MergeSummary

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		winner, err := s.resolveEntityTx(tx, winnerRef)
		if err != nil {
			return fmt.Errorf("resolve winner: %w", err)
		}
		loser, err := s.resolveEntityTx(tx, loserRef)
		if err != nil {
			return fmt.Errorf("resolve loser: %w", err)
		}
		if winner.ID == loser.ID {
			return fmt.Errorf("%w: cannot merge an entity into itself", ErrValidation)
		}

		sum = &MergeSummary{WinnerID: winner.ID, LoserID: loser.ID}

		// Re-parent memory links. Links the winner already holds collapse
		// into the existing row.
		res, err := tx.Exec(`UPDATE OR IGNORE memory_entities SET entity_id = ? WHERE entity_id = ?`,
			winner.ID, loser.ID)
		if err != nil {
			return fmt.Errorf("reparent memories: %w", err)
		}
		moved, _ := res.RowsAffected()
		sum.MemoriesMoved = int(moved)
		if _, err := tx.Exec(`DELETE FROM memory_entities WHERE entity_id = ?`, loser.ID); err != nil {
			return err
		}

		// Re-parent relationship endpoints; edges that become self-loops are
		// ended rather than removed.
		res, err = tx.Exec(`UPDATE relationships SET from_entity = ?, updated_at = ? WHERE from_entity = ?`,
			winner.ID, fmtTime(now), loser.ID)
		if err != nil {
			return fmt.Errorf("reparent relationships: %w", err)
		}
		fromMoved, _ := res.RowsAffected()
		res, err = tx.Exec(`UPDATE relationships SET to_entity = ?, updated_at = ? WHERE to_entity = ?`,
			winner.ID, fmtTime(now), loser.ID)
		if err != nil {
			return fmt.Errorf("reparent relationships: %w", err)
		}
		toMoved, _ := res.RowsAffected()
		sum.RelationshipsMoved = int(fromMoved + toMoved)

		if _, err := tx.Exec(`UPDATE relationships SET invalid_at = ?, updated_at = ?
			WHERE from_entity = to_entity AND invalid_at IS NULL`, fmtTime(now), fmtTime(now)); err != nil {
			return err
		}

		// Fold the loser's name and aliases into the winner's alias set.
		aliases := winner.Aliases
		before := len(aliases)
		aliases = appendAlias(aliases, loser.Name, winner.Name)
		for _, a := range loser.Aliases {
			aliases = appendAlias(aliases, a, winner.Name)
		}
		sum.AliasesAdded = len(aliases) - before

		aliasJSON, _ := json.Marshal(aliases)
		if _, err := tx.Exec(`UPDATE entities SET aliases = ?, updated_at = ? WHERE id = ?`,
			string(aliasJSON), fmtTime(now), winner.ID); err != nil {
			return err
		}

		if _, err := tx.Exec(`UPDATE entities SET deleted_at = ?, delete_reason = ?, merged_into = ?, updated_at = ?
			WHERE id = ?`,
			fmtTime(now), "merged into "+winner.Name, winner.ID, fmtTime(now), loser.ID); err != nil {
			return err
		}

		return s.auditTx(tx, model.ActorUser, model.OpEntityMerge, winner.ID, map[string]string{
			"loser_id":            loser.ID,
			"loser_name":          loser.Name,
			"memories_moved":      fmt.Sprint(sum.MemoriesMoved),
			"relationships_moved": fmt.Sprint(sum.RelationshipsMoved),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func appendAlias(aliases []string, candidate, winnerName string) []string {
	if strings.EqualFold(candidate, winnerName) {
		return aliases
	}
	for _, a := range aliases {
		if strings.EqualFold(a, candidate) {
			return aliases
		}
	}
	return append(aliases, candidate)
}
