package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

const relationshipCols = `id, from_entity, to_entity, type, directed, strength,
	valid_at, invalid_at, created_at, updated_at`

// strengthIncrement is added on each re-relate, monotonic and capped at 1.0.
const strengthIncrement = 0.1

// defaultStrength is the starting strength for a fresh relationship.
const defaultStrength = 0.3

func scanRelationship(row scanner) (model.Relationship, error) {
	var r model.Relationship
	var invalidAt sql.NullString
	var validAt, createdAt, updatedAt string
	var directed int

	err := row.Scan(&r.ID, &r.FromEntity, &r.ToEntity, &r.Type, &directed,
		&r.Strength, &validAt, &invalidAt, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.Directed = directed != 0
	r.ValidAt = parseTime(validAt)
	r.InvalidAt = parseTimePtr(invalidAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// RelateParams holds the input for one relate call.
type RelateParams struct {
	From     string // entity name, id, or "name:type" ref
	To       string
	Type     string // e.g. works_with, manages, client_of
	Strength *float64
	Directed bool
}

// Relate creates or strengthens a relationship between two entities,
// auto-creating unknown entities. Re-relating an ended relationship starts a
// fresh validity window on the same row.
func (s *Store) Relate(ctx context.Context, p RelateParams) (*model.Relationship, error) {
	p.Type = strings.TrimSpace(p.Type)
	if p.Type == "" {
		return nil, fmt.Errorf("%w: relationship type is required", ErrValidation)
	}

	now := time.Now()
	var out *model.Relationship
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		from, _, err := s.ensureEntityTx(tx, p.From, now)
		if err != nil {
			return fmt.Errorf("resolve from: %w", err)
		}
		to, _, err := s.ensureEntityTx(tx, p.To, now)
		if err != nil {
			return fmt.Errorf("resolve to: %w", err)
		}
		if from.ID == to.ID {
			return fmt.Errorf("%w: cannot relate an entity to itself", ErrValidation)
		}

		out, err = s.relateTx(tx, from.ID, to.ID, p.Type, p.Strength, p.Directed, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// relateTx is the in-transaction relate: create if absent, otherwise bump
// strength monotonically (capped at 1.0) and refresh valid_at if the edge
// was previously ended. Writes one relate audit entry either way.
func (s *Store) relateTx(tx *sql.Tx, fromID, toID, relType string, strength *float64, directed bool, now time.Time) (*model.Relationship, error) {
	// Undirected edges match either endpoint order.
	row := tx.QueryRow(`SELECT `+relationshipCols+` FROM relationships
		WHERE type = ? AND (
			(from_entity = ? AND to_entity = ?) OR
			(directed = 0 AND from_entity = ? AND to_entity = ?)
		)
		ORDER BY updated_at DESC LIMIT 1`,
		relType, fromID, toID, toID, fromID)

	existing, err := scanRelationship(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if err == nil {
		newStrength := existing.Strength + strengthIncrement
		if strength != nil && model.ClampScore(*strength) > newStrength {
			newStrength = model.ClampScore(*strength)
		}
		if newStrength > 1.0 {
			newStrength = 1.0
		}
		if newStrength < existing.Strength {
			newStrength = existing.Strength // strength never decreases through relate
		}

		revived := existing.InvalidAt != nil
		if revived {
			_, err = tx.Exec(`UPDATE relationships SET strength = ?, valid_at = ?, invalid_at = NULL, updated_at = ?
				WHERE id = ?`, newStrength, fmtTime(now), fmtTime(now), existing.ID)
			existing.ValidAt = now
			existing.InvalidAt = nil
		} else {
			_, err = tx.Exec(`UPDATE relationships SET strength = ?, updated_at = ? WHERE id = ?`,
				newStrength, fmtTime(now), existing.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("strengthen relationship: %w", err)
		}
		existing.Strength = newStrength
		existing.UpdatedAt = now

		details := map[string]string{
			"type":     relType,
			"strength": fmt.Sprintf("%.2f", newStrength),
		}
		if revived {
			details["revived"] = "true"
		}
		if err := s.auditTx(tx, model.ActorUser, model.OpRelate, existing.ID, details, now); err != nil {
			return nil, err
		}
		return &existing, nil
	}

	r := &model.Relationship{
		ID:         s.newID(),
		FromEntity: fromID,
		ToEntity:   toID,
		Type:       relType,
		Directed:   directed,
		Strength:   defaultStrength,
		ValidAt:    now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if strength != nil {
		r.Strength = model.ClampScore(*strength)
	}

	dirInt := 0
	if directed {
		dirInt = 1
	}
	_, err = tx.Exec(`INSERT INTO relationships (id, from_entity, to_entity, type, directed,
			strength, valid_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FromEntity, r.ToEntity, r.Type, dirInt, r.Strength,
		fmtTime(now), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert relationship: %w", err)
	}

	if err := s.auditTx(tx, model.ActorUser, model.OpRelate, r.ID, map[string]string{
		"type":     relType,
		"from":     fromID,
		"to":       toID,
		"strength": fmt.Sprintf("%.2f", r.Strength),
	}, now); err != nil {
		return nil, err
	}
	return r, nil
}

// EndRelationship marks a relationship no longer true as of now. The row is
// kept; invalid_at closes the validity window.
func (s *Store) EndRelationship(ctx context.Context, fromRef, toRef, relType string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := s.resolveEntityTx(tx, fromRef)
		if err != nil {
			return fmt.Errorf("resolve from: %w", err)
		}
		to, err := s.resolveEntityTx(tx, toRef)
		if err != nil {
			return fmt.Errorf("resolve to: %w", err)
		}

		row := tx.QueryRow(`SELECT `+relationshipCols+` FROM relationships
			WHERE type = ? AND invalid_at IS NULL AND (
				(from_entity = ? AND to_entity = ?) OR
				(directed = 0 AND from_entity = ? AND to_entity = ?)
			) LIMIT 1`,
			relType, from.ID, to.ID, to.ID, from.ID)
		r, err := scanRelationship(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: no active %s relationship between %s and %s",
					ErrNotFound, relType, from.Name, to.Name)
			}
			return err
		}

		if _, err := tx.Exec(`UPDATE relationships SET invalid_at = ?, updated_at = ? WHERE id = ?`,
			fmtTime(now), fmtTime(now), r.ID); err != nil {
			return err
		}

		return s.auditTx(tx, model.ActorUser, model.OpRelate, r.ID, map[string]string{
			"type":  relType,
			"ended": "true",
		}, now)
	})
}

// RelationshipsFor returns an entity's currently-active relationships.
func (s *Store) RelationshipsFor(ctx context.Context, entityID string) ([]model.Relationship, error) {
	return s.relationshipsAsOf(ctx, entityID, time.Now())
}

// RelationshipsAsOf answers the bi-temporal query: relationships valid at
// time t, i.e. valid_at <= t and (invalid_at is null or invalid_at > t).
func (s *Store) RelationshipsAsOf(ctx context.Context, entityRef string, t time.Time) ([]model.Relationship, error) {
	e, err := s.GetEntity(ctx, entityRef)
	if err != nil {
		return nil, err
	}
	return s.relationshipsAsOf(ctx, e.ID, t)
}

func (s *Store) relationshipsAsOf(ctx context.Context, entityID string, t time.Time) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipCols+` FROM relationships
		WHERE (from_entity = ? OR to_entity = ?)
		  AND valid_at <= ?
		  AND (invalid_at IS NULL OR invalid_at > ?)
		ORDER BY strength DESC`,
		entityID, entityID, fmtTime(t), fmtTime(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
