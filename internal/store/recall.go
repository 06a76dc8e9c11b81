package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/embedding"
	"github.com/kbanc85/claudia-sub002/internal/model"
)

// RecallParams holds an open free-text query.
type RecallParams struct {
	Query         string
	Limit         int
	Type          model.MemoryType // optional filter
	Entity        string           // optional: restrict to one entity's memories
	MinImportance float64
}

// RecallResult is one ranked hit.
type RecallResult struct {
	Memory   model.Memory `json:"memory"`
	Score    float64      `json:"score"`
	Entities []string     `json:"entities,omitempty"`
}

// Recall answers an open query with a weighted blend of vector similarity,
// importance, recency, and keyword match, each normalized to [0,1]. With no
// embedding available for a pair, the vector weight is redistributed
// proportionally across the other three signals so keyword-only rankings
// stay meaningful. Ties break toward more recent creation.
func (s *Store) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = s.cfg.Recall.DefaultLimit
	}

	now := time.Now()
	qvec, _ := s.embed.Embed(ctx, p.Query)
	qTokens := tokenize(p.Query)

	kwScores, ftsOK := s.keywordScores(ctx, qTokens)

	candidates, err := s.recallCandidates(ctx, p)
	if err != nil {
		return nil, err
	}

	w := s.cfg.Recall
	type scored struct {
		m     model.Memory
		score float64
	}
	var ranked []scored

	for _, m := range candidates {
		var vec float64
		vecAvail := len(qvec) > 0 && len(m.Embedding) > 0
		if vecAvail {
			vec = embedding.CosineSimilarity(qvec, m.Embedding)
			if vec < 0 {
				vec = 0
			}
		}

		var kw float64
		if ftsOK {
			kw = kwScores[m.ID]
		} else {
			kw = termOverlap(qTokens, m.Content)
		}

		ref := m.CreatedAt
		if m.LastAccessedAt != nil && m.LastAccessedAt.After(ref) {
			ref = *m.LastAccessedAt
		}
		recency := halfLifeScore(now.Sub(ref), w.RecencyHalfLife)

		var score float64
		if vecAvail {
			score = vec*w.WeightVector + m.Importance*w.WeightImportance +
				recency*w.WeightRecency + kw*w.WeightKeyword
		} else {
			rest := w.WeightImportance + w.WeightRecency + w.WeightKeyword
			score = (m.Importance*w.WeightImportance + recency*w.WeightRecency + kw*w.WeightKeyword) / rest
		}

		ranked = append(ranked, scored{m: m, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].m.CreatedAt.After(ranked[j].m.CreatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	var results []RecallResult
	var touched []string
	for _, r := range ranked {
		names, err := s.entityNamesFor(ctx, r.m.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, RecallResult{
			Memory:   r.m,
			Score:    math.Round(r.score*10000) / 10000,
			Entities: names,
		})
		touched = append(touched, r.m.ID)
	}

	s.touchMemories(ctx, touched, now)
	return results, nil
}

func halfLifeScore(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
}

func (s *Store) recallCandidates(ctx context.Context, p RecallParams) ([]model.Memory, error) {
	scanLimit := s.cfg.Recall.ScanLimit
	if scanLimit <= 0 {
		scanLimit = 5000
	}

	where := []string{"m.invalidated_at IS NULL"}
	var args []interface{}

	if p.Type != "" {
		where = append(where, "m.type = ?")
		args = append(args, p.Type)
	}
	if p.MinImportance > 0 {
		where = append(where, "m.importance >= ?")
		args = append(args, p.MinImportance)
	}

	query := `SELECT ` + prefixCols("m.", memoryCols) + ` FROM memories m`
	if p.Entity != "" {
		e, err := s.GetEntity(ctx, p.Entity)
		if err != nil {
			return nil, err
		}
		query += ` INNER JOIN memory_entities me ON me.memory_id = m.id`
		where = append(where, "me.entity_id = ?")
		args = append(args, e.ID)
	}
	query += ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, scanLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// keywordScores runs the query against the FTS index and normalizes bm25
// ranks into [0,1] across the matched set. A query FTS cannot serve (or an
// FTS failure) returns ok=false and ranking falls back to term overlap; one
// unavailable signal degrades rather than failing the whole query.
func (s *Store) keywordScores(ctx context.Context, tokens []string) (map[string]float64, bool) {
	if len(tokens) == 0 {
		return nil, false
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	match := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts
		INNER JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.invalidated_at IS NULL`, match)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	raw := map[string]float64{}
	best := 0.0
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, false
		}
		// bm25 is smaller-is-better and negative for matches.
		score := -rank
		if score < 0 {
			score = 0
		}
		raw[id] = score
		if score > best {
			best = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}

	if best > 0 {
		for id, score := range raw {
			raw[id] = score / best
		}
	} else {
		for id := range raw {
			raw[id] = 1.0
		}
	}
	return raw, true
}

func (s *Store) entityNamesFor(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.name FROM entities e
		INNER JOIN memory_entities me ON me.entity_id = e.id
		WHERE me.memory_id = ?
		ORDER BY e.name`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AboutResult bundles everything known about one entity.
type AboutResult struct {
	Entity        model.Entity         `json:"entity"`
	Memories      []model.Memory       `json:"memories"`
	Relationships []model.Relationship `json:"relationships"`
	Connected     []model.Entity       `json:"connected,omitempty"`
}

// About answers "what do I know about X": the entity, its non-invalidated
// memories (importance first, then recency), its active relationships, and
// the entities reachable within hops over the active relationship graph.
func (s *Store) About(ctx context.Context, ref string, limit, hops int) (*AboutResult, error) {
	e, err := s.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if hops <= 0 {
		hops = 1
	}
	if hops > s.cfg.Recall.MaxHops {
		hops = s.cfg.Recall.MaxHops
	}

	memories, err := s.memoriesForEntity(ctx, e.ID, limit)
	if err != nil {
		return nil, err
	}
	rels, err := s.RelationshipsFor(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	connected, err := s.ConnectedEntities(ctx, e.ID, hops)
	if err != nil {
		return nil, err
	}

	var touched []string
	for _, m := range memories {
		touched = append(touched, m.ID)
	}
	s.touchMemories(ctx, touched, time.Now())

	return &AboutResult{
		Entity:        *e,
		Memories:      memories,
		Relationships: rels,
		Connected:     connected,
	}, nil
}
