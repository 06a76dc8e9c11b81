package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kbanc85/claudia-sub002/internal/model"
)

// Consolidation jobs are idempotent and interruptible: each commits in
// bounded batches, checks ctx between batches, and records a summary row in
// consolidation_runs plus one summary audit entry. A crash mid-job leaves
// every completed batch durable and the next run picks up the rest.

// JobSummary reports one consolidation run.
type JobSummary struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Touched    int       `json:"touched"`
	Merged     int       `json:"merged"`
	Flagged    int       `json:"flagged"`
}

func (s *Store) recordRun(ctx context.Context, sum *JobSummary) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO consolidation_runs (id, job, started_at, finished_at, touched, merged, flagged)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, sum.Job, fmtTime(sum.StartedAt), fmtTime(sum.FinishedAt),
			sum.Touched, sum.Merged, sum.Flagged)
		if err != nil {
			return err
		}
		return s.auditTx(tx, model.ActorConsolidation, opForJob(sum.Job), sum.RunID, map[string]string{
			"touched": fmt.Sprint(sum.Touched),
			"merged":  fmt.Sprint(sum.Merged),
			"flagged": fmt.Sprint(sum.Flagged),
		}, sum.FinishedAt)
	})
}

func opForJob(job string) model.Operation {
	switch job {
	case "decay":
		return model.OpDecay
	case "dedup":
		return model.OpDedupSweep
	default:
		return model.OpPattern
	}
}

func (s *Store) batchSize() int {
	if s.cfg.Consolidate.BatchSize > 0 {
		return s.cfg.Consolidate.BatchSize
	}
	return 200
}

// RunDecay reduces the importance of memories idle past the configured
// window: importance = max(floor, base * 2^(-idle/halfLife)), where idle is
// time since last access (or creation). Corrected memories and high-confidence
// user-stated memories are exempt. The curve is computed in Go; the pure-Go
// sqlite driver has no pow().
func (s *Store) RunDecay(ctx context.Context, asOf time.Time) (*JobSummary, error) {
	sum := &JobSummary{RunID: uuid.NewString(), Job: "decay", StartedAt: asOf}
	halfLife := s.cfg.Decay.HalfLife
	floor := s.cfg.Decay.Floor

	type row struct {
		id         string
		importance float64
		base       float64
		idle       time.Duration
	}

	lastID := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, importance, base_importance, confidence, origin_type, created_at, last_accessed_at
			FROM memories
			WHERE invalidated_at IS NULL AND id > ?
			ORDER BY id LIMIT ?`, lastID, s.batchSize())
		if err != nil {
			return nil, err
		}

		var batch []row
		count := 0
		for rows.Next() {
			var r row
			var confidence float64
			var origin, createdAt string
			var lastAccessed sql.NullString
			if err := rows.Scan(&r.id, &r.importance, &r.base, &confidence, &origin, &createdAt, &lastAccessed); err != nil {
				rows.Close()
				return nil, err
			}
			count++
			lastID = r.id

			if model.OriginType(origin) == model.OriginCorrected {
				continue
			}
			if model.OriginType(origin) == model.OriginUserStated && confidence >= s.cfg.Decay.ProtectedConf {
				continue
			}

			ref := parseTime(createdAt)
			if la := parseTimePtr(lastAccessed); la != nil && la.After(ref) {
				ref = *la
			}
			r.idle = asOf.Sub(ref)
			if r.idle < s.cfg.Decay.MinIdle {
				continue
			}
			batch = append(batch, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if count == 0 {
			break
		}

		if len(batch) > 0 {
			err = s.withTx(ctx, func(tx *sql.Tx) error {
				for _, r := range batch {
					factor := math.Pow(2, -r.idle.Hours()/halfLife.Hours())
					decayed := r.base * factor
					if decayed < floor {
						decayed = floor
					}
					if decayed >= r.importance {
						continue
					}
					if _, err := tx.Exec(`UPDATE memories SET importance = ? WHERE id = ?`, decayed, r.id); err != nil {
						return err
					}
					sum.Touched++
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	sum.FinishedAt = time.Now()
	if err := s.recordRun(ctx, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// RunDedupSweep is the batch version of the write-path duplicate check: it
// walks memories entity by entity and merges near-duplicate pairs. The older
// memory survives; the newer one is absorbed (entity links re-parented) and
// soft-invalidated pointing at the survivor. One transaction per entity.
func (s *Store) RunDedupSweep(ctx context.Context) (*JobSummary, error) {
	sum := &JobSummary{RunID: uuid.NewString(), Job: "dedup", StartedAt: time.Now()}

	entityIDs, err := s.liveEntityIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, eid := range entityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mems, err := s.memoriesForEntity(ctx, eid, s.batchSize())
		if err != nil {
			return nil, err
		}
		if len(mems) < 2 {
			continue
		}
		// Oldest first so the earliest record always survives a merge.
		for i, j := 0, len(mems)-1; i < j; i, j = i+1, j-1 {
			mems[i], mems[j] = mems[j], mems[i]
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			absorbed := map[string]bool{}
			for i := 0; i < len(mems); i++ {
				if absorbed[mems[i].ID] {
					continue
				}
				for j := i + 1; j < len(mems); j++ {
					if absorbed[mems[j].ID] {
						continue
					}
					sim := similarity(mems[j].Embedding, mems[j].ContentHash, &mems[i])
					if sim < s.cfg.Dedup.Threshold {
						continue
					}
					if err := s.absorbDuplicateTx(tx, &mems[i], &mems[j], sim); err != nil {
						return err
					}
					absorbed[mems[j].ID] = true
					sum.Merged++
				}
			}
			sum.Touched += len(mems)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sum.FinishedAt = time.Now()
	if err := s.recordRun(ctx, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// absorbDuplicateTx merges loser into survivor: importance per the merge
// strategy, entity links re-parented, loser soft-invalidated. Audited on the
// survivor so the merge shows up in its provenance trail.
func (s *Store) absorbDuplicateTx(tx *sql.Tx, survivor, loser *model.Memory, sim float64) error {
	now := time.Now()

	merged := survivor.Importance
	if loser.Importance > merged {
		merged = loser.Importance
	}
	if s.cfg.Dedup.MergeStrategy != "keep_max" {
		merged = model.ClampScore(merged + s.cfg.Dedup.MergeBoost)
	}
	conf := survivor.Confidence
	if loser.Confidence > conf {
		conf = loser.Confidence
	}

	if _, err := tx.Exec(`UPDATE memories SET importance = ?, base_importance = ?, confidence = ?,
			merge_count = merge_count + 1, access_count = access_count + ?
		WHERE id = ?`,
		merged, merged, conf, loser.AccessCount, survivor.ID); err != nil {
		return err
	}
	survivor.Importance = merged
	survivor.Confidence = conf

	if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_entities (memory_id, entity_id)
		SELECT ?, entity_id FROM memory_entities WHERE memory_id = ?`,
		survivor.ID, loser.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE memories SET invalidated_at = ?, invalidation_reason = ? WHERE id = ?`,
		fmtTime(now), "duplicate of "+survivor.ID, loser.ID); err != nil {
		return err
	}

	return s.auditTx(tx, model.ActorConsolidation, model.OpMerge, survivor.ID, map[string]string{
		"absorbed":   loser.ID,
		"similarity": fmt.Sprintf("%.4f", sim),
	}, now)
}

// RunPatternMaintenance recomputes attention_tier and contact_velocity per
// entity from interaction trends. An entity newly gone dormant emits a
// flagged pattern memory instead of silently mutating user-facing state.
func (s *Store) RunPatternMaintenance(ctx context.Context, asOf time.Time) (*JobSummary, error) {
	sum := &JobSummary{RunID: uuid.NewString(), Job: "pattern", StartedAt: asOf}

	entityIDs, err := s.liveEntityIDs(ctx)
	if err != nil {
		return nil, err
	}

	window := s.cfg.Pattern.Window
	for _, eid := range entityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, err := s.GetEntity(ctx, eid)
		if err != nil {
			continue
		}

		recent, err := s.memoryCountSince(ctx, eid, asOf.Add(-window), asOf)
		if err != nil {
			return nil, err
		}
		previous, err := s.memoryCountSince(ctx, eid, asOf.Add(-2*window), asOf.Add(-window))
		if err != nil {
			return nil, err
		}
		total, err := s.memoryCountSince(ctx, eid, time.Time{}, asOf)
		if err != nil {
			return nil, err
		}

		velocity := computeVelocity(recent, previous, total > 0, s.cfg.Pattern.AccelerateMin)
		tier := computeTier(e.LastSeenAt, asOf, s.cfg.Pattern.ActiveWithin, s.cfg.Pattern.WatchWithin)

		if velocity == e.ContactVelocity && tier == e.AttentionTier {
			continue
		}

		wentDormant := velocity == model.VelocityDormant &&
			e.ContactVelocity != model.VelocityDormant &&
			tier == model.TierDormant

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`UPDATE entities SET contact_velocity = ?, attention_tier = ?, updated_at = ?
				WHERE id = ?`, velocity, tier, fmtTime(asOf), eid); err != nil {
				return err
			}
			sum.Touched++

			if !wentDormant {
				return nil
			}

			m := &model.Memory{
				ID:                 s.newID(),
				Content:            fmt.Sprintf("Contact with %s has gone quiet; no interactions in the last %d days.", e.Name, int(window.Hours()/24)),
				Type:               model.MemoryPattern,
				Importance:         0.4,
				Confidence:         0.6,
				ContentHash:        "",
				EntityIDs:          []string{eid},
				OriginType:         model.OriginInferred,
				VerificationStatus: model.VerificationFlagged,
				CreatedAt:          asOf,
			}
			m.ContentHash = contentHash(m.Content)
			if err := s.insertMemoryTx(tx, m); err != nil {
				return err
			}
			sum.Flagged++

			return s.auditTx(tx, model.ActorConsolidation, model.OpPattern, m.ID, map[string]string{
				"entity":   eid,
				"velocity": string(velocity),
			}, asOf)
		})
		if err != nil {
			return nil, err
		}
	}

	sum.FinishedAt = time.Now()
	if err := s.recordRun(ctx, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// computeVelocity classifies the interaction trend from the recent and
// previous window counts. Zero activity in both windows means dormant only
// when the entity has ever had a memory; an entity known purely through
// relationships stays stable.
func computeVelocity(recent, previous int, hasHistory bool, accelerateMin float64) model.ContactVelocity {
	switch {
	case recent == 0 && previous == 0:
		if hasHistory {
			return model.VelocityDormant
		}
		return model.VelocityStable
	case recent == 0:
		return model.VelocityDormant
	case previous == 0:
		return model.VelocityAccelerating
	case float64(recent) >= accelerateMin*float64(previous):
		return model.VelocityAccelerating
	case float64(recent) <= float64(previous)/accelerateMin:
		return model.VelocityDecelerating
	default:
		return model.VelocityStable
	}
}

func computeTier(lastSeen *time.Time, asOf time.Time, activeWithin, watchWithin time.Duration) model.AttentionTier {
	if lastSeen == nil {
		return model.TierDormant
	}
	idle := asOf.Sub(*lastSeen)
	switch {
	case idle <= activeWithin:
		return model.TierActive
	case idle <= watchWithin:
		return model.TierWatch
	default:
		return model.TierDormant
	}
}

func (s *Store) liveEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entities WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// memoryCountSince counts an entity's memories in (from, to]. Pattern
// memories are system-authored and do not count as interactions.
func (s *Store) memoryCountSince(ctx context.Context, entityID string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories m
		INNER JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ? AND m.type != ? AND m.created_at > ? AND m.created_at <= ?`,
		entityID, model.MemoryPattern, fmtTime(from), fmtTime(to)).Scan(&n)
	return n, err
}

// RunFull runs the slow consolidation pass: dedup sweep, pattern
// maintenance, and audit retention pruning.
func (s *Store) RunFull(ctx context.Context, asOf time.Time) ([]*JobSummary, error) {
	var sums []*JobSummary

	dedup, err := s.RunDedupSweep(ctx)
	if err != nil {
		return sums, err
	}
	sums = append(sums, dedup)

	pattern, err := s.RunPatternMaintenance(ctx, asOf)
	if err != nil {
		return sums, err
	}
	sums = append(sums, pattern)

	if _, err := s.pruneAudit(ctx, asOf); err != nil {
		return sums, err
	}
	return sums, nil
}

// LastRuns returns the most recent finished_at per job.
func (s *Store) LastRuns(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job, MAX(finished_at) FROM consolidation_runs GROUP BY job`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var job string
		var finished sql.NullString
		if err := rows.Scan(&job, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			out[job] = parseTime(finished.String)
		}
	}
	return out, rows.Err()
}
