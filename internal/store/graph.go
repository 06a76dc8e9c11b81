package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kbanc85/claudia-sub002/internal/model"
)

// Graph traversal works on an in-process adjacency map built from the active
// relationship rows. Cycles are handled by the visited set and every walk is
// bounded by a hop limit, so traversal always terminates.

type edge struct {
	from, to string
}

// adjacency returns neighbors per entity over currently-active relationships.
// Directed edges still connect both ways for discovery purposes.
func (s *Store) adjacency(ctx context.Context, now time.Time) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_entity, to_entity FROM relationships
		WHERE valid_at <= ? AND (invalid_at IS NULL OR invalid_at > ?)`,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adj := map[string][]string{}
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.from, &e.to); err != nil {
			return nil, err
		}
		adj[e.from] = append(adj[e.from], e.to)
		adj[e.to] = append(adj[e.to], e.from)
	}
	return adj, rows.Err()
}

// ConnectedEntities returns live entities reachable from start within hops,
// excluding start itself, nearest first.
func (s *Store) ConnectedEntities(ctx context.Context, startID string, hops int) ([]model.Entity, error) {
	if hops <= 0 {
		return nil, nil
	}
	adj, err := s.adjacency(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var order []string

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, n := range adj[id] {
				if visited[n] {
					continue
				}
				visited[n] = true
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	var out []model.Entity
	for _, id := range order {
		e, err := s.GetEntity(ctx, id)
		if err != nil {
			continue // merged-away or soft-deleted endpoints are skipped
		}
		out = append(out, *e)
	}
	return out, nil
}

// ShortestPath finds a path of entity ids from one entity to another using a
// breadth-first walk, or ErrNotFound when none exists within maxHops.
func (s *Store) ShortestPath(ctx context.Context, fromRef, toRef string, maxHops int) ([]string, error) {
	from, err := s.GetEntity(ctx, fromRef)
	if err != nil {
		return nil, err
	}
	to, err := s.GetEntity(ctx, toRef)
	if err != nil {
		return nil, err
	}
	if maxHops <= 0 {
		maxHops = s.cfg.Recall.MaxHops
	}
	if from.ID == to.ID {
		return []string{from.ID}, nil
	}

	adj, err := s.adjacency(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	parent := map[string]string{from.ID: ""}
	frontier := []string{from.ID}

	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, n := range adj[id] {
				if _, seen := parent[n]; seen {
					continue
				}
				parent[n] = id
				if n == to.ID {
					return rebuildPath(parent, to.ID), nil
				}
				next = append(next, n)
			}
		}
		frontier = next
	}

	return nil, fmt.Errorf("%w: no path from %s to %s within %d hops",
		ErrNotFound, from.Name, to.Name, maxHops)
}

func rebuildPath(parent map[string]string, end string) []string {
	var path []string
	for id := end; id != ""; id = parent[id] {
		path = append([]string{id}, path...)
	}
	return path
}

// Hub is an entity ranked by how many active relationships touch it.
type Hub struct {
	Entity model.Entity `json:"entity"`
	Degree int          `json:"degree"`
}

// Hubs returns the most-connected entities in the active graph.
func (s *Store) Hubs(ctx context.Context, limit int) ([]Hub, error) {
	if limit <= 0 {
		limit = 10
	}
	now := fmtTime(time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT eid, COUNT(*) AS degree FROM (
			SELECT from_entity AS eid FROM relationships
				WHERE valid_at <= ? AND (invalid_at IS NULL OR invalid_at > ?)
			UNION ALL
			SELECT to_entity AS eid FROM relationships
				WHERE valid_at <= ? AND (invalid_at IS NULL OR invalid_at > ?)
		)
		GROUP BY eid ORDER BY degree DESC LIMIT ?`,
		now, now, now, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type row struct {
		id     string
		degree int
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.degree); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var hubs []Hub
	for _, r := range raw {
		e, err := s.GetEntity(ctx, r.id)
		if err != nil {
			continue
		}
		hubs = append(hubs, Hub{Entity: *e, Degree: r.degree})
	}
	return hubs, nil
}
