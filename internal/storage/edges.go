package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/microknowledge/atlas/internal/model"
)

// UpsertEdge writes one directed edge. An existing (src, dst) pair is
// updated in place with the new type and weight.
func (s *Store) UpsertEdge(ctx context.Context, e model.Edge) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO edges (src_id, dst_id, edge_type, weight)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (src_id, dst_id)
		 DO UPDATE SET edge_type = EXCLUDED.edge_type, weight = EXCLUDED.weight`,
		e.Src, e.Dst, e.EdgeType, e.Weight)
	if err != nil {
		return fmt.Errorf("storage: upsert edge: %w", err)
	}
	return nil
}

// UpsertEdgePair writes a mirrored edge in both directions with the same
// type and weight.
func (s *Store) UpsertEdgePair(ctx context.Context, e model.Edge) error {
	if err := s.UpsertEdge(ctx, e); err != nil {
		return err
	}
	mirror := e
	mirror.Src, mirror.Dst = e.Dst, e.Src
	return s.UpsertEdge(ctx, mirror)
}

// EdgeCountFrom returns the number of outgoing edges from src. The
// ingestion pipeline uses it to cap the per-node edge fanout.
func (s *Store) EdgeCountFrom(ctx context.Context, src uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM edges WHERE src_id = $1`, src).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: edge count: %w", err)
	}
	return n, nil
}

// TopEdges returns the heaviest idea-to-idea edges for the map view,
// ordered by weight descending with (src, dst) as the tiebreaker.
func (s *Store) TopEdges(ctx context.Context, limit int) ([]model.Edge, error) {
	rows, err := s.q.Query(ctx,
		`SELECT src_id, dst_id, edge_type, weight, created_at
		 FROM edges
		 WHERE edge_type != 'topic_hierarchy'
		 ORDER BY weight DESC, src_id ASC, dst_id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: top edges: %w", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.Src, &e.Dst, &e.EdgeType, &e.Weight, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
