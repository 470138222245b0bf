package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/microknowledge/atlas/internal/model"
)

// Relation returns the cached pair judgment for (src, dst), or ErrNotFound.
func (s *Store) Relation(ctx context.Context, srcID, dstID uuid.UUID) (model.IdeaRelation, error) {
	var r model.IdeaRelation
	err := s.q.QueryRow(ctx,
		`SELECT src_id, dst_id, relation_label, confidence, updated_at
		 FROM idea_relations
		 WHERE src_id = $1 AND dst_id = $2`,
		srcID, dstID,
	).Scan(&r.SrcID, &r.DstID, &r.RelationLabel, &r.Confidence, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.IdeaRelation{}, ErrNotFound
	}
	if err != nil {
		return model.IdeaRelation{}, fmt.Errorf("storage: relation: %w", err)
	}
	return r, nil
}

// UpsertRelation caches a fresh pair judgment, replacing any prior label
// and confidence for the same direction.
func (s *Store) UpsertRelation(ctx context.Context, r model.IdeaRelation) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO idea_relations (src_id, dst_id, relation_label, confidence, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (src_id, dst_id)
		 DO UPDATE SET relation_label = EXCLUDED.relation_label,
		               confidence = EXCLUDED.confidence,
		               updated_at = now()`,
		r.SrcID, r.DstID, r.RelationLabel, r.Confidence)
	if err != nil {
		return fmt.Errorf("storage: upsert relation: %w", err)
	}
	return nil
}
