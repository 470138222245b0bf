package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/microknowledge/atlas/internal/model"
)

const topicColumns = `id, level, name, centroid_embedding, n_points, parent_topic_id, stance_centroids, created_at, updated_at`

func scanTopic(row pgx.Row) (model.Topic, error) {
	var t model.Topic
	err := row.Scan(&t.ID, &t.Level, &t.Name, &t.Centroid, &t.NPoints, &t.ParentTopicID, &t.StanceCentroids, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Topic{}, ErrNotFound
	}
	if err != nil {
		return model.Topic{}, fmt.Errorf("storage: scan topic: %w", err)
	}
	return t, nil
}

// InsertTopic creates a topic row and fills in the generated id and
// timestamps.
func (s *Store) InsertTopic(ctx context.Context, t *model.Topic) error {
	if t.StanceCentroids == nil {
		t.StanceCentroids = map[string]model.StanceBucket{}
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO topics (level, name, centroid_embedding, n_points, parent_topic_id, stance_centroids)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.Level, t.Name, t.Centroid, t.NPoints, t.ParentTopicID, t.StanceCentroids,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert topic: %w", err)
	}
	return nil
}

// TopicByID returns one topic or ErrNotFound.
func (s *Store) TopicByID(ctx context.Context, id uuid.UUID) (model.Topic, error) {
	return scanTopic(s.q.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
}

// TopicByName finds a topic by case-insensitive name within the
// (level, parent) scope, or ErrNotFound.
func (s *Store) TopicByName(ctx context.Context, level int, name string, parentID *uuid.UUID) (model.Topic, error) {
	if parentID == nil {
		return scanTopic(s.q.QueryRow(ctx,
			`SELECT `+topicColumns+` FROM topics
			 WHERE level = $1 AND lower(name) = lower($2) AND parent_topic_id IS NULL
			 LIMIT 1`, level, name))
	}
	return scanTopic(s.q.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics
		 WHERE level = $1 AND lower(name) = lower($2) AND parent_topic_id = $3
		 LIMIT 1`, level, name, *parentID))
}

// NearestTopic returns the topic whose centroid is nearest to embedding by
// cosine distance, within the (level, parent) scope, along with its cosine
// similarity. ErrNotFound when the scope is empty.
func (s *Store) NearestTopic(ctx context.Context, embedding pgvector.Vector, level int, parentID *uuid.UUID) (model.Topic, float64, error) {
	sql := `SELECT ` + topicColumns + `, 1 - (centroid_embedding <=> $1) AS similarity
		FROM topics WHERE level = $2`
	args := []any{embedding, level}
	if parentID == nil {
		sql += ` AND parent_topic_id IS NULL`
	} else {
		sql += ` AND parent_topic_id = $3`
		args = append(args, *parentID)
	}
	sql += ` ORDER BY centroid_embedding <=> $1 ASC, id ASC LIMIT 1`

	var t model.Topic
	var similarity float64
	err := s.q.QueryRow(ctx, sql, args...).Scan(
		&t.ID, &t.Level, &t.Name, &t.Centroid, &t.NPoints, &t.ParentTopicID, &t.StanceCentroids, &t.CreatedAt, &t.UpdatedAt,
		&similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Topic{}, 0, ErrNotFound
	}
	if err != nil {
		return model.Topic{}, 0, fmt.Errorf("storage: nearest topic: %w", err)
	}
	return t, similarity, nil
}

// TopicMatch pairs a topic id and name with its centroid similarity to a
// query embedding.
type TopicMatch struct {
	ID         uuid.UUID
	Name       string
	Similarity float64
}

// NearestLevel1Topics returns up to limit level-1 topics ordered by cosine
// distance to embedding.
func (s *Store) NearestLevel1Topics(ctx context.Context, embedding pgvector.Vector, limit int) ([]TopicMatch, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, 1 - (centroid_embedding <=> $1) AS similarity
		 FROM topics
		 WHERE level = 1
		 ORDER BY centroid_embedding <=> $1 ASC, id ASC
		 LIMIT $2`, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: nearest level-1 topics: %w", err)
	}
	defer rows.Close()

	var out []TopicMatch
	for rows.Next() {
		var m TopicMatch
		if err := rows.Scan(&m.ID, &m.Name, &m.Similarity); err != nil {
			return nil, fmt.Errorf("storage: scan topic match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateTopicCentroid persists a recomputed running-mean centroid and its
// sample count, touching updated_at.
func (s *Store) UpdateTopicCentroid(ctx context.Context, id uuid.UUID, centroid pgvector.Vector, nPoints int) error {
	_, err := s.q.Exec(ctx,
		`UPDATE topics SET centroid_embedding = $2, n_points = $3, updated_at = now() WHERE id = $1`,
		id, centroid, nPoints)
	if err != nil {
		return fmt.Errorf("storage: update topic centroid: %w", err)
	}
	return nil
}

// UpdateTopicStanceCentroids persists the full stance-bucket map, touching
// updated_at.
func (s *Store) UpdateTopicStanceCentroids(ctx context.Context, id uuid.UUID, buckets map[string]model.StanceBucket) error {
	_, err := s.q.Exec(ctx,
		`UPDATE topics SET stance_centroids = $2, updated_at = now() WHERE id = $1`,
		id, buckets)
	if err != nil {
		return fmt.Errorf("storage: update stance centroids: %w", err)
	}
	return nil
}

// ZeroChildTopicPoints resets n_points on all level-2 children of a parent.
// The rows are kept (not deleted) so idea back-references stay valid while
// a recluster reassigns members.
func (s *Store) ZeroChildTopicPoints(ctx context.Context, parentID uuid.UUID) error {
	_, err := s.q.Exec(ctx,
		`UPDATE topics SET n_points = 0, updated_at = now() WHERE level = 2 AND parent_topic_id = $1`,
		parentID)
	if err != nil {
		return fmt.Errorf("storage: zero child topic points: %w", err)
	}
	return nil
}

// ListTopics returns all topics ordered by level then member count.
func (s *Store) ListTopics(ctx context.Context) ([]model.Topic, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+topicColumns+` FROM topics ORDER BY level ASC, n_points DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list topics: %w", err)
	}
	defer rows.Close()
	return collectTopics(rows)
}

// TopicsByLevel returns all topics at the given level.
func (s *Store) TopicsByLevel(ctx context.Context, level int) ([]model.Topic, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE level = $1 ORDER BY id ASC`, level)
	if err != nil {
		return nil, fmt.Errorf("storage: topics by level: %w", err)
	}
	defer rows.Close()
	return collectTopics(rows)
}

func collectTopics(rows pgx.Rows) ([]model.Topic, error) {
	var out []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Level, &t.Name, &t.Centroid, &t.NPoints, &t.ParentTopicID, &t.StanceCentroids, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan topic: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
