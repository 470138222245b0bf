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

// textKeyExpr is the normalized duplicate key: lowercase, trailing
// terminators stripped, whitespace collapsed. The same expression backs
// the unique index in the schema, so application-level lookups and the
// database-level guard agree byte for byte.
const textKeyExpr = `lower(regexp_replace(regexp_replace(text, '[.!?]+$', '', 'g'), '\s+', ' ', 'g'))`

const ideaColumns = `id, user_id, text, embedding, topic_id, subtopic_id, cluster_id, stance_label, stance_confidence, metadata, created_at`

func scanIdea(row pgx.Row) (model.Idea, error) {
	var i model.Idea
	err := row.Scan(&i.ID, &i.UserID, &i.Text, &i.Embedding, &i.TopicID, &i.SubtopicID, &i.ClusterID, &i.StanceLabel, &i.StanceConfidence, &i.Metadata, &i.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Idea{}, ErrNotFound
	}
	if err != nil {
		return model.Idea{}, fmt.Errorf("storage: scan idea: %w", err)
	}
	return i, nil
}

// InsertIdea persists a new idea and fills in the generated id and
// created_at. Returns a unique-violation error (see IsUniqueViolation)
// when a concurrent ingest already inserted the same normalized text.
func (s *Store) InsertIdea(ctx context.Context, i *model.Idea) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO insights (user_id, text, embedding, topic_id, subtopic_id, cluster_id, stance_label, stance_confidence, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		i.UserID, i.Text, i.Embedding, i.TopicID, i.SubtopicID, i.ClusterID, i.StanceLabel, i.StanceConfidence, i.Metadata,
	).Scan(&i.ID, &i.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert idea: %w", err)
	}
	return nil
}

// IdeaByID returns one idea or ErrNotFound.
func (s *Store) IdeaByID(ctx context.Context, id uuid.UUID) (model.Idea, error) {
	return scanIdea(s.q.QueryRow(ctx,
		`SELECT `+ideaColumns+` FROM insights WHERE id = $1`, id))
}

// IdeaByTextKey returns the oldest idea whose normalized text matches the
// duplicate key, or ErrNotFound.
func (s *Store) IdeaByTextKey(ctx context.Context, key string) (model.Idea, error) {
	return scanIdea(s.q.QueryRow(ctx,
		`SELECT `+ideaColumns+` FROM insights
		 WHERE `+textKeyExpr+` = $1
		 ORDER BY created_at ASC
		 LIMIT 1`, key))
}

// MergeIdeaMetadata overlays meta onto the idea's metadata; incoming keys
// overwrite existing ones.
func (s *Store) MergeIdeaMetadata(ctx context.Context, id uuid.UUID, meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx,
		`UPDATE insights SET metadata = metadata || $2 WHERE id = $1`, id, meta)
	if err != nil {
		return fmt.Errorf("storage: merge idea metadata: %w", err)
	}
	return nil
}

// UpdateIdeaPlacement rewrites an existing row's placement: embedding,
// hierarchy anchors, cluster label, stance, and metadata. Used when a legacy
// row without anchors is routed through the ingestion pipeline again.
func (s *Store) UpdateIdeaPlacement(ctx context.Context, i *model.Idea) error {
	_, err := s.q.Exec(ctx,
		`UPDATE insights
		 SET embedding = $2, topic_id = $3, subtopic_id = $4, cluster_id = $5,
		     stance_label = $6, stance_confidence = $7, metadata = $8
		 WHERE id = $1`,
		i.ID, i.Embedding, i.TopicID, i.SubtopicID, i.ClusterID, i.StanceLabel, i.StanceConfidence, i.Metadata)
	if err != nil {
		return fmt.Errorf("storage: update idea placement: %w", err)
	}
	return nil
}

// IdeaFilters scope a nearest-neighbor search. Zero values mean "no
// constraint"; Stance filters on the stance label when set.
type IdeaFilters struct {
	TopicIDs   []uuid.UUID // level-1 anchors (any of).
	MidTopicID string      // metadata mid_topic_id (level-2), as stored: a stringified uuid.
	SubtopicID *uuid.UUID  // level-3 anchor.
	Stance     *model.Stance
}

// NearestIdeas runs a filtered nearest-neighbor search by cosine distance,
// excluding excludeID. Rows carry their embeddings for in-process
// re-ranking. Ordering is distance ascending with id as the tiebreaker.
func (s *Store) NearestIdeas(ctx context.Context, embedding pgvector.Vector, excludeID uuid.UUID, limit int, f IdeaFilters) ([]model.Neighbor, error) {
	sql := `SELECT id, text, topic_id, subtopic_id, stance_label, embedding, metadata, created_at,
			1 - (embedding <=> $1) AS similarity
		FROM insights
		WHERE id != $2`
	args := []any{embedding, excludeID}

	if len(f.TopicIDs) > 0 {
		args = append(args, f.TopicIDs)
		sql += fmt.Sprintf(" AND topic_id = ANY($%d)", len(args))
	}
	if f.MidTopicID != "" {
		args = append(args, f.MidTopicID)
		sql += fmt.Sprintf(" AND metadata->>'mid_topic_id' = $%d", len(args))
	}
	if f.SubtopicID != nil {
		args = append(args, *f.SubtopicID)
		sql += fmt.Sprintf(" AND subtopic_id = $%d", len(args))
	}
	if f.Stance != nil {
		args = append(args, *f.Stance)
		sql += fmt.Sprintf(" AND stance_label = $%d", len(args))
	}

	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY embedding <=> $1 ASC, id ASC LIMIT $%d", len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: nearest ideas: %w", err)
	}
	defer rows.Close()
	return collectNeighbors(rows)
}

// NearestIdeasSameLevel2 searches ideas whose level-3 subtopic hangs under
// the given level-2 topic (sibling subtrees of the seed's leaf).
func (s *Store) NearestIdeasSameLevel2(ctx context.Context, embedding pgvector.Vector, level2ID, excludeID uuid.UUID, limit int, stance *model.Stance) ([]model.Neighbor, error) {
	sql := `SELECT i.id, i.text, i.topic_id, i.subtopic_id, i.stance_label, i.embedding, i.metadata, i.created_at,
			1 - (i.embedding <=> $1) AS similarity
		FROM insights i
		JOIN topics t ON t.id = i.subtopic_id AND t.parent_topic_id = $2
		WHERE i.id != $3`
	args := []any{embedding, level2ID, excludeID}
	if stance != nil {
		args = append(args, *stance)
		sql += fmt.Sprintf(" AND i.stance_label = $%d", len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY i.embedding <=> $1 ASC, i.id ASC LIMIT $%d", len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: nearest ideas same level2: %w", err)
	}
	defer rows.Close()
	return collectNeighbors(rows)
}

func collectNeighbors(rows pgx.Rows) ([]model.Neighbor, error) {
	var out []model.Neighbor
	for rows.Next() {
		var n model.Neighbor
		if err := rows.Scan(&n.ID, &n.Text, &n.TopicID, &n.SubtopicID, &n.StanceLabel, &n.Embedding, &n.Metadata, &n.CreatedAt, &n.Similarity); err != nil {
			return nil, fmt.Errorf("storage: scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RecentIdeas returns the most recent anchored ideas for the map view.
func (s *Store) RecentIdeas(ctx context.Context, limit int) ([]model.MapIdea, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, text, topic_id, subtopic_id, stance_label
		 FROM insights
		 WHERE topic_id IS NOT NULL AND subtopic_id IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent ideas: %w", err)
	}
	defer rows.Close()

	var out []model.MapIdea
	for rows.Next() {
		var m model.MapIdea
		if err := rows.Scan(&m.ID, &m.Text, &m.TopicID, &m.SubtopicID, &m.StanceLabel); err != nil {
			return nil, fmt.Errorf("storage: scan map idea: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IdeasByTopic returns all ideas anchored at the given level-1 topic, in
// insertion order. Used by the rebalance job.
func (s *Store) IdeasByTopic(ctx context.Context, topicID uuid.UUID) ([]model.Idea, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+ideaColumns+` FROM insights WHERE topic_id = $1 ORDER BY created_at ASC, id ASC`, topicID)
	if err != nil {
		return nil, fmt.Errorf("storage: ideas by topic: %w", err)
	}
	defer rows.Close()

	var out []model.Idea
	for rows.Next() {
		var i model.Idea
		if err := rows.Scan(&i.ID, &i.UserID, &i.Text, &i.Embedding, &i.TopicID, &i.SubtopicID, &i.ClusterID, &i.StanceLabel, &i.StanceConfidence, &i.Metadata, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan idea: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ReassignIdeaSubtopic moves an idea to a new level-3 anchor and cluster
// label during rebalancing.
func (s *Store) ReassignIdeaSubtopic(ctx context.Context, id, subtopicID uuid.UUID, clusterID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE insights SET subtopic_id = $2, cluster_id = $3 WHERE id = $1`,
		id, subtopicID, clusterID)
	if err != nil {
		return fmt.Errorf("storage: reassign idea subtopic: %w", err)
	}
	return nil
}
