package topiclayer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/storage"
	"github.com/microknowledge/atlas/internal/vecmath"
)

// upsertTopicLevel resolves one level of the hierarchy for an embedding:
// case-insensitive name match first, then nearest centroid above the
// threshold, else a fresh topic seeded with the embedding. Matched topics
// absorb the embedding into their running-mean centroid.
func (s *Service) upsertTopicLevel(ctx context.Context, st *storage.Store, embedding pgvector.Vector, level int, name string, parentID *uuid.UUID, threshold float64) (*model.Topic, error) {
	t, err := st.TopicByName(ctx, level, name, parentID)
	if err == nil {
		return s.absorbIntoTopic(ctx, st, &t, embedding)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	t, sim, err := st.NearestTopic(ctx, embedding, level, parentID)
	if err == nil && sim >= threshold {
		return s.absorbIntoTopic(ctx, st, &t, embedding)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	fresh := model.Topic{
		Level:         level,
		Name:          name,
		Centroid:      &embedding,
		NPoints:       1,
		ParentTopicID: parentID,
	}
	if err := st.InsertTopic(ctx, &fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// absorbIntoTopic folds the embedding into the topic's running-mean
// centroid and persists the new mean and count.
func (s *Service) absorbIntoTopic(ctx context.Context, st *storage.Store, t *model.Topic, embedding pgvector.Vector) (*model.Topic, error) {
	var prior []float32
	if t.Centroid != nil {
		prior = t.Centroid.Slice()
	}
	updated := pgvector.NewVector(vecmath.RunningMean(prior, t.NPoints, embedding.Slice()))
	t.Centroid = &updated
	t.NPoints++
	if err := st.UpdateTopicCentroid(ctx, t.ID, updated, t.NPoints); err != nil {
		return nil, err
	}
	return t, nil
}

// assignStance classifies the embedding against the topic's pro and con
// stance centroids, reading level-3 buckets first with a per-bucket
// fallback to level-2. When either centroid is missing the stance hint
// from the request metadata decides, with score 0.
func (s *Service) assignStance(embedding []float32, leaf, mid *model.Topic, meta map[string]any) (model.Stance, float64) {
	pro := leaf.StanceCentroid(model.StancePro)
	if pro == nil {
		pro = mid.StanceCentroid(model.StancePro)
	}
	con := leaf.StanceCentroid(model.StanceCon)
	if con == nil {
		con = mid.StanceCentroid(model.StanceCon)
	}

	if pro == nil || con == nil {
		hint, _ := meta["stance_hint"].(string)
		return model.NormalizeStance(hint), 0
	}

	score := vecmath.Cosine(embedding, pro) - vecmath.Cosine(embedding, con)
	if abs(score) < s.cfg.StanceConfidenceMargin {
		return model.StanceNeutral, score
	}
	if score > 0 {
		return model.StancePro, score
	}
	return model.StanceCon, score
}

// updateStanceCentroid folds the embedding into the topic's stance bucket
// for the given label, initializing an absent bucket with the embedding
// itself. The legacy "contra" key is migrated to "con" on the way through.
func (s *Service) updateStanceCentroid(ctx context.Context, st *storage.Store, t *model.Topic, embedding []float32, stance model.Stance) error {
	buckets := t.StanceCentroids
	if buckets == nil {
		buckets = map[string]model.StanceBucket{}
	}
	if legacy, ok := buckets["contra"]; ok {
		if _, exists := buckets[string(model.StanceCon)]; !exists {
			buckets[string(model.StanceCon)] = legacy
		}
		delete(buckets, "contra")
	}

	key := string(stance)
	b, ok := buckets[key]
	if !ok || b.NPoints <= 0 || len(b.Centroid) == 0 {
		buckets[key] = model.StanceBucket{NPoints: 1, Centroid: embedding}
	} else {
		buckets[key] = model.StanceBucket{
			NPoints:  b.NPoints + 1,
			Centroid: vecmath.RunningMean(b.Centroid, b.NPoints, embedding),
		}
	}
	t.StanceCentroids = buckets
	return st.UpdateTopicStanceCentroids(ctx, t.ID, buckets)
}

// topicByIDPtr loads a topic by optional id, returning nil for a nil id or
// a missing row.
func (s *Service) topicByIDPtr(ctx context.Context, st *storage.Store, id *uuid.UUID) (*model.Topic, error) {
	if id == nil {
		return nil, nil
	}
	t, err := st.TopicByID(ctx, *id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// topicPath extracts the three-level name path stashed in idea metadata.
func topicPath(meta map[string]any) []string {
	raw, _ := meta["topic_path"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if name, ok := v.(string); ok {
			out = append(out, name)
		}
	}
	return out
}
