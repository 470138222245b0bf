package topiclayer

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/storage"
	"github.com/microknowledge/atlas/internal/vecmath"
)

// scopeLimit is the per-scope candidate fetch size for hierarchical
// retrieval.
func scopeLimit(topK int) int {
	limit := 4 * topK
	if limit < 24 {
		limit = 24
	}
	return limit
}

// Supportive returns up to topK neighbors sharing the seed's stance,
// gathered leaves-first through the topic hierarchy.
func (s *Service) Supportive(ctx context.Context, ideaID uuid.UUID, topK int) ([]model.Neighbor, error) {
	st := s.db.Store()
	seed, err := st.IdeaByID(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	stance := seed.StanceLabel
	candidates, err := s.hierarchicalCandidates(ctx, st, seed, &stance, topK)
	if err != nil {
		return nil, err
	}
	return dedupeAndTrim(candidates, topK), nil
}

// Opposing returns up to topK neighbors holding the opposite stance,
// re-ranked toward the opposite stance centroid when one exists. Neutral
// seeds have no opposite and yield an empty result. A negative alpha means
// "use the configured default".
func (s *Service) Opposing(ctx context.Context, ideaID uuid.UUID, topK int, alpha float64) ([]model.Neighbor, error) {
	st := s.db.Store()
	seed, err := st.IdeaByID(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	opposite := seed.StanceLabel.Opposite()
	if opposite == model.StanceNeutral {
		return []model.Neighbor{}, nil
	}
	candidates, err := s.hierarchicalCandidates(ctx, st, seed, &opposite, topK)
	if err != nil {
		return nil, err
	}

	if alpha < 0 {
		alpha = s.cfg.OpposingAlpha
	}
	oppositeCentroid, err := s.oppositeStanceCentroid(ctx, st, seed, opposite)
	if err != nil {
		return nil, err
	}
	if oppositeCentroid != nil {
		for i := range candidates {
			var candVec []float32
			if candidates[i].Embedding != nil {
				candVec = candidates[i].Embedding.Slice()
			}
			candidates[i].Similarity = alpha*candidates[i].Similarity +
				(1-alpha)*vecmath.Cosine(candVec, oppositeCentroid)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Similarity > candidates[j].Similarity
		})
	} else {
		// No stance geometry to lean on; surface the most distant first.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Similarity < candidates[j].Similarity
		})
	}
	return dedupeAndTrim(candidates, topK), nil
}

// Nearby returns up to topK neighbors from the seed's related level-1
// neighborhoods, regardless of stance.
func (s *Service) Nearby(ctx context.Context, ideaID uuid.UUID, topK int) ([]model.Neighbor, error) {
	st := s.db.Store()
	seed, err := st.IdeaByID(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if seed.Embedding == nil {
		return []model.Neighbor{}, nil
	}

	related, err := s.relatedLevel1IDs(ctx, st, seed)
	if err != nil {
		return nil, err
	}
	if len(related) == 0 {
		return []model.Neighbor{}, nil
	}

	limit := scopeLimit(topK)
	if limit > s.cfg.RetrievalCandidatePool {
		limit = s.cfg.RetrievalCandidatePool
	}
	candidates, err := st.NearestIdeas(ctx, *seed.Embedding, seed.ID, limit, storage.IdeaFilters{TopicIDs: related})
	if err != nil {
		return nil, err
	}
	return dedupeAndTrim(candidates, topK), nil
}

// hierarchicalCandidates gathers stance-filtered candidates leaves-first:
// same level-3 subtree, then sibling subtrees under the seed's level-2,
// then the whole level-1 scope. Widening stops as soon as the accumulated,
// deduped set can satisfy topK. Scope order is load-bearing.
func (s *Service) hierarchicalCandidates(ctx context.Context, st *storage.Store, seed model.Idea, stance *model.Stance, topK int) ([]model.Neighbor, error) {
	if seed.Embedding == nil {
		return nil, nil
	}
	limit := scopeLimit(topK)
	embedding := *seed.Embedding

	// The level-2 scope follows the subtopic row's parent, not idea
	// metadata: rebalancing reparents leaves without rewriting metadata.
	leaf, err := s.topicByIDPtr(ctx, st, seed.SubtopicID)
	if err != nil {
		return nil, err
	}
	var level2ID *uuid.UUID
	if leaf != nil {
		level2ID = leaf.ParentTopicID
	}

	seen := make(map[uuid.UUID]bool)
	var acc []model.Neighbor
	merge := func(rows []model.Neighbor) {
		for _, n := range rows {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			acc = append(acc, n)
		}
		sort.SliceStable(acc, func(i, j int) bool {
			return acc[i].Similarity > acc[j].Similarity
		})
	}

	if seed.SubtopicID != nil {
		rows, err := st.NearestIdeas(ctx, embedding, seed.ID, limit, storage.IdeaFilters{SubtopicID: seed.SubtopicID, Stance: stance})
		if err != nil {
			return nil, err
		}
		merge(rows)
		if len(acc) >= topK {
			return acc, nil
		}
	}

	if level2ID != nil {
		rows, err := st.NearestIdeasSameLevel2(ctx, embedding, *level2ID, seed.ID, limit, stance)
		if err != nil {
			return nil, err
		}
		merge(rows)
		if len(acc) >= topK {
			return acc, nil
		}
	}

	if seed.TopicID != nil {
		rows, err := st.NearestIdeas(ctx, embedding, seed.ID, limit, storage.IdeaFilters{TopicIDs: []uuid.UUID{*seed.TopicID}, Stance: stance})
		if err != nil {
			return nil, err
		}
		merge(rows)
	}
	return acc, nil
}

// oppositeStanceCentroid reads the stance bucket for the given label from
// the seed's level-3 topic, falling back to its level-2. Nil when neither
// holds samples.
func (s *Service) oppositeStanceCentroid(ctx context.Context, st *storage.Store, seed model.Idea, stance model.Stance) ([]float32, error) {
	leaf, err := s.topicByIDPtr(ctx, st, seed.SubtopicID)
	if err != nil {
		return nil, err
	}
	if c := leaf.StanceCentroid(stance); c != nil {
		return c, nil
	}
	var parentID *uuid.UUID
	if leaf != nil {
		parentID = leaf.ParentTopicID
	}
	mid, err := s.topicByIDPtr(ctx, st, parentID)
	if err != nil {
		return nil, err
	}
	return mid.StanceCentroid(stance), nil
}

// relatedLevel1IDs returns the level-1 topics nearest the seed's embedding
// whose centroid similarity clears the fallback floor, with the seed's own
// level-1 always first.
func (s *Service) relatedLevel1IDs(ctx context.Context, st *storage.Store, seed model.Idea) ([]uuid.UUID, error) {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	if seed.TopicID != nil {
		out = append(out, *seed.TopicID)
		seen[*seed.TopicID] = true
	}

	matches, err := st.NearestLevel1Topics(ctx, *seed.Embedding, 8)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Similarity < s.cfg.FallbackSimilarityFloor || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m.ID)
	}
	return out, nil
}

// dedupeAndTrim collapses candidates sharing a normalized text key
// (keeping the first, i.e. highest-ranked) and trims to topK.
func dedupeAndTrim(candidates []model.Neighbor, topK int) []model.Neighbor {
	out := make([]model.Neighbor, 0, topK)
	seen := make(map[string]bool)
	for _, n := range candidates {
		key := TextKey(n.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
		if len(out) == topK {
			break
		}
	}
	return out
}
