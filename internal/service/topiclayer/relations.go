package topiclayer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/storage"
)

// pairJudgment is the resolved relation for one (seed, candidate) pair.
type pairJudgment struct {
	Label      model.RelationLabel
	Confidence float64
}

// RelationBuckets partitions the seed's nearest same-level-1 candidates
// into supportive, opposing, and neutral buckets. Pair judgments come from
// the idea_relations cache when present and the relation oracle otherwise;
// fresh judgments are cached and, for support/oppose pairs in the seed's
// level-1 topic, denormalized into mirrored graph edges. Both edge
// directions land in one transaction.
func (s *Service) RelationBuckets(ctx context.Context, ideaID uuid.UUID, topK, candidatePool int) (model.RelationBucketsResponse, error) {
	st := s.db.Store()
	seed, err := st.IdeaByID(ctx, ideaID)
	if err != nil {
		return model.RelationBucketsResponse{}, err
	}
	resp := model.RelationBucketsResponse{
		ID:         seed.ID,
		Supportive: []model.Neighbor{},
		Opposing:   []model.Neighbor{},
		Neutral:    []model.Neighbor{},
	}
	if seed.Embedding == nil || seed.TopicID == nil {
		return resp, nil
	}

	if minPool := 6 * topK; candidatePool < minPool {
		candidatePool = minPool
	}
	candidates, err := st.NearestIdeas(ctx, *seed.Embedding, seed.ID, candidatePool, storage.IdeaFilters{TopicIDs: []uuid.UUID{*seed.TopicID}})
	if err != nil {
		return model.RelationBucketsResponse{}, err
	}

	path := topicPath(seed.Metadata)
	for i := range candidates {
		judgment, err := s.pairRelation(ctx, st, seed, candidates[i], path)
		if err != nil {
			return model.RelationBucketsResponse{}, err
		}
		candidates[i].RelationLabel = judgment.Label
		candidates[i].RelationConfidence = judgment.Confidence
	}

	var support, oppose, neutral []model.Neighbor
	for _, n := range candidates {
		switch n.RelationLabel {
		case model.RelationSupport:
			support = append(support, n)
		case model.RelationOppose:
			oppose = append(oppose, n)
		default:
			neutral = append(neutral, n)
		}
	}
	byConfidence := func(rows []model.Neighbor) {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].RelationConfidence != rows[j].RelationConfidence {
				return rows[i].RelationConfidence > rows[j].RelationConfidence
			}
			return rows[i].Similarity > rows[j].Similarity
		})
	}
	byConfidence(support)
	byConfidence(oppose)
	sort.SliceStable(neutral, func(i, j int) bool {
		return neutral[i].Similarity > neutral[j].Similarity
	})

	resp.Supportive = dedupeAndTrim(support, topK)
	resp.Opposing = dedupeAndTrim(oppose, topK)
	resp.Neutral = dedupeAndTrim(neutral, topK)

	if len(resp.Supportive) > 0 || len(resp.Opposing) > 0 {
		err = s.db.InTx(ctx, func(txStore *storage.Store) error {
			if err := s.writeRelationEdges(ctx, txStore, seed, model.EdgeSupport, resp.Supportive); err != nil {
				return err
			}
			return s.writeRelationEdges(ctx, txStore, seed, model.EdgeOppose, resp.Opposing)
		})
		if err != nil {
			return model.RelationBucketsResponse{}, err
		}
	}
	return resp, nil
}

// pairRelation resolves the judgment for (seed, candidate): cache first,
// then the relation oracle. Concurrent requests for the same pair collapse
// into one oracle call. Oracle failure degrades to neutral with confidence
// 0 and is not cached, so a later request retries.
func (s *Service) pairRelation(ctx context.Context, st *storage.Store, seed model.Idea, cand model.Neighbor, path []string) (pairJudgment, error) {
	cached, err := st.Relation(ctx, seed.ID, cand.ID)
	if err == nil {
		return pairJudgment{Label: cached.RelationLabel, Confidence: cached.Confidence}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return pairJudgment{}, err
	}

	key := fmt.Sprintf("%s:%s", seed.ID, cand.ID)
	v, err, _ := s.relCalls.Do(key, func() (any, error) {
		label, confidence, err := s.oracle.ClassifyRelation(ctx, seed.Text, cand.Text, path)
		if err != nil {
			s.logger.Warn("relation oracle failed, treating pair as neutral",
				"seed_id", seed.ID, "candidate_id", cand.ID, "error", err)
			return pairJudgment{Label: model.RelationNeutral, Confidence: 0}, nil
		}
		confidence = clamp01(confidence)
		if err := st.UpsertRelation(ctx, model.IdeaRelation{
			SrcID:         seed.ID,
			DstID:         cand.ID,
			RelationLabel: label,
			Confidence:    confidence,
		}); err != nil {
			return pairJudgment{}, err
		}
		return pairJudgment{Label: label, Confidence: confidence}, nil
	})
	if err != nil {
		return pairJudgment{}, err
	}
	return v.(pairJudgment), nil
}

// writeRelationEdges mirrors support/oppose judgments into the edge graph
// for candidates sharing the seed's level-1 topic, up to the per-node
// fanout bound. Weight blends confidence with similarity.
func (s *Service) writeRelationEdges(ctx context.Context, st *storage.Store, seed model.Idea, edgeType model.EdgeType, rows []model.Neighbor) error {
	if len(rows) == 0 {
		return nil
	}
	count, err := st.EdgeCountFrom(ctx, seed.ID)
	if err != nil {
		return err
	}
	for _, n := range rows {
		if count >= s.cfg.MaxEdgesPerNode {
			return nil
		}
		if n.TopicID == nil || seed.TopicID == nil || *n.TopicID != *seed.TopicID {
			continue
		}
		weight := clamp01(0.55*n.RelationConfidence + 0.45*n.Similarity)
		if err := st.UpsertEdgePair(ctx, model.Edge{
			Src:      seed.ID,
			Dst:      n.ID,
			EdgeType: edgeType,
			Weight:   weight,
		}); err != nil {
			return err
		}
		count++
	}
	return nil
}
