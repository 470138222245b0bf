package topiclayer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/service/oracle"
	"github.com/microknowledge/atlas/internal/storage"
)

// errDuplicateRace signals that a concurrent ingest of the same text won
// the unique-index race; the caller re-reads the surviving row.
var errDuplicateRace = errors.New("topiclayer: duplicate race")

// Ingest runs the full pipeline for one idea: normalization, duplicate
// detection, embedding, hierarchy assignment, stance assignment, persist,
// and neighbor similarity edges. All writes for the request happen in one
// transaction.
func (s *Service) Ingest(ctx context.Context, req model.CreateIdeaRequest) (model.CreateIdeaResponse, error) {
	text, err := NormalizeText(req.Text)
	if err != nil {
		return model.CreateIdeaResponse{}, err
	}
	key := TextKey(text)

	existing, err := s.db.Store().IdeaByTextKey(ctx, key)
	if err == nil {
		resp, anchored, derr := s.duplicateResponse(ctx, existing, req.Metadata)
		if derr != nil {
			return model.CreateIdeaResponse{}, derr
		}
		if anchored {
			return resp, nil
		}
		// Legacy row without hierarchy anchors: run the regular routing
		// path over it instead of echoing the bare row back.
		return s.reanchorIdea(ctx, resp.Node, req)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.CreateIdeaResponse{}, err
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return model.CreateIdeaResponse{}, fmt.Errorf("%w: embed: %v", ErrOracle, err)
	}
	hier, err := s.oracle.ClassifyHierarchy(ctx, text)
	if err != nil {
		return model.CreateIdeaResponse{}, fmt.Errorf("%w: classify hierarchy: %v", ErrOracle, err)
	}

	var resp model.CreateIdeaResponse
	err = s.db.InTx(ctx, func(st *storage.Store) error {
		p, err := s.placeIdea(ctx, st, embedding, hier, req.Metadata)
		if err != nil {
			return err
		}

		idea := model.Idea{
			UserID:           req.UserID,
			Text:             text,
			Embedding:        &embedding,
			TopicID:          &p.level1.ID,
			SubtopicID:       &p.level3.ID,
			ClusterID:        p.level3.ID.String(),
			StanceLabel:      p.stance,
			StanceConfidence: abs(p.score),
			Metadata:         p.metadata,
		}
		if err := st.InsertIdea(ctx, &idea); err != nil {
			if storage.IsUniqueViolation(err) {
				return errDuplicateRace
			}
			return err
		}

		if err := s.linkNeighbors(ctx, st, idea, embedding, p.level1.ID, p.level2.ID, p.level3.ID); err != nil {
			return err
		}

		resp = model.CreateIdeaResponse{Node: idea, Topic: p.level1, Subtopic: p.level3}
		return nil
	})
	if errors.Is(err, errDuplicateRace) {
		survivor, rerr := s.db.Store().IdeaByTextKey(ctx, key)
		if rerr != nil {
			return model.CreateIdeaResponse{}, rerr
		}
		resp, anchored, derr := s.duplicateResponse(ctx, survivor, req.Metadata)
		if derr != nil {
			return model.CreateIdeaResponse{}, derr
		}
		if anchored {
			return resp, nil
		}
		return s.reanchorIdea(ctx, resp.Node, req)
	}
	if err != nil {
		return model.CreateIdeaResponse{}, err
	}
	return resp, nil
}

// placement is one resolved hierarchy assignment for an embedding: the three
// topic rows, the stance verdict, and the metadata to persist.
type placement struct {
	level1, level2, level3 *model.Topic
	stance                 model.Stance
	score                  float64
	metadata               map[string]any
}

// placeIdea upserts the three hierarchy levels for an embedding, assigns a
// stance, folds the embedding into the leaf's stance bucket, and builds the
// idea metadata. Caller-supplied metadata keys win over the computed ones.
func (s *Service) placeIdea(ctx context.Context, st *storage.Store, embedding pgvector.Vector, hier oracle.Hierarchy, reqMeta map[string]any) (placement, error) {
	level1, err := s.upsertTopicLevel(ctx, st, embedding, model.TopicLevelRoot, hier.Level1, nil, s.cfg.TopicSimilarityThreshold)
	if err != nil {
		return placement{}, err
	}
	level2, err := s.upsertTopicLevel(ctx, st, embedding, model.TopicLevelMid, hier.Level2, &level1.ID, s.cfg.SubtopicSimilarityThreshold)
	if err != nil {
		return placement{}, err
	}
	level3, err := s.upsertTopicLevel(ctx, st, embedding, model.TopicLevelLeaf, hier.Level3, &level2.ID, s.cfg.SubtopicSimilarityThreshold)
	if err != nil {
		return placement{}, err
	}

	stance, score := s.assignStance(embedding.Slice(), level3, level2, reqMeta)
	if err := s.updateStanceCentroid(ctx, st, level3, embedding.Slice(), stance); err != nil {
		return placement{}, err
	}

	metadata := map[string]any{
		"stance_score":   score,
		"mid_topic_id":   level2.ID.String(),
		"topic_path":     []any{level1.Name, level2.Name, level3.Name},
		"level1":         hier.Level1,
		"level2":         hier.Level2,
		"level3":         hier.Level3,
		"retrieval_mode": "topic_cosine_only",
	}
	for k, v := range reqMeta {
		metadata[k] = v
	}

	return placement{level1: level1, level2: level2, level3: level3, stance: stance, score: score, metadata: metadata}, nil
}

// reanchorIdea routes a surviving row that predates the topic hierarchy
// through the regular pipeline, rewriting it in place. The stored text is
// kept; only placement, stance, and metadata change.
func (s *Service) reanchorIdea(ctx context.Context, existing model.Idea, req model.CreateIdeaRequest) (model.CreateIdeaResponse, error) {
	embedding, err := s.embedder.Embed(ctx, existing.Text)
	if err != nil {
		return model.CreateIdeaResponse{}, fmt.Errorf("%w: embed: %v", ErrOracle, err)
	}
	hier, err := s.oracle.ClassifyHierarchy(ctx, existing.Text)
	if err != nil {
		return model.CreateIdeaResponse{}, fmt.Errorf("%w: classify hierarchy: %v", ErrOracle, err)
	}

	var resp model.CreateIdeaResponse
	err = s.db.InTx(ctx, func(st *storage.Store) error {
		p, err := s.placeIdea(ctx, st, embedding, hier, req.Metadata)
		if err != nil {
			return err
		}

		metadata := make(map[string]any, len(existing.Metadata)+len(p.metadata))
		for k, v := range existing.Metadata {
			metadata[k] = v
		}
		for k, v := range p.metadata {
			metadata[k] = v
		}

		idea := existing
		idea.Embedding = &embedding
		idea.TopicID = &p.level1.ID
		idea.SubtopicID = &p.level3.ID
		idea.ClusterID = p.level3.ID.String()
		idea.StanceLabel = p.stance
		idea.StanceConfidence = abs(p.score)
		idea.Metadata = metadata
		if err := st.UpdateIdeaPlacement(ctx, &idea); err != nil {
			return err
		}

		if err := s.linkNeighbors(ctx, st, idea, embedding, p.level1.ID, p.level2.ID, p.level3.ID); err != nil {
			return err
		}

		resp = model.CreateIdeaResponse{Node: idea, Topic: p.level1, Subtopic: p.level3}
		return nil
	})
	if err != nil {
		return model.CreateIdeaResponse{}, err
	}
	return resp, nil
}

// duplicateResponse merges incoming metadata into the surviving row and
// returns it with its anchors. No embedding or oracle calls. A missing
// level-1 anchor is recovered from the subtopic's parent; when neither
// anchor resolves the row is reported unanchored so the caller can route
// it through the pipeline again.
func (s *Service) duplicateResponse(ctx context.Context, idea model.Idea, meta map[string]any) (model.CreateIdeaResponse, bool, error) {
	st := s.db.Store()
	if len(meta) > 0 {
		if err := st.MergeIdeaMetadata(ctx, idea.ID, meta); err != nil {
			return model.CreateIdeaResponse{}, false, err
		}
		if idea.Metadata == nil {
			idea.Metadata = map[string]any{}
		}
		for k, v := range meta {
			idea.Metadata[k] = v
		}
	}
	topic, err := s.topicByIDPtr(ctx, st, idea.TopicID)
	if err != nil {
		return model.CreateIdeaResponse{}, false, err
	}
	subtopic, err := s.topicByIDPtr(ctx, st, idea.SubtopicID)
	if err != nil {
		return model.CreateIdeaResponse{}, false, err
	}
	if topic == nil && subtopic != nil && subtopic.ParentTopicID != nil {
		topic, err = s.topicByIDPtr(ctx, st, subtopic.ParentTopicID)
		if err != nil {
			return model.CreateIdeaResponse{}, false, err
		}
	}
	if topic == nil || subtopic == nil {
		return model.CreateIdeaResponse{Node: idea}, false, nil
	}
	return model.CreateIdeaResponse{Node: idea, Topic: topic, Subtopic: subtopic}, true, nil
}

// linkNeighbors writes mirrored similarity edges to the new idea's nearest
// neighbors across three hierarchy scopes, tightest first. Candidates are
// deduped by id in scope order; widening stops once the deduped set reaches
// the per-scope quota, so wider scopes never displace tighter ones. The
// merged set is ranked by similarity and capped at the configured fanout.
func (s *Service) linkNeighbors(ctx context.Context, st *storage.Store, idea model.Idea, embedding pgvector.Vector, level1ID, level2ID, level3ID uuid.UUID) error {
	perScope := s.cfg.TopicNeighborTopK
	if perScope < 6 {
		perScope = 6
	}

	scopes := []storage.IdeaFilters{
		{SubtopicID: &level3ID},
		{TopicIDs: []uuid.UUID{level1ID}, MidTopicID: level2ID.String()},
		{TopicIDs: []uuid.UUID{level1ID}},
	}

	seen := make(map[uuid.UUID]bool)
	var candidates []model.Neighbor
	for _, scope := range scopes {
		rows, err := st.NearestIdeas(ctx, embedding, idea.ID, perScope, scope)
		if err != nil {
			return err
		}
		for _, n := range rows {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			candidates = append(candidates, n)
		}
		if len(candidates) >= perScope {
			break
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	limit := s.cfg.TopicNeighborTopK
	if limit > s.cfg.MaxEdgesPerNode {
		limit = s.cfg.MaxEdgesPerNode
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, n := range candidates {
		weight := n.Similarity
		if weight < 0.01 {
			weight = 0.01
		}
		edge := model.Edge{
			Src:      idea.ID,
			Dst:      n.ID,
			EdgeType: model.EdgeIdeaSimilarity,
			Weight:   weight,
		}
		if err := st.UpsertEdgePair(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}
