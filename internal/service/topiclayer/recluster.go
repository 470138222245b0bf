package topiclayer

import (
	"context"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/storage"
	"github.com/microknowledge/atlas/internal/vecmath"
)

// Recluster re-partitions every level-1 subtree whose subtopic assignment
// entropy is high enough to suggest the children no longer differentiate
// the members. Each subtree is processed in its own transaction; a failed
// subtree rolls back alone and the job moves on.
func (s *Service) Recluster(ctx context.Context) (model.ReclusterResult, error) {
	parents, err := s.db.Store().TopicsByLevel(ctx, model.TopicLevelRoot)
	if err != nil {
		return model.ReclusterResult{}, err
	}

	refreshed := 0
	for _, parent := range parents {
		var done bool
		err := s.db.InTx(ctx, func(st *storage.Store) error {
			var err error
			done, err = s.reclusterSubtree(ctx, st, parent)
			return err
		})
		if err != nil {
			s.logger.Error("recluster failed for topic, skipping",
				"topic_id", parent.ID, "topic", parent.Name, "error", err)
			continue
		}
		if done {
			refreshed++
		}
	}
	return model.ReclusterResult{TopicsRefreshed: refreshed}, nil
}

// reclusterSubtree rebuilds one level-1 subtree: gate on member count and
// entropy, run k-means over member embeddings, zero the old children, and
// reassign every member to a fresh child. Old child rows stay so idea
// back-references remain valid until reassignment lands.
func (s *Service) reclusterSubtree(ctx context.Context, st *storage.Store, parent model.Topic) (bool, error) {
	members, err := st.IdeasByTopic(ctx, parent.ID)
	if err != nil {
		return false, err
	}
	n := len(members)
	if n < s.cfg.ReclusterMinPoints {
		return false, nil
	}

	counts := make(map[string]int)
	for _, m := range members {
		key := ""
		if m.SubtopicID != nil {
			key = m.SubtopicID.String()
		}
		counts[key]++
	}
	if vecmath.Entropy(counts) < s.cfg.ReclusterEntropyThreshold {
		return false, nil
	}

	vecs := make([][]float32, n)
	for i, m := range members {
		if m.Embedding != nil {
			vecs[i] = m.Embedding.Slice()
		}
	}
	k := clusterCount(n)
	labels := vecmath.KMeans(vecs, k)

	if err := st.ZeroChildTopicPoints(ctx, parent.ID); err != nil {
		return false, err
	}

	children := make([]*model.Topic, k)
	for cluster := 0; cluster < k; cluster++ {
		var memberVecs [][]float32
		for i, l := range labels {
			if l == cluster {
				memberVecs = append(memberVecs, vecs[i])
			}
		}
		centroid := vecmath.Mean(memberVecs)
		if centroid == nil {
			centroid = vecs[0]
		}
		cv := pgvector.NewVector(centroid)
		child := &model.Topic{
			Level:         model.TopicLevelMid,
			Name:          fmt.Sprintf("%s / cluster %d", parent.Name, cluster+1),
			Centroid:      &cv,
			NPoints:       0,
			ParentTopicID: &parent.ID,
		}
		if err := st.InsertTopic(ctx, child); err != nil {
			return false, err
		}
		children[cluster] = child
	}

	for i, m := range members {
		child := children[labels[i]]
		if err := st.ReassignIdeaSubtopic(ctx, m.ID, child.ID, child.ID.String()); err != nil {
			return false, err
		}
		absorbMemberIntoChild(child, vecs[i], m.StanceLabel)
	}
	for _, child := range children {
		if child.Centroid == nil {
			continue
		}
		if err := st.UpdateTopicCentroid(ctx, child.ID, *child.Centroid, child.NPoints); err != nil {
			return false, err
		}
		if len(child.StanceCentroids) > 0 {
			if err := st.UpdateTopicStanceCentroids(ctx, child.ID, child.StanceCentroids); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// absorbMemberIntoChild folds one member embedding into the child's
// running-mean centroid and, for pro/con members, its stance bucket. All
// in memory; the caller persists each child once.
func absorbMemberIntoChild(child *model.Topic, embedding []float32, stance model.Stance) {
	if len(embedding) == 0 {
		return
	}
	var prior []float32
	if child.Centroid != nil {
		prior = child.Centroid.Slice()
	}
	updated := pgvector.NewVector(vecmath.RunningMean(prior, child.NPoints, embedding))
	child.Centroid = &updated
	child.NPoints++

	if stance != model.StancePro && stance != model.StanceCon {
		return
	}
	if child.StanceCentroids == nil {
		child.StanceCentroids = map[string]model.StanceBucket{}
	}
	key := string(stance)
	b, ok := child.StanceCentroids[key]
	if !ok || b.NPoints <= 0 || len(b.Centroid) == 0 {
		child.StanceCentroids[key] = model.StanceBucket{NPoints: 1, Centroid: embedding}
	} else {
		child.StanceCentroids[key] = model.StanceBucket{
			NPoints:  b.NPoints + 1,
			Centroid: vecmath.RunningMean(b.Centroid, b.NPoints, embedding),
		}
	}
}

// clusterCount picks k = clamp(round(sqrt(n/6)), 2, 8).
func clusterCount(n int) int {
	k := int(math.Round(math.Sqrt(float64(n) / 6)))
	if k < 2 {
		k = 2
	}
	if k > 8 {
		k = 8
	}
	return k
}

