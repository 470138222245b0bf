package topiclayer

import (
	"context"

	"github.com/microknowledge/atlas/internal/model"
)

// mapIdeaLimit caps the recent-idea slice in the map view.
const mapIdeaLimit = 1000

// Topics lists every topic with its level, counts, parent, and stance
// centroids.
func (s *Service) Topics(ctx context.Context) ([]model.Topic, error) {
	return s.db.Store().ListTopics(ctx)
}

// Map assembles the compact atlas view: the topic tree, parent-child
// hierarchy edges at weight 1.0, the most recent anchored ideas, and the
// heaviest idea-to-idea edges up to maxIdeaEdges.
func (s *Service) Map(ctx context.Context, maxIdeaEdges int) (model.TopicMap, error) {
	st := s.db.Store()

	topics, err := st.ListTopics(ctx)
	if err != nil {
		return model.TopicMap{}, err
	}
	topicEdges := make([]model.Edge, 0, len(topics))
	for _, t := range topics {
		if t.ParentTopicID == nil {
			continue
		}
		topicEdges = append(topicEdges, model.Edge{
			Src:      *t.ParentTopicID,
			Dst:      t.ID,
			EdgeType: model.EdgeTopicHierarchy,
			Weight:   1.0,
		})
	}

	ideas, err := st.RecentIdeas(ctx, mapIdeaLimit)
	if err != nil {
		return model.TopicMap{}, err
	}
	edges, err := st.TopEdges(ctx, maxIdeaEdges)
	if err != nil {
		return model.TopicMap{}, err
	}

	return model.TopicMap{
		Topics:     topics,
		TopicEdges: topicEdges,
		Ideas:      ideas,
		Edges:      edges,
	}, nil
}
