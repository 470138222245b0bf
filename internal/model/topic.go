package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Topic levels. Level 1 is the broadest anchor, level 3 the leaf cluster.
const (
	TopicLevelRoot = 1
	TopicLevelMid  = 2
	TopicLevelLeaf = 3
)

// StanceBucket is a running mean over the embeddings of a topic's members
// that share one stance label.
type StanceBucket struct {
	NPoints  int       `json:"n_points"`
	Centroid []float32 `json:"centroid"`
}

// Topic is a node in the 3-level topic tree. The centroid is the running
// mean of all member-idea embeddings; NPoints is the count it was averaged
// over. Parent constraint: level 1 has no parent, level k>1 has a level k-1
// parent.
type Topic struct {
	ID              uuid.UUID               `json:"id"`
	Level           int                     `json:"level"`
	Name            string                  `json:"name"`
	Centroid        *pgvector.Vector        `json:"-"`
	NPoints         int                     `json:"n_points"`
	ParentTopicID   *uuid.UUID              `json:"parent_topic_id,omitempty"`
	StanceCentroids map[string]StanceBucket `json:"stance_centroids"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// StanceCentroid returns the stance-bucket centroid for the given label,
// or nil when the bucket is absent or empty. The legacy "contra" key is
// read as con.
func (t *Topic) StanceCentroid(stance Stance) []float32 {
	if t == nil || t.StanceCentroids == nil {
		return nil
	}
	if b, ok := t.StanceCentroids[string(stance)]; ok && len(b.Centroid) > 0 {
		return b.Centroid
	}
	if stance == StanceCon {
		if b, ok := t.StanceCentroids["contra"]; ok && len(b.Centroid) > 0 {
			return b.Centroid
		}
	}
	return nil
}

// StanceBucketFor returns the bucket for the given label (honoring the
// legacy "contra" alias for con) and whether it held any samples.
func (t *Topic) StanceBucketFor(stance Stance) (StanceBucket, bool) {
	if t.StanceCentroids == nil {
		return StanceBucket{}, false
	}
	if b, ok := t.StanceCentroids[string(stance)]; ok && b.NPoints > 0 && len(b.Centroid) > 0 {
		return b, true
	}
	if stance == StanceCon {
		if b, ok := t.StanceCentroids["contra"]; ok && b.NPoints > 0 && len(b.Centroid) > 0 {
			return b, true
		}
	}
	return StanceBucket{}, false
}
