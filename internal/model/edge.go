package model

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType enumerates the typed graph edges between nodes.
type EdgeType string

const (
	EdgeIdeaSimilarity EdgeType = "idea_similarity"
	EdgeSupport        EdgeType = "support"
	EdgeOppose         EdgeType = "oppose"
	EdgeTopicHierarchy EdgeType = "topic_hierarchy"
)

// Edge is a weighted directed edge between two nodes. Similarity and
// relation edges are mirrored: both directions are written together.
type Edge struct {
	Src       uuid.UUID `json:"src_id"`
	Dst       uuid.UUID `json:"dst_id"`
	EdgeType  EdgeType  `json:"edge_type"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// RelationLabel is the oracle's judgment of how a candidate idea relates
// to a seed idea.
type RelationLabel string

const (
	RelationSupport RelationLabel = "support"
	RelationOppose  RelationLabel = "oppose"
	RelationNeutral RelationLabel = "neutral"
)

// NormalizeRelation clamps a free-form label to the allowed set.
func NormalizeRelation(raw string) RelationLabel {
	switch RelationLabel(raw) {
	case RelationSupport, RelationOppose:
		return RelationLabel(raw)
	default:
		return RelationNeutral
	}
}

// IdeaRelation is a directed cache entry of the LLM pair judgment for
// (src, dst). Symmetric semantics are not assumed; each direction may be
// computed independently.
type IdeaRelation struct {
	SrcID         uuid.UUID     `json:"src_id"`
	DstID         uuid.UUID     `json:"dst_id"`
	RelationLabel RelationLabel `json:"relation_label"`
	Confidence    float64       `json:"confidence"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
