// Package model defines the core entities of the atlas topic layer:
// ideas, topics, edges, relations, and the HTTP API shapes.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Stance is the ternary position an idea takes against its topic.
type Stance string

const (
	StancePro     Stance = "pro"
	StanceNeutral Stance = "neutral"
	StanceCon     Stance = "con"
)

// NormalizeStance maps free-form stance strings (LLM hints, legacy rows)
// onto the canonical label set. Unknown values become neutral.
func NormalizeStance(raw string) Stance {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "con", "contra", "against", "opposed":
		return StanceCon
	case "pro", "support", "supportive", "in favor":
		return StancePro
	default:
		return StanceNeutral
	}
}

// Opposite returns the opposing stance. Neutral has no opposite and maps
// to itself; callers treat that as "no opposing candidates".
func (s Stance) Opposite() Stance {
	switch s {
	case StancePro:
		return StanceCon
	case StanceCon:
		return StancePro
	default:
		return StanceNeutral
	}
}

// Idea is a short user-submitted sentence, the unit of ingestion and
// retrieval. Anchors reference the level-1 topic (TopicID) and the level-3
// leaf (SubtopicID); the level-2 id lives in Metadata["mid_topic_id"].
type Idea struct {
	ID               uuid.UUID        `json:"id"`
	UserID           *uuid.UUID       `json:"user_id,omitempty"`
	Text             string           `json:"text"`
	Embedding        *pgvector.Vector `json:"-"`
	TopicID          *uuid.UUID       `json:"topic_id,omitempty"`
	SubtopicID       *uuid.UUID       `json:"subtopic_id,omitempty"`
	ClusterID        string           `json:"cluster_id"`
	StanceLabel      Stance           `json:"stance_label"`
	StanceConfidence float64          `json:"stance_confidence"`
	Metadata         map[string]any   `json:"metadata"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Neighbor is a retrieval candidate: an idea row joined with its cosine
// similarity to the seed embedding. The embedding is carried for in-process
// re-ranking and never serialized.
type Neighbor struct {
	ID          uuid.UUID        `json:"id"`
	Text        string           `json:"text"`
	TopicID     *uuid.UUID       `json:"topic_id,omitempty"`
	SubtopicID  *uuid.UUID       `json:"subtopic_id,omitempty"`
	StanceLabel Stance           `json:"stance_label"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Similarity  float64          `json:"similarity"`
	Embedding   *pgvector.Vector `json:"-"`

	// Populated only by relation-bucket retrieval.
	RelationLabel      RelationLabel `json:"relation_label,omitempty"`
	RelationConfidence float64       `json:"relation_confidence,omitempty"`
}
