package model

import (
	"github.com/google/uuid"
)

// Error codes returned in the HTTP error body.
const (
	ErrCodeInvalidLength = "INVALID_LENGTH"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeOracleError   = "ORACLE_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// APIError is the error response body.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateIdeaRequest is the body for POST /ideas.
type CreateIdeaRequest struct {
	Text     string         `json:"text"`
	UserID   *uuid.UUID     `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata_json,omitempty"`
}

// CreateIdeaResponse returns the ingested idea with its level-1 and
// level-3 anchors.
type CreateIdeaResponse struct {
	Node     Idea   `json:"node"`
	Topic    *Topic `json:"topic"`
	Subtopic *Topic `json:"subtopic"`
}

// NeighborsResponse is the body for the neighbor retrieval endpoints.
type NeighborsResponse struct {
	ID        uuid.UUID  `json:"id"`
	Neighbors []Neighbor `json:"neighbors"`
}

// RelationBucketsResponse is the body for GET /relations.
type RelationBucketsResponse struct {
	ID         uuid.UUID  `json:"id"`
	Supportive []Neighbor `json:"supportive"`
	Opposing   []Neighbor `json:"opposing"`
	Neutral    []Neighbor `json:"neutral"`
}

// TopicMap is the body for GET /map: the topic tree, hierarchy edges, the
// most recent ideas, and the top-weighted idea edges.
type TopicMap struct {
	Topics     []Topic   `json:"topics"`
	TopicEdges []Edge    `json:"topic_edges"`
	Ideas      []MapIdea `json:"ideas"`
	Edges      []Edge    `json:"edges"`
}

// MapIdea is the compact idea projection used in the map view.
type MapIdea struct {
	ID          uuid.UUID  `json:"id"`
	Text        string     `json:"text"`
	TopicID     *uuid.UUID `json:"topic_id"`
	SubtopicID  *uuid.UUID `json:"subtopic_id"`
	StanceLabel Stance     `json:"stance_label"`
}

// ReclusterResult is the body for POST /jobs/recluster.
type ReclusterResult struct {
	TopicsRefreshed int `json:"topics_refreshed"`
}
