package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/microknowledge/atlas/internal/model"
)

func (s *Server) registerTools() {
	// atlas_submit_idea: ingest one idea into the topic layer.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_submit_idea",
			mcplib.WithDescription(`Submit a short idea (one sentence, 5-320 characters) to the atlas.

The idea is embedded, placed into a three-level topic hierarchy, assigned
a stance (pro / neutral / con) relative to its topic, and linked to its
nearest neighbors. Submitting the same text twice returns the original
idea unchanged.

WHAT YOU GET BACK: the stored idea with its id, stance, and its level-1
and level-3 topic anchors. Use the id with the retrieval tools.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("text",
				mcplib.Description("The idea text. One short sentence, 5-320 characters."),
				mcplib.Required(),
			),
			mcplib.WithString("stance_hint",
				mcplib.Description("Optional stance hint (pro, neutral, con) used only when the topic has no stance geometry yet."),
			),
		),
		s.handleSubmitIdea,
	)

	// atlas_find_supportive: neighbors sharing the idea's stance.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_find_supportive",
			mcplib.WithDescription(`Find ideas that share the stance of a given idea, searched leaves-first
through the topic hierarchy (same leaf cluster before sibling clusters
before the whole topic).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("id",
				mcplib.Description("UUID of the seed idea"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of neighbors to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(8),
			),
		),
		s.handleFindSupportive,
	)

	// atlas_find_opposing: neighbors holding the opposite stance.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_find_opposing",
			mcplib.WithDescription(`Find ideas that oppose a given idea: same topic neighborhood, opposite
stance, re-ranked toward the opposing stance centroid. Neutral ideas have
no opposite and return an empty list.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("id",
				mcplib.Description("UUID of the seed idea"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of neighbors to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(8),
			),
		),
		s.handleFindOpposing,
	)

	// atlas_find_nearby: stance-agnostic neighbors.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_find_nearby",
			mcplib.WithDescription(`Find the ideas nearest to a given idea regardless of stance, searched
across the idea's related level-1 topic neighborhoods.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("id",
				mcplib.Description("UUID of the seed idea"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of neighbors to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(8),
			),
		),
		s.handleFindNearby,
	)

	// atlas_relation_buckets: LLM-verified supportive/opposing/neutral split.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_relation_buckets",
			mcplib.WithDescription(`Partition the neighborhood of an idea into supportive, opposing, and
neutral buckets. Each pair judgment comes from an LLM classifier and is
cached, so repeated calls are cheap.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("id",
				mcplib.Description("UUID of the seed idea"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum size of each bucket"),
				mcplib.Min(1),
				mcplib.Max(10),
				mcplib.DefaultNumber(3),
			),
			mcplib.WithNumber("candidate_pool",
				mcplib.Description("Number of nearest candidates to classify"),
				mcplib.Min(4),
				mcplib.Max(120),
				mcplib.DefaultNumber(24),
			),
		),
		s.handleRelationBuckets,
	)

	// atlas_topic_map: the compact topic-and-idea map.
	s.mcpServer.AddTool(
		mcplib.NewTool("atlas_topic_map",
			mcplib.WithDescription(`Fetch the compact atlas map: the full topic tree with hierarchy edges,
the most recent ideas, and the heaviest idea-to-idea edges.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("max_idea_edges",
				mcplib.Description("Maximum number of idea edges to include"),
				mcplib.Min(100),
				mcplib.Max(10000),
				mcplib.DefaultNumber(1000),
			),
		),
		s.handleTopicMap,
	)
}

func (s *Server) handleSubmitIdea(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}
	req := model.CreateIdeaRequest{Text: text}
	if hint := request.GetString("stance_hint", ""); hint != "" {
		req.Metadata = map[string]any{"stance_hint": hint}
	}
	resp, err := s.svc.Ingest(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleFindSupportive(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, result := seedID(request)
	if result != nil {
		return result, nil
	}
	neighbors, err := s.svc.Supportive(ctx, id, request.GetInt("top_k", 8))
	if err != nil {
		return errorResult(fmt.Sprintf("supportive lookup failed: %v", err)), nil
	}
	return jsonResult(model.NeighborsResponse{ID: id, Neighbors: neighbors}), nil
}

func (s *Server) handleFindOpposing(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, result := seedID(request)
	if result != nil {
		return result, nil
	}
	neighbors, err := s.svc.Opposing(ctx, id, request.GetInt("top_k", 8), -1)
	if err != nil {
		return errorResult(fmt.Sprintf("opposing lookup failed: %v", err)), nil
	}
	return jsonResult(model.NeighborsResponse{ID: id, Neighbors: neighbors}), nil
}

func (s *Server) handleFindNearby(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, result := seedID(request)
	if result != nil {
		return result, nil
	}
	neighbors, err := s.svc.Nearby(ctx, id, request.GetInt("top_k", 8))
	if err != nil {
		return errorResult(fmt.Sprintf("nearby lookup failed: %v", err)), nil
	}
	return jsonResult(model.NeighborsResponse{ID: id, Neighbors: neighbors}), nil
}

func (s *Server) handleRelationBuckets(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, result := seedID(request)
	if result != nil {
		return result, nil
	}
	resp, err := s.svc.RelationBuckets(ctx, id, request.GetInt("top_k", 3), request.GetInt("candidate_pool", 24))
	if err != nil {
		return errorResult(fmt.Sprintf("relation buckets failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleTopicMap(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	m, err := s.svc.Map(ctx, request.GetInt("max_idea_edges", 1000))
	if err != nil {
		return errorResult(fmt.Sprintf("map failed: %v", err)), nil
	}
	return jsonResult(m), nil
}

// seedID parses the required id argument, returning a tool error result
// when missing or malformed.
func seedID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString("id", "")
	if raw == "" {
		return uuid.Nil, errorResult("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult("id must be a UUID")
	}
	return id, nil
}
