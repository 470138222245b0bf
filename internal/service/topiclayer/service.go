// Package topiclayer implements the topic-and-stance layer: hierarchical
// topic assignment with incremental centroid maintenance, centroid-based
// stance classification, stance-aware neighbor retrieval, LLM-verified
// relation edges with caching, and entropy-gated subtree rebalancing.
package topiclayer

import (
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/microknowledge/atlas/internal/config"
	"github.com/microknowledge/atlas/internal/service/embedding"
	"github.com/microknowledge/atlas/internal/service/oracle"
	"github.com/microknowledge/atlas/internal/storage"
)

// ErrInvalidLength is returned when normalized text falls outside the
// 5..320 character range.
var ErrInvalidLength = errors.New("topiclayer: text length out of range")

// ErrOracle wraps embedding or LLM failures so the transport layer can map
// them to a 502.
var ErrOracle = errors.New("topiclayer: oracle failure")

// Service orchestrates ingestion, retrieval, and rebalancing over the
// storage, embedding, and oracle boundaries.
type Service struct {
	db       *storage.DB
	embedder embedding.Provider
	oracle   oracle.Client
	cfg      config.Config
	logger   *slog.Logger

	// relCalls collapses concurrent identical pair-relation oracle calls.
	relCalls singleflight.Group
}

// New creates the topic layer service.
func New(db *storage.DB, embedder embedding.Provider, oc oracle.Client, cfg config.Config, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		embedder: embedder,
		oracle:   oc,
		cfg:      cfg,
		logger:   logger,
	}
}
