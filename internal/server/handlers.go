package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/service/topiclayer"
	"github.com/microknowledge/atlas/internal/storage"
)

// TopicService is the service surface the HTTP layer depends on.
// Satisfied by *topiclayer.Service and by in-process fakes in tests.
type TopicService interface {
	Ingest(ctx context.Context, req model.CreateIdeaRequest) (model.CreateIdeaResponse, error)
	Supportive(ctx context.Context, ideaID uuid.UUID, topK int) ([]model.Neighbor, error)
	Opposing(ctx context.Context, ideaID uuid.UUID, topK int, alpha float64) ([]model.Neighbor, error)
	Nearby(ctx context.Context, ideaID uuid.UUID, topK int) ([]model.Neighbor, error)
	RelationBuckets(ctx context.Context, ideaID uuid.UUID, topK, candidatePool int) (model.RelationBucketsResponse, error)
	Topics(ctx context.Context) ([]model.Topic, error)
	Map(ctx context.Context, maxIdeaEdges int) (model.TopicMap, error)
	Recluster(ctx context.Context) (model.ReclusterResult, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db      *storage.DB
	svc     TopicService
	logger  *slog.Logger
	version string

	defaultTopK int
}

// HandlersDeps configures a Handlers.
type HandlersDeps struct {
	DB          *storage.DB
	Service     TopicService
	Logger      *slog.Logger
	Version     string
	DefaultTopK int
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	topK := deps.DefaultTopK
	if topK <= 0 {
		topK = 8
	}
	return &Handlers{
		db:          deps.DB,
		svc:         deps.Service,
		logger:      deps.Logger,
		version:     deps.Version,
		defaultTopK: topK,
	}
}

// HandleCreateIdea ingests one idea.
// POST /ideas
func (h *Handlers) HandleCreateIdea(w http.ResponseWriter, r *http.Request) {
	var req model.CreateIdeaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	resp, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSupportive returns neighbors sharing the seed's stance.
// GET /supportive?id=<uuid>&top_k=<1..100>
func (h *Handlers) HandleSupportive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaIDParam(w, r)
	if !ok {
		return
	}
	topK := clampIntParam(r, "top_k", h.defaultTopK, 1, 100)
	neighbors, err := h.svc.Supportive(r.Context(), id, topK)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NeighborsResponse{ID: id, Neighbors: emptyIfNil(neighbors)})
}

// HandleOpposing returns neighbors holding the opposite stance.
// GET /opposing?id=<uuid>&top_k=<1..100>&alpha=<0..1>
func (h *Handlers) HandleOpposing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaIDParam(w, r)
	if !ok {
		return
	}
	topK := clampIntParam(r, "top_k", h.defaultTopK, 1, 100)
	alpha := clampFloatParam(r, "alpha", -1, 0, 1)
	neighbors, err := h.svc.Opposing(r.Context(), id, topK, alpha)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NeighborsResponse{ID: id, Neighbors: emptyIfNil(neighbors)})
}

// HandleNearby returns stance-agnostic neighbors from related level-1
// neighborhoods.
// GET /nearby?id=<uuid>&top_k=<1..100> and GET /neighbors (alias)
func (h *Handlers) HandleNearby(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaIDParam(w, r)
	if !ok {
		return
	}
	topK := clampIntParam(r, "top_k", h.defaultTopK, 1, 100)
	neighbors, err := h.svc.Nearby(r.Context(), id, topK)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NeighborsResponse{ID: id, Neighbors: emptyIfNil(neighbors)})
}

// HandleRelations partitions the seed's neighborhood into supportive,
// opposing, and neutral buckets via the relation oracle.
// GET /relations?id=<uuid>&top_k=<1..10>&candidate_pool=<4..120>
func (h *Handlers) HandleRelations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaIDParam(w, r)
	if !ok {
		return
	}
	topK := clampIntParam(r, "top_k", 3, 1, 10)
	pool := clampIntParam(r, "candidate_pool", 24, 4, 120)
	resp, err := h.svc.RelationBuckets(r.Context(), id, topK, pool)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTopics lists all topics.
// GET /topics
func (h *Handlers) HandleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.svc.Topics(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if topics == nil {
		topics = []model.Topic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// HandleMap returns the compact atlas view.
// GET /map?max_idea_edges=<100..10000>
func (h *Handlers) HandleMap(w http.ResponseWriter, r *http.Request) {
	maxEdges := clampIntParam(r, "max_idea_edges", 1000, 100, 10000)
	m, err := h.svc.Map(r.Context(), maxEdges)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleRecluster triggers the rebalance job.
// POST /jobs/recluster
func (h *Handlers) HandleRecluster(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Recluster(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleHealth reports readiness, including database connectivity.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "version": h.version})
}

// ideaIDParam parses the required id query parameter. Writes a 400 and
// returns false when missing or malformed.
func (h *Handlers) ideaIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "missing id parameter")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service errors onto HTTP statuses: validation
// failures to 400, missing ideas to 404, oracle failures to 502, and
// everything else to 500.
func (h *Handlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, topiclayer.ErrInvalidLength):
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidLength, "text must be 5-320 characters after normalization")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "idea not found")
	case errors.Is(err, topiclayer.ErrOracle):
		h.logger.Error("oracle failure", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusBadGateway, model.ErrCodeOracleError, "embedding or classification backend failed")
	default:
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// clampIntParam parses an integer query parameter, clamping into
// [minVal, maxVal]. Missing or malformed values yield the default.
func clampIntParam(r *http.Request, name string, def, minVal, maxVal int) int {
	v := def
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			v = n
		}
	}
	if v < minVal {
		v = minVal
	}
	if v > maxVal {
		v = maxVal
	}
	return v
}

// clampFloatParam parses a float query parameter, clamping into
// [minVal, maxVal]. Missing or malformed values yield the default, which
// is not clamped (a sentinel default may sit outside the range).
func clampFloatParam(r *http.Request, name string, def, minVal, maxVal float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if f < minVal {
		f = minVal
	}
	if f > maxVal {
		f = maxVal
	}
	return f
}

func emptyIfNil(rows []model.Neighbor) []model.Neighbor {
	if rows == nil {
		return []model.Neighbor{}
	}
	return rows
}
