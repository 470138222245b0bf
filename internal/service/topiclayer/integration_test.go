package topiclayer_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microknowledge/atlas/internal/config"
	"github.com/microknowledge/atlas/internal/model"
	"github.com/microknowledge/atlas/internal/service/oracle"
	"github.com/microknowledge/atlas/internal/service/topiclayer"
	"github.com/microknowledge/atlas/internal/storage"
	"github.com/microknowledge/atlas/internal/testutil"
)

// testDim matches the vector width in the schema.
const testDim = 1536

var (
	testDB     *storage.DB
	testSvc    *topiclayer.Service
	testEmbeds *fakeEmbedder
	testOracle *fakeOracle
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	logger := testutil.TestLogger()
	var err error
	testDB, err = tc.NewTestDB(context.Background(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "test db: %v\n", err)
		os.Exit(1)
	}

	testEmbeds = &fakeEmbedder{vecs: map[string][]float32{}}
	testOracle = &fakeOracle{
		hierarchies: map[string]oracle.Hierarchy{},
		relations:   map[string]relAnswer{},
	}

	cfg := config.Config{
		EmbeddingDim:                testDim,
		TopicSimilarityThreshold:    0.62,
		SubtopicSimilarityThreshold: 0.70,
		TopicNeighborTopK:           8,
		StanceConfidenceMargin:      0.04,
		OpposingAlpha:               0.65,
		FallbackSimilarityFloor:     0.33,
		RetrievalCandidatePool:      600,
		ReclusterMinPoints:          24,
		ReclusterEntropyThreshold:   1.05,
		MaxEdgesPerNode:             12,
	}
	testSvc = topiclayer.New(testDB, testEmbeds, testOracle, cfg, logger)

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

// fakeEmbedder serves registered vectors by normalized text and falls back
// to a deterministic hash axis for anything unregistered.
type fakeEmbedder struct {
	mu   sync.Mutex
	vecs map[string][]float32
}

func (f *fakeEmbedder) register(t *testing.T, text string, vec []float32) string {
	t.Helper()
	normalized, err := topiclayer.NormalizeText(text)
	require.NoError(t, err)
	f.mu.Lock()
	f.vecs[normalized] = vec
	f.mu.Unlock()
	return normalized
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vecs[text]; ok {
		return pgvector.NewVector(v), nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return pgvector.NewVector(axisVec(512+int(h.Sum32())%(testDim-512), 1)), nil
}

func (f *fakeEmbedder) Dimensions() int { return testDim }

type relAnswer struct {
	label      model.RelationLabel
	confidence float64
}

// fakeOracle answers from registered fixtures and counts relation calls.
type fakeOracle struct {
	mu            sync.Mutex
	hierarchies   map[string]oracle.Hierarchy
	relations     map[string]relAnswer
	relationCalls int
}

func (f *fakeOracle) registerHierarchy(text string, h oracle.Hierarchy) {
	f.mu.Lock()
	f.hierarchies[text] = h
	f.mu.Unlock()
}

func (f *fakeOracle) registerRelation(seedText, candText string, label model.RelationLabel, confidence float64) {
	f.mu.Lock()
	f.relations[seedText+"|"+candText] = relAnswer{label: label, confidence: confidence}
	f.mu.Unlock()
}

func (f *fakeOracle) relationCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relationCalls
}

func (f *fakeOracle) ClassifyHierarchy(_ context.Context, text string) (oracle.Hierarchy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.hierarchies[text]; ok {
		return h, nil
	}
	return oracle.Hierarchy{Level1: "general", Level2: "general", Level3: "general"}, nil
}

func (f *fakeOracle) ClassifyRelation(_ context.Context, seedText, candText string, _ []string) (model.RelationLabel, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationCalls++
	if a, ok := f.relations[seedText+"|"+candText]; ok {
		return a.label, a.confidence, nil
	}
	return model.RelationNeutral, 0.5, nil
}

func (f *fakeOracle) SelectParentTopic(context.Context, string, string, []oracle.TopicCandidate) (string, error) {
	return oracle.ParentNew, nil
}

// axisVec returns a testDim vector with a single non-zero component.
func axisVec(axis int, weight float32) []float32 {
	v := make([]float32, testDim)
	v[axis] = weight
	return v
}

// blendVec builds a testDim vector from (axis, weight) pairs.
func blendVec(pairs ...float32) []float32 {
	v := make([]float32, testDim)
	for i := 0; i+1 < len(pairs); i += 2 {
		v[int(pairs[i])] = pairs[i+1]
	}
	return v
}

func ingest(t *testing.T, text string, meta map[string]any) model.CreateIdeaResponse {
	t.Helper()
	resp, err := testSvc.Ingest(context.Background(), model.CreateIdeaRequest{Text: text, Metadata: meta})
	require.NoError(t, err)
	return resp
}

func TestIngest_InvalidLength(t *testing.T) {
	_, err := testSvc.Ingest(context.Background(), model.CreateIdeaRequest{Text: "hi"})
	assert.ErrorIs(t, err, topiclayer.ErrInvalidLength)

	_, err = testSvc.Ingest(context.Background(), model.CreateIdeaRequest{Text: ""})
	assert.ErrorIs(t, err, topiclayer.ErrInvalidLength)
}

func TestIngest_ColdStartStanceHint(t *testing.T) {
	text := "Taxes on sugary drinks are unfair to consumers."
	normalized := testEmbeds.register(t, text, axisVec(100, 1))
	testOracle.registerHierarchy(normalized, oracle.Hierarchy{Level1: "policy", Level2: "tax policy", Level3: "sugar tax"})

	resp := ingest(t, text, map[string]any{"stance_hint": "con"})

	assert.Equal(t, model.StanceCon, resp.Node.StanceLabel)
	assert.Zero(t, resp.Node.StanceConfidence)
	require.NotNil(t, resp.Topic)
	assert.Equal(t, "policy", resp.Topic.Name)
	assert.Equal(t, 1, resp.Topic.NPoints)
	require.NotNil(t, resp.Subtopic)
	assert.Equal(t, "sugar tax", resp.Subtopic.Name)
	assert.Equal(t, resp.Subtopic.ID.String(), resp.Node.ClusterID)

	// The leaf's con bucket was seeded with this embedding.
	leaf, err := testDB.Store().TopicByID(context.Background(), resp.Subtopic.ID)
	require.NoError(t, err)
	bucket, ok := leaf.StanceBucketFor(model.StanceCon)
	require.True(t, ok)
	assert.Equal(t, 1, bucket.NPoints)
}

func TestIngest_DuplicateIdempotence(t *testing.T) {
	text := "Remote work increases productivity"
	normalized := testEmbeds.register(t, text, axisVec(110, 1))
	testOracle.registerHierarchy(normalized, oracle.Hierarchy{Level1: "work", Level2: "remote work", Level3: "remote productivity"})

	first := ingest(t, text, map[string]any{"source": "a"})
	second := ingest(t, text, map[string]any{"source": "b"})

	assert.Equal(t, first.Node.ID, second.Node.ID)
	assert.Equal(t, first.Node.CreatedAt, second.Node.CreatedAt)
	require.NotNil(t, second.Topic)
	assert.Equal(t, first.Topic.ID, second.Topic.ID)
	assert.Equal(t, first.Subtopic.ID, second.Subtopic.ID)

	// The duplicate neither embeds nor touches centroids.
	assert.Equal(t, 1, second.Topic.NPoints)

	// Incoming metadata keys overwrite on the surviving row.
	assert.Equal(t, "b", second.Node.Metadata["source"])

	// The database-level unique expression index backs the same key.
	dup := model.Idea{Text: "Remote   work increases productivity!", StanceLabel: model.StanceNeutral, Metadata: map[string]any{}}
	err := testDB.Store().InsertIdea(context.Background(), &dup)
	require.Error(t, err)
	assert.True(t, storage.IsUniqueViolation(err))
}

func TestIngest_MetadataKeysAndPrecedence(t *testing.T) {
	ctx := context.Background()
	text := "Public libraries deserve more municipal funding."
	normalized := testEmbeds.register(t, text, axisVec(160, 1))
	testOracle.registerHierarchy(normalized, oracle.Hierarchy{Level1: "civics", Level2: "public services", Level3: "library funding"})

	resp := ingest(t, text, map[string]any{"stance_score": "caller wins", "lang": "en"})

	meta := resp.Node.Metadata
	assert.Equal(t, "caller wins", meta["stance_score"], "caller keys overwrite computed ones")
	assert.Equal(t, "en", meta["lang"])
	assert.Equal(t, "civics", meta["level1"])
	assert.Equal(t, "public services", meta["level2"])
	assert.Equal(t, "library funding", meta["level3"])
	assert.Equal(t, "topic_cosine_only", meta["retrieval_mode"])
	assert.Equal(t, []any{"civics", "public services", "library funding"}, meta["topic_path"])
	require.NotNil(t, resp.Subtopic)
	require.NotNil(t, resp.Subtopic.ParentTopicID)
	assert.Equal(t, resp.Subtopic.ParentTopicID.String(), meta["mid_topic_id"])

	row, err := testDB.Store().IdeaByID(ctx, resp.Node.ID)
	require.NoError(t, err)
	assert.Equal(t, "caller wins", row.Metadata["stance_score"])
	assert.Equal(t, "topic_cosine_only", row.Metadata["retrieval_mode"])
}

func TestIngest_LegacyRowReanchored(t *testing.T) {
	ctx := context.Background()
	text := "Street trees cool neighborhoods in summer."
	normalized := testEmbeds.register(t, text, axisVec(165, 1))
	testOracle.registerHierarchy(normalized, oracle.Hierarchy{Level1: "urbanism", Level2: "green space", Level3: "street trees"})

	// A row from before the hierarchy existed: no embedding, no anchors.
	legacy := model.Idea{Text: normalized, StanceLabel: model.StanceNeutral, Metadata: map[string]any{"origin": "import"}}
	require.NoError(t, testDB.Store().InsertIdea(ctx, &legacy))

	resp := ingest(t, text, map[string]any{"source": "resubmit"})

	assert.Equal(t, legacy.ID, resp.Node.ID, "the surviving row is reused, not duplicated")
	require.NotNil(t, resp.Topic)
	assert.Equal(t, "urbanism", resp.Topic.Name)
	require.NotNil(t, resp.Subtopic)
	assert.Equal(t, "street trees", resp.Subtopic.Name)

	row, err := testDB.Store().IdeaByID(ctx, legacy.ID)
	require.NoError(t, err)
	require.NotNil(t, row.TopicID)
	require.NotNil(t, row.SubtopicID)
	assert.Equal(t, resp.Subtopic.ID.String(), row.ClusterID)
	assert.Equal(t, "import", row.Metadata["origin"])
	assert.Equal(t, "resubmit", row.Metadata["source"])

	// Once anchored the next submission is a plain duplicate.
	again := ingest(t, text, nil)
	assert.Equal(t, legacy.ID, again.Node.ID)
	require.NotNil(t, again.Topic)
	assert.Equal(t, 1, again.Topic.NPoints)
}

func TestIngest_DuplicateResolvesTopicFromSubtopicParent(t *testing.T) {
	ctx := context.Background()
	seedText := "Night buses make late shifts feasible."
	seedNorm := testEmbeds.register(t, seedText, axisVec(168, 1))
	testOracle.registerHierarchy(seedNorm, oracle.Hierarchy{Level1: "transit", Level2: "bus service", Level3: "night buses"})
	seeded := ingest(t, seedText, nil)
	require.NotNil(t, seeded.Subtopic)
	require.NotNil(t, seeded.Subtopic.ParentTopicID)

	// A row anchored at a leaf but missing its level-1 reference.
	partialText := "Weekend buses run far too rarely."
	partialNorm := testEmbeds.register(t, partialText, axisVec(169, 1))
	vec := pgvector.NewVector(axisVec(169, 1))
	partial := model.Idea{
		Text:        partialNorm,
		Embedding:   &vec,
		SubtopicID:  &seeded.Subtopic.ID,
		ClusterID:   seeded.Subtopic.ID.String(),
		StanceLabel: model.StanceNeutral,
		Metadata:    map[string]any{},
	}
	require.NoError(t, testDB.Store().InsertIdea(ctx, &partial))

	resp := ingest(t, partialText, nil)
	assert.Equal(t, partial.ID, resp.Node.ID)
	require.NotNil(t, resp.Topic)
	assert.Equal(t, *seeded.Subtopic.ParentTopicID, resp.Topic.ID, "missing level-1 recovered from the subtopic's parent")

	// Recovery happens at read time; the stored row is untouched.
	row, err := testDB.Store().IdeaByID(ctx, partial.ID)
	require.NoError(t, err)
	assert.Nil(t, row.TopicID)
}

func TestIngest_NeighborScopeQuota(t *testing.T) {
	ctx := context.Background()
	laneHier := oracle.Hierarchy{Level1: "streets", Level2: "cycling", Level3: "bike lanes"}

	// Eight leaf-mates: enough to fill the per-scope quota on their own.
	leafIDs := make(map[uuid.UUID]bool, 8)
	for i := 0; i < 8; i++ {
		text := fmt.Sprintf("Bike lane observation number %d about safety.", i)
		normalized := testEmbeds.register(t, text, blendVec(210, 1, float32(212+i), 0.1))
		testOracle.registerHierarchy(normalized, laneHier)
		leafIDs[ingest(t, text, nil).Node.ID] = true
	}

	// Same level-1, different level-2, and nearer to the newcomer than any
	// leaf-mate is.
	outlierText := "Curbside parking rules confuse most drivers."
	outlierNorm := testEmbeds.register(t, outlierText, blendVec(210, 0.5, 211, 0.866))
	testOracle.registerHierarchy(outlierNorm, oracle.Hierarchy{Level1: "streets", Level2: "parking", Level3: "curbside parking"})
	outlier := ingest(t, outlierText, nil)

	newText := "Protected bike lanes reduce collisions."
	newNorm := testEmbeds.register(t, newText, blendVec(210, 0.8, 211, 0.6))
	testOracle.registerHierarchy(newNorm, laneHier)
	newcomer := ingest(t, newText, nil)

	require.NotNil(t, outlier.Node.TopicID)
	require.Equal(t, *newcomer.Node.TopicID, *outlier.Node.TopicID)
	require.NotEqual(t, *newcomer.Node.SubtopicID, *outlier.Node.SubtopicID)

	// The leaf scope alone meets the quota, so the wider level-1 scope is
	// never consulted and the closer outlier gets no edge.
	edges, err := testDB.Store().TopEdges(ctx, 10000)
	require.NoError(t, err)
	outgoing := 0
	for _, e := range edges {
		if e.Src != newcomer.Node.ID {
			continue
		}
		outgoing++
		assert.True(t, leafIDs[e.Dst], "all new edges stay within the leaf")
	}
	assert.Equal(t, 8, outgoing)
}

func TestRetrieval_Level2ScopeFollowsSubtopicParent(t *testing.T) {
	ctx := context.Background()

	firstText := "Community gardens strengthen neighborhood ties."
	firstNorm := testEmbeds.register(t, firstText, axisVec(230, 1))
	testOracle.registerHierarchy(firstNorm, oracle.Hierarchy{Level1: "community", Level2: "shared spaces", Level3: "community gardens"})
	first := ingest(t, firstText, map[string]any{"stance_hint": "pro"})

	siblingText := "Tool libraries strengthen neighborhood ties too."
	siblingNorm := testEmbeds.register(t, siblingText, blendVec(230, 0.5, 231, 0.866))
	testOracle.registerHierarchy(siblingNorm, oracle.Hierarchy{Level1: "community", Level2: "shared spaces", Level3: "tool libraries"})
	sibling := ingest(t, siblingText, map[string]any{"stance_hint": "pro"})

	require.NotNil(t, first.Subtopic)
	require.NotNil(t, sibling.Subtopic)
	require.NotEqual(t, first.Subtopic.ID, sibling.Subtopic.ID)

	// A seed with a leaf anchor but neither a level-1 anchor nor metadata:
	// the sibling scope must come from the subtopic row's parent.
	seedText := "Shared workshops strengthen neighborhood ties as well."
	seedNorm := testEmbeds.register(t, seedText, blendVec(230, 0.9, 231, 0.436))
	vec := pgvector.NewVector(blendVec(230, 0.9, 231, 0.436))
	seed := model.Idea{
		Text:        seedNorm,
		Embedding:   &vec,
		SubtopicID:  &first.Subtopic.ID,
		ClusterID:   first.Subtopic.ID.String(),
		StanceLabel: model.StancePro,
		Metadata:    map[string]any{},
	}
	require.NoError(t, testDB.Store().InsertIdea(ctx, &seed))

	supportive, err := testSvc.Supportive(ctx, seed.ID, 5)
	require.NoError(t, err)
	got := neighborIDSet(supportive)
	assert.Contains(t, got, first.Node.ID)
	assert.Contains(t, got, sibling.Node.ID, "sibling leaf reached through the subtopic's parent")
}

// The winter scenario: four seeds with known stances, then a fifth pro idea.
func TestRetrieval_SupportiveAndOpposing(t *testing.T) {
	ctx := context.Background()
	winter := oracle.Hierarchy{Level1: "seasons", Level2: "winter", Level3: "winter mood"}

	seeds := []struct {
		text string
		vec  []float32
		hint string
	}{
		{"I love winters because snow days make me happy.", blendVec(0, 1, 1, 0.35), "pro"},
		{"Winters are great for cozy reading and calm evenings.", blendVec(0, 1, 1, 0.30, 3, 0.05), "pro"},
		{"I dislike winters because the cold feels exhausting.", blendVec(0, 1, 2, 0.35), "con"},
		{"Snowstorms in winter make commuting stressful and unsafe.", blendVec(0, 1, 2, 0.30, 4, 0.05), "con"},
	}
	seedIDs := make(map[string]model.Idea)
	for _, s := range seeds {
		normalized := testEmbeds.register(t, s.text, s.vec)
		testOracle.registerHierarchy(normalized, winter)
		resp := ingest(t, s.text, map[string]any{"stance_hint": s.hint})
		seedIDs[s.text] = resp.Node
	}

	fifthText := "I love winters."
	normalized := testEmbeds.register(t, fifthText, blendVec(0, 1, 1, 0.33))
	testOracle.registerHierarchy(normalized, winter)
	fifth := ingest(t, fifthText, nil)

	// Both stance buckets exist by now, so geometry decides.
	assert.Equal(t, model.StancePro, fifth.Node.StanceLabel)
	assert.Greater(t, fifth.Node.StanceConfidence, 0.04)

	// All five ideas share the hierarchy (stance-free topic names).
	assert.Equal(t, seedIDs[seeds[0].text].TopicID, fifth.Node.TopicID)
	assert.Equal(t, seedIDs[seeds[2].text].SubtopicID, fifth.Node.SubtopicID)

	supportive, err := testSvc.Supportive(ctx, fifth.Node.ID, 3)
	require.NoError(t, err)
	gotIDs := neighborIDSet(supportive)
	assert.Contains(t, gotIDs, seedIDs[seeds[0].text].ID, "first pro seed")
	assert.Contains(t, gotIDs, seedIDs[seeds[1].text].ID, "second pro seed")
	for _, n := range supportive {
		assert.Equal(t, model.StancePro, n.StanceLabel)
	}

	opposing, err := testSvc.Opposing(ctx, fifth.Node.ID, 3, -1)
	require.NoError(t, err)
	oppIDs := neighborIDSet(opposing)
	assert.True(t,
		contains(oppIDs, seedIDs[seeds[2].text].ID) || contains(oppIDs, seedIDs[seeds[3].text].ID),
		"at least one con seed in opposing results")
	for _, n := range opposing {
		assert.Equal(t, model.StanceCon, n.StanceLabel)
	}

	// Alpha 1 degenerates to pure seed-similarity ordering.
	pure, err := testSvc.Opposing(ctx, fifth.Node.ID, 3, 1)
	require.NoError(t, err)
	for i := 1; i < len(pure); i++ {
		assert.GreaterOrEqual(t, pure[i-1].Similarity, pure[i].Similarity)
	}

	nearby, err := testSvc.Nearby(ctx, fifth.Node.ID, 4)
	require.NoError(t, err)
	assert.NotEmpty(t, nearby)
	for _, n := range nearby {
		assert.NotEqual(t, fifth.Node.ID, n.ID)
	}

	// Running-mean invariant: the level-1 centroid equals the plain mean
	// of all five member embeddings.
	l1, err := testDB.Store().TopicByID(ctx, *fifth.Node.TopicID)
	require.NoError(t, err)
	assert.Equal(t, 5, l1.NPoints)
	centroid := l1.Centroid.Slice()
	assert.InDelta(t, 1.0, centroid[0], 1e-4)                      // every member has axis 0 = 1
	assert.InDelta(t, (0.35+0.30+0.33)/5.0, centroid[1], 1e-4)     // pro lean
	assert.InDelta(t, (0.35+0.30)/5.0, centroid[2], 1e-4)          // con lean
}

func TestRetrieval_NeutralSeedHasNoOpposing(t *testing.T) {
	text := "The sky sometimes looks gray in November."
	normalized := testEmbeds.register(t, text, axisVec(120, 1))
	testOracle.registerHierarchy(normalized, oracle.Hierarchy{Level1: "weather", Level2: "sky", Level3: "november sky"})
	resp := ingest(t, text, nil)
	require.Equal(t, model.StanceNeutral, resp.Node.StanceLabel)

	opposing, err := testSvc.Opposing(context.Background(), resp.Node.ID, 3, -1)
	require.NoError(t, err)
	assert.Empty(t, opposing)
}

func TestRelationBuckets_CacheAndEdges(t *testing.T) {
	ctx := context.Background()
	cats := oracle.Hierarchy{Level1: "pets", Level2: "cats", Level3: "cat ownership"}

	seedText := "Cats make wonderful apartment companions."
	seedNorm := testEmbeds.register(t, seedText, blendVec(130, 1))
	testOracle.registerHierarchy(seedNorm, cats)
	seed := ingest(t, seedText, nil)

	cands := []struct {
		text  string
		vec   []float32
		label model.RelationLabel
		conf  float64
	}{
		{"Cats are quiet and low-maintenance pets.", blendVec(130, 1, 131, 0.2), model.RelationSupport, 0.9},
		{"Cats destroy furniture and ignore their owners.", blendVec(130, 1, 132, 0.2), model.RelationOppose, 0.8},
		{"Many cats sleep sixteen hours a day.", blendVec(130, 1, 133, 0.2), model.RelationNeutral, 0.5},
	}
	candIdeas := make([]model.Idea, len(cands))
	for i, c := range cands {
		normalized := testEmbeds.register(t, c.text, c.vec)
		testOracle.registerHierarchy(normalized, cats)
		testOracle.registerRelation(seedNorm, normalized, c.label, c.conf)
		candIdeas[i] = ingest(t, c.text, nil).Node
	}

	before := testOracle.relationCallCount()
	first, err := testSvc.RelationBuckets(ctx, seed.Node.ID, 2, 4)
	require.NoError(t, err)
	afterFirst := testOracle.relationCallCount()
	assert.Equal(t, 3, afterFirst-before, "one oracle call per uncached pair")

	require.Len(t, first.Supportive, 1)
	assert.Equal(t, candIdeas[0].ID, first.Supportive[0].ID)
	assert.InDelta(t, 0.9, first.Supportive[0].RelationConfidence, 1e-9)
	require.Len(t, first.Opposing, 1)
	assert.Equal(t, candIdeas[1].ID, first.Opposing[0].ID)
	require.Len(t, first.Neutral, 1)
	assert.Equal(t, candIdeas[2].ID, first.Neutral[0].ID)

	second, err := testSvc.RelationBuckets(ctx, seed.Node.ID, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, testOracle.relationCallCount(), "cache hit, no oracle calls")
	assert.Equal(t, first.Supportive[0].ID, second.Supportive[0].ID)
	assert.Equal(t, first.Opposing[0].ID, second.Opposing[0].ID)

	// Support/oppose judgments are denormalized into mirrored edges.
	rel, err := testDB.Store().Relation(ctx, seed.Node.ID, candIdeas[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RelationSupport, rel.RelationLabel)

	// Both directions of each relation edge are committed together.
	edges, err := testDB.Store().TopEdges(ctx, 10000)
	require.NoError(t, err)
	type pair struct{ src, dst uuid.UUID }
	relEdges := map[pair]model.EdgeType{}
	for _, e := range edges {
		if e.EdgeType == model.EdgeSupport || e.EdgeType == model.EdgeOppose {
			relEdges[pair{e.Src, e.Dst}] = e.EdgeType
		}
	}
	assert.Equal(t, model.EdgeSupport, relEdges[pair{seed.Node.ID, candIdeas[0].ID}])
	assert.Equal(t, model.EdgeSupport, relEdges[pair{candIdeas[0].ID, seed.Node.ID}], "mirror of the support edge")
	assert.Equal(t, model.EdgeOppose, relEdges[pair{seed.Node.ID, candIdeas[1].ID}])
	assert.Equal(t, model.EdgeOppose, relEdges[pair{candIdeas[1].ID, seed.Node.ID}], "mirror of the oppose edge")
}

func TestRecluster_EntropyGate(t *testing.T) {
	ctx := context.Background()

	// Low entropy: 26 members split evenly across two leaves (H = ln 2).
	for i := 0; i < 26; i++ {
		text := fmt.Sprintf("Calm observation number %d about stillness.", i)
		normalized := testEmbeds.register(t, text, axisVec(140+i%2, 1))
		testOracle.registerHierarchy(normalized, oracle.Hierarchy{
			Level1: "calm",
			Level2: "calm mid",
			Level3: fmt.Sprintf("calm leaf %d", i%2),
		})
		ingest(t, text, nil)
	}

	// High entropy: 30 members spread uniformly across eight leaves
	// (H = ln 8 ≈ 2.08).
	var sprawlParent model.Topic
	for i := 0; i < 30; i++ {
		text := fmt.Sprintf("Sprawl observation number %d about variety.", i)
		normalized := testEmbeds.register(t, text, axisVec(150+i%8, 1))
		testOracle.registerHierarchy(normalized, oracle.Hierarchy{
			Level1: "sprawl",
			Level2: "sprawl mid",
			Level3: fmt.Sprintf("sprawl leaf %d", i%8),
		})
		resp := ingest(t, text, nil)
		sprawlParent = *resp.Topic
	}

	result, err := testSvc.Recluster(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TopicsRefreshed)

	topics, err := testSvc.Topics(ctx)
	require.NoError(t, err)
	var clusterChildren []model.Topic
	for _, topic := range topics {
		if topic.ParentTopicID != nil && *topic.ParentTopicID == sprawlParent.ID &&
			topic.Level == model.TopicLevelMid && topic.NPoints > 0 {
			clusterChildren = append(clusterChildren, topic)
		}
		assert.NotContains(t, topic.Name, "calm / cluster", "low-entropy parent untouched")
	}
	require.NotEmpty(t, clusterChildren)
	total := 0
	for _, c := range clusterChildren {
		assert.Contains(t, c.Name, "sprawl / cluster")
		total += c.NPoints
	}
	assert.Equal(t, 30, total, "every member reassigned to a fresh child")

	// Members now point at the new children.
	members, err := testDB.Store().IdeasByTopic(ctx, sprawlParent.ID)
	require.NoError(t, err)
	childIDs := make(map[string]bool, len(clusterChildren))
	for _, c := range clusterChildren {
		childIDs[c.ID.String()] = true
	}
	for _, m := range members {
		require.NotNil(t, m.SubtopicID)
		assert.True(t, childIDs[m.SubtopicID.String()])
		assert.Equal(t, m.SubtopicID.String(), m.ClusterID)
	}

	// Idempotent gate: freshly clustered subtrees have low entropy again.
	again, err := testSvc.Recluster(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.TopicsRefreshed)
}

func TestMapAndTopics(t *testing.T) {
	ctx := context.Background()

	m, err := testSvc.Map(ctx, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Topics)
	assert.NotEmpty(t, m.Ideas)
	for _, e := range m.TopicEdges {
		assert.Equal(t, model.EdgeTopicHierarchy, e.EdgeType)
		assert.Equal(t, 1.0, e.Weight)
	}
	for _, e := range m.Edges {
		assert.NotEqual(t, model.EdgeTopicHierarchy, e.EdgeType)
	}

	topics, err := testSvc.Topics(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, topics)
	for _, topic := range topics {
		if topic.Level == model.TopicLevelRoot {
			assert.Nil(t, topic.ParentTopicID)
		} else {
			assert.NotNil(t, topic.ParentTopicID)
		}
	}
}

func neighborIDSet(rows []model.Neighbor) []any {
	out := make([]any, len(rows))
	for i, n := range rows {
		out[i] = n.ID
	}
	return out
}

func contains(set []any, v any) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
