package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microknowledge/atlas/internal/model"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
}

func TestClassifyHierarchy(t *testing.T) {
	srv := chatServer(t, `{"level1":"seasons","level2":"winter","level3":"winter enjoyment"}`)
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
	h, err := c.ClassifyHierarchy(context.Background(), "I love winters.")
	require.NoError(t, err)
	assert.Equal(t, Hierarchy{Level1: "seasons", Level2: "winter", Level3: "winter enjoyment"}, h)
}

func TestClassifyHierarchyFallbacks(t *testing.T) {
	srv := chatServer(t, `{"level1":"  ","level2":"","level3":""}`)
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
	h, err := c.ClassifyHierarchy(context.Background(), "Something.")
	require.NoError(t, err)
	// Empty fields cascade: level1 -> "general", level2 -> level1, level3 -> level2.
	assert.Equal(t, Hierarchy{Level1: "general", Level2: "general", Level3: "general"}, h)
}

func TestClassifyHierarchyTruncatesByRune(t *testing.T) {
	long := strings.Repeat("ü", 100)
	srv := chatServer(t, `{"level1":"`+long+`","level2":"ok","level3":"ok"}`)
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
	h, err := c.ClassifyHierarchy(context.Background(), "Something.")
	require.NoError(t, err)
	// The cap counts runes, so multi-byte names stay valid UTF-8.
	assert.Equal(t, 80, utf8.RuneCountInString(h.Level1))
	assert.True(t, utf8.ValidString(h.Level1))
	assert.Equal(t, strings.Repeat("ü", 80), h.Level1)
}

func TestClassifyRelationClamping(t *testing.T) {
	srv := chatServer(t, `{"relation_label":"SUPPORT","confidence":1.7}`)
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
	label, conf, err := c.ClassifyRelation(context.Background(), "a.", "b.", []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, model.RelationSupport, label)
	assert.Equal(t, 1.0, conf)
}

func TestClassifyRelationUnknownLabelIsNeutral(t *testing.T) {
	srv := chatServer(t, `{"relation_label":"maybe","confidence":-3}`)
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
	label, conf, err := c.ClassifyRelation(context.Background(), "a.", "b.", nil)
	require.NoError(t, err)
	assert.Equal(t, model.RelationNeutral, label)
	assert.Equal(t, 0.0, conf)
}

func TestSelectParentTopic(t *testing.T) {
	cands := []TopicCandidate{{Name: "winter", Similarity: 0.8}, {Name: "summer", Similarity: 0.4}}

	t.Run("picks listed name above threshold", func(t *testing.T) {
		srv := chatServer(t, `{"selected_topic_name":"winter","confidence":0.9}`)
		defer srv.Close()
		c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
		got, err := c.SelectParentTopic(context.Background(), "i like snow.", "seasons", cands)
		require.NoError(t, err)
		assert.Equal(t, "winter", got)
	})

	t.Run("low confidence routes to NEW", func(t *testing.T) {
		srv := chatServer(t, `{"selected_topic_name":"winter","confidence":0.2}`)
		defer srv.Close()
		c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
		got, err := c.SelectParentTopic(context.Background(), "i like snow.", "seasons", cands)
		require.NoError(t, err)
		assert.Equal(t, ParentNew, got)
	})

	t.Run("unlisted name routes to NEW", func(t *testing.T) {
		srv := chatServer(t, `{"selected_topic_name":"autumn","confidence":0.95}`)
		defer srv.Close()
		c := NewOpenAIClient(srv.URL, "k", "gpt-4o-mini")
		got, err := c.SelectParentTopic(context.Background(), "i like snow.", "seasons", cands)
		require.NoError(t, err)
		assert.Equal(t, ParentNew, got)
	})

	t.Run("no candidates short-circuits", func(t *testing.T) {
		c := NewOpenAIClient("http://127.0.0.1:1", "k", "gpt-4o-mini")
		got, err := c.SelectParentTopic(context.Background(), "i like snow.", "seasons", nil)
		require.NoError(t, err)
		assert.Equal(t, ParentNew, got)
	})
}

func TestParseJSONObjectToleratesProse(t *testing.T) {
	out, err := ParseJSONObject("Sure! Here you go:\n{\"level1\":\"x\"}\nHope that helps.")
	require.NoError(t, err)
	assert.Equal(t, "x", out["level1"])

	_, err = ParseJSONObject("no json here")
	assert.Error(t, err)
}
