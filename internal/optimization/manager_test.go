package optimization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefopt/backend/internal/discussion"
	"github.com/prefopt/backend/internal/llm"
	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/config"
)

type memStore struct {
	feedback    []*models.FeedbackRecord
	comparisons []*models.ComparisonRecord
}

func (m *memStore) SaveFeedback(rec *models.FeedbackRecord) error {
	m.feedback = append(m.feedback, rec)
	return nil
}

func (m *memStore) SaveComparison(rec *models.ComparisonRecord) error {
	m.comparisons = append(m.comparisons, rec)
	return nil
}

func (m *memStore) GetAllFeedback() ([]models.StoredRecord, error) {
	return nil, nil
}

func (m *memStore) GetTotalCount() (int, error) {
	return len(m.feedback) + len(m.comparisons), nil
}

type echoGenerator struct {
	calls int
}

func (e *echoGenerator) Generate(_ context.Context, req llm.Request) *llm.Response {
	e.calls++
	return &llm.Response{Model: req.Model, Success: true, Content: "echo from " + req.Model}
}

func testConfig() *config.Config {
	return &config.Config{
		Optimization: config.OptimizationConfig{
			Enabled: true,
			Preference: config.PreferenceConfig{
				WeightUpdateFactor: 0.1,
				WinRateWeight:      0.7,
				ScoreWeight:        0.3,
				DefaultWeight:      1.0,
				MinWeight:          0.5,
				MaxWeight:          2.0,
			},
			Feedback: config.FeedbackConfig{
				Enabled:               true,
				CollectionProbability: 1.0,
				CollectComparisons:    true,
				CacheSize:             100,
			},
			Prompt: config.PromptConfig{
				SelectionStrategy:        "best_match",
				DynamicInstructionTuning: true,
				AnalysisCacheSize:        10,
			},
			Discussion: config.DiscussionConfig{DefaultRounds: 1},
		},
		Models: []config.ModelConfig{
			{
				Name: "coder",
				Role: "programming",
				Strengths: map[string]float64{
					"programming": 0.9,
					"algorithms":  0.8,
				},
			},
			{
				Name: "thinker",
				Role: "deep_thinking",
				Strengths: map[string]float64{
					"reasoning":         0.9,
					"critical_thinking": 0.8,
				},
			},
		},
		GroupDiscussion: config.GroupDiscussionConfig{
			Name: "group_discussion",
			Strengths: map[string]float64{
				"comprehensive": 0.95,
				"thorough":      0.9,
			},
		},
		Templates: []config.TemplateConfig{
			{
				Name:       "coding",
				Template:   "You are a senior engineer. {query}",
				Domains:    []string{"technology"},
				UseCases:   []string{"code"},
				Complexity: "medium",
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memStore, *echoGenerator) {
	t.Helper()

	store := &memStore{}
	gen := &echoGenerator{}
	return NewManager(testConfig(), store, gen), store, gen
}

func TestOptimizeQueryRoutesCodeToCoder(t *testing.T) {
	m, _, _ := newTestManager(t)

	result := m.OptimizeQuery("Write a function to implement binary search in code")

	assert.Equal(t, "coder", result.SelectedModel)
	assert.Equal(t, "coding", result.TemplateUsed)
	assert.Contains(t, result.Prompt, "binary search")
	assert.True(t, result.Profile.RequiresCode)
}

func TestOptimizeQueryUsesAnalysisCache(t *testing.T) {
	m, _, _ := newTestManager(t)
	query := "Write a function to implement binary search in code"

	first := m.OptimizeQuery(query)
	second := m.OptimizeQuery(query)

	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.TemplateUsed, second.TemplateUsed)

	m.ClearCaches()
	third := m.OptimizeQuery(query)
	assert.Equal(t, first.Prompt, third.Prompt)
}

func TestOptimizeQueryDisabledPassesThrough(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetEnabled(false)

	result := m.OptimizeQuery("anything at all")

	assert.Equal(t, "anything at all", result.Prompt)
	assert.Equal(t, "default", result.TemplateUsed)
	assert.Equal(t, "coder", result.SelectedModel)
}

func TestSelectBestModelWithCandidates(t *testing.T) {
	m, _, _ := newTestManager(t)

	selected := m.SelectBestModel("Explain why this design is correct and justify the reasoning",
		[]string{"coder", "thinker"})
	assert.Equal(t, "thinker", selected)

	assert.Equal(t, "coder", func() string {
		m.SetEnabled(false)
		defer m.SetEnabled(true)
		return m.SelectBestModel("anything", []string{"coder", "thinker"})
	}())
}

func TestProcessFeedbackPersistsAndReweights(t *testing.T) {
	m, store, _ := newTestManager(t)
	responses := map[string]string{"coder": "a", "thinker": "b"}

	for i := 0; i < 10; i++ {
		record, err := m.ProcessFeedback("conv-1", "some query", responses, "coder",
			models.ScalarScore(0.9), "", nil)
		require.NoError(t, err)
		require.NotNil(t, record)
	}

	assert.Len(t, store.feedback, 10)
	assert.Len(t, store.comparisons, 10)

	stats := m.GetStats()
	assert.Equal(t, 20, stats.TotalFeedback)

	var coderWeight, thinkerWeight float64
	for _, p := range stats.Models {
		switch p.Name {
		case "coder":
			coderWeight = p.Weight
		case "thinker":
			thinkerWeight = p.Weight
		}
	}
	assert.Greater(t, coderWeight, thinkerWeight)
}

func TestProcessFeedbackWithoutCachedAnalysisScoresDefaultTemplate(t *testing.T) {
	m, _, _ := newTestManager(t)

	// No OptimizeQuery ran for this text, so the analysis cache misses
	// and the score falls through to the default template.
	_, err := m.ProcessFeedback("conv-1", "never optimized before",
		map[string]string{"coder": "a"}, "coder", models.ScalarScore(0.8), "", nil)
	require.NoError(t, err)

	stats := m.GetStats()
	assert.InDelta(t, 0.8, stats.TemplatePerformance["default"], 1e-9)
}

func TestProcessFeedbackDisabled(t *testing.T) {
	m, store, _ := newTestManager(t)
	m.SetEnabled(false)

	record, err := m.ProcessFeedback("conv-1", "q", map[string]string{"coder": "a"}, "coder",
		models.NoScore(), "", nil)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, store.feedback)
}

func TestConductDiscussionThroughManager(t *testing.T) {
	m, _, gen := newTestManager(t)

	result := m.ConductDiscussion(context.Background(), "what should we build", discussion.Options{})

	require.True(t, result.Success)
	assert.Equal(t, []string{"coder", "thinker"}, result.ModelsUsed)
	// 2 participants x 1 round + 1 synthesis call.
	assert.Equal(t, 3, gen.calls)

	record := m.GetDiscussion(result.DiscussionID)
	require.NotNil(t, record)
	assert.True(t, record.Success)
}

func TestShouldRequestFeedbackThroughManager(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.True(t, m.ShouldRequestFeedback("conv-1"))
	assert.False(t, m.ShouldRequestFeedback("conv-1"))

	m.SetEnabled(false)
	assert.False(t, m.ShouldRequestFeedback("conv-2"))
}
