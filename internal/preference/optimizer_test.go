package preference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefopt/backend/internal/analyzer"
	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/config"
)

func testConfig() config.PreferenceConfig {
	return config.PreferenceConfig{
		WeightUpdateFactor: 0.1,
		WinRateWeight:      0.7,
		ScoreWeight:        0.3,
		DefaultWeight:      1.0,
		MinWeight:          0.5,
		MaxWeight:          2.0,
	}
}

func testModels() []config.ModelConfig {
	return []config.ModelConfig{
		{
			Name: "coder",
			Strengths: map[string]float64{
				"programming":           0.9,
				"algorithms":            0.8,
				"technical_explanation": 0.7,
				"reasoning":             0.5,
			},
		},
		{
			Name: "thinker",
			Strengths: map[string]float64{
				"programming":       0.3,
				"reasoning":         0.9,
				"critical_thinking": 0.8,
				"analysis":          0.8,
			},
		},
	}
}

func TestSelectBestModelPrefersMatchingStrengths(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	a := analyzer.New()

	codeProfile := a.Analyze("Write a function to implement quicksort")
	require.True(t, codeProfile.RequiresCode)
	assert.Equal(t, "coder", o.SelectBestModel(codeProfile, []string{"coder", "thinker"}))

	reasonProfile := a.Analyze("Explain why the sky appears blue and justify the reasoning")
	require.True(t, reasonProfile.RequiresReasoning)
	require.False(t, reasonProfile.RequiresCode)
	assert.Equal(t, "thinker", o.SelectBestModel(reasonProfile, []string{"coder", "thinker"}))
}

func TestSelectBestModelEdgeCases(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	profile := analyzer.Profile{}

	t.Run("no candidates yields empty", func(t *testing.T) {
		assert.Equal(t, "", o.SelectBestModel(profile, nil))
	})

	t.Run("unknown candidates are skipped", func(t *testing.T) {
		assert.Equal(t, "", o.SelectBestModel(profile, []string{"missing"}))
		assert.Equal(t, "coder", o.SelectBestModel(profile, []string{"missing", "coder"}))
	})

	t.Run("selection increments the count", func(t *testing.T) {
		before := countFor(o, "coder")
		o.SelectBestModel(profile, []string{"coder"})
		assert.Equal(t, before+1, countFor(o, "coder"))
	})
}

func countFor(o *Optimizer, name string) int {
	for _, p := range o.Profiles() {
		if p.Name == name {
			return p.SelectionCount
		}
	}
	return -1
}

func weightFor(o *Optimizer, name string) float64 {
	return o.Weights()[name]
}

func profileFor(o *Optimizer, name string) ModelProfile {
	for _, p := range o.Profiles() {
		if p.Name == name {
			return p
		}
	}
	return ModelProfile{}
}

func TestFeedbackMovesOnlySelectedWeight(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	profile := analyzer.Profile{QueryType: analyzer.QueryTypeStatement}
	responses := map[string]string{"coder": "answer a", "thinker": "answer b"}

	for i := 0; i < 20; i++ {
		o.UpdateWeightsFromFeedback(profile, "some question", responses, "coder", models.ScalarScore(0.9))
	}

	assert.Greater(t, weightFor(o, "coder"), 1.0)
	// The losing participant's win rate drops but its weight is not
	// recomputed until it is itself selected.
	assert.Equal(t, 1.0, weightFor(o, "thinker"))
	assert.Less(t, profileFor(o, "thinker").WinRate, 0.5)
}

func TestFirstFeedbackBlendsWithPrior(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	responses := map[string]string{"coder": "a", "thinker": "b"}

	o.UpdateWeightsFromFeedback(analyzer.Profile{}, "q", responses, "coder", models.NoScore())

	// decay = 1/11 on the first sample, so the 0.5 prior still shows.
	assert.InDelta(t, 10.5/11.0, profileFor(o, "coder").WinRate, 1e-9)
	assert.InDelta(t, 0.5/11.0, profileFor(o, "thinker").WinRate, 1e-9)
}

func TestWeightsStayWithinBounds(t *testing.T) {
	cfg := testConfig()
	o := NewOptimizer(cfg, testModels(), config.GroupDiscussionConfig{})
	profile := analyzer.Profile{}
	responses := map[string]string{"coder": "a", "thinker": "b"}

	for i := 0; i < 500; i++ {
		o.UpdateWeightsFromFeedback(profile, "q", responses, "coder", models.ScalarScore(1.0))
	}

	assert.Equal(t, cfg.MaxWeight, weightFor(o, "coder"))
	assert.Equal(t, cfg.DefaultWeight, weightFor(o, "thinker"))
	for _, p := range o.Profiles() {
		assert.GreaterOrEqual(t, p.WinRate, 0.0)
		assert.LessOrEqual(t, p.WinRate, 1.0)
		assert.GreaterOrEqual(t, p.AvgScore, 0.0)
		assert.LessOrEqual(t, p.AvgScore, 1.0)
	}
}

func TestFeedbackForUnknownModelIsFullNoOp(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	before := o.Profiles()

	// A known loser in the response set must not be penalized when the
	// selected model is unknown.
	o.UpdateWeightsFromFeedback(analyzer.Profile{}, "q",
		map[string]string{"ghost": "a", "coder": "b"}, "ghost", models.ScalarScore(0.9))

	assert.Equal(t, before, o.Profiles())
	assert.Empty(t, o.QueryTypeWinRates())
}

func TestAbsentScoreStillUpdatesWinRate(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	responses := map[string]string{"coder": "a", "thinker": "b"}

	o.UpdateWeightsFromFeedback(analyzer.Profile{}, "q", responses, "thinker", models.NoScore())

	for _, p := range o.Profiles() {
		assert.Equal(t, 1, p.FeedbackCount)
		// Average score is untouched without a rating.
		assert.Equal(t, 0.5, p.AvgScore)
	}
}

func TestSingleCandidateLeavesWinRateAlone(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})

	o.UpdateWeightsFromFeedback(analyzer.Profile{}, "q",
		map[string]string{"coder": "a"}, "coder", models.ScalarScore(1.0))

	p := profileFor(o, "coder")
	// No contest happened, so no win was recorded.
	assert.Equal(t, 0.5, p.WinRate)
	assert.Equal(t, 0, p.FeedbackCount)
	// The score and weight still move for the selected model.
	assert.InDelta(t, 0.55, p.AvgScore, 1e-9)
	assert.Greater(t, p.Weight, 1.0)
}

func TestRangeScoreUsesMidpoint(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	responses := map[string]string{"coder": "a"}

	o.UpdateWeightsFromFeedback(analyzer.Profile{}, "q", responses, "coder", models.RangeScore(0.6, 1.0))

	// 0.5*0.9 + 0.8*0.1
	assert.InDelta(t, 0.53, profileFor(o, "coder").AvgScore, 1e-9)
}

func TestQueryTypeWinRates(t *testing.T) {
	o := NewOptimizer(testConfig(), testModels(), config.GroupDiscussionConfig{})
	profile := analyzer.Profile{QueryType: analyzer.QueryTypeHowTo}
	responses := map[string]string{"coder": "a", "thinker": "b"}

	o.UpdateWeightsFromFeedback(profile, "how to build a cache", responses, "coder", models.NoScore())
	o.UpdateWeightsFromFeedback(profile, "how to build a cache", responses, "coder", models.NoScore())

	rates := o.QueryTypeWinRates()
	require.Contains(t, rates, analyzer.QueryTypeHowTo)
	assert.Equal(t, 1.0, rates[analyzer.QueryTypeHowTo]["coder"])
	assert.Equal(t, 0.0, rates[analyzer.QueryTypeHowTo]["thinker"])
}

func TestGroupDiscussionParticipatesInRouting(t *testing.T) {
	group := config.GroupDiscussionConfig{
		Name: "group_discussion",
		Strengths: map[string]float64{
			"comprehensive": 0.95,
			"thorough":      0.9,
			"balanced":      0.9,
		},
	}
	o := NewOptimizer(testConfig(), testModels(), group)

	assert.Contains(t, o.KnownModels(), "group_discussion")

	profile := analyzer.Profile{Complexity: 9}
	selected := o.SelectBestModel(profile, o.KnownModels())
	assert.Equal(t, "group_discussion", selected)
}

func TestRequiredStrengthsRules(t *testing.T) {
	t.Run("code queries need programming", func(t *testing.T) {
		required := RequiredStrengths(analyzer.Profile{RequiresCode: true})
		assert.Equal(t, 0.9, required["programming"])
		assert.Equal(t, 0.7, required["algorithms"])
	})

	t.Run("merging keeps the higher importance", func(t *testing.T) {
		required := RequiredStrengths(analyzer.Profile{
			RequiresCode: true,
			Domain:       "technology",
		})
		// requires_code gives technical_explanation 0.6, the domain rule 0.7.
		assert.Equal(t, 0.7, required["technical_explanation"])
	})

	t.Run("plain profile needs nothing", func(t *testing.T) {
		assert.Empty(t, RequiredStrengths(analyzer.Profile{Complexity: 5}))
	})
}
