package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prefopt/backend/internal/analyzer"
	"github.com/prefopt/backend/pkg/config"
)

func testTemplates() []config.TemplateConfig {
	return []config.TemplateConfig{
		{
			Name:       "coding",
			Template:   "You are a senior engineer. {query}",
			Domains:    []string{"technology"},
			UseCases:   []string{"code", "how_to"},
			Complexity: "medium",
		},
		{
			Name:       "explainer",
			Template:   "Explain clearly: {query}",
			Domains:    []string{"general"},
			UseCases:   []string{"what_is"},
			Complexity: "low",
		},
		{
			Name:       "deep_dive",
			Template:   "Give an exhaustive treatment. {query}",
			Domains:    []string{"general"},
			UseCases:   []string{"reasoning"},
			Complexity: "high",
		},
	}
}

func newTestSelector(strategy string) *Selector {
	return NewSelector(config.PromptConfig{
		SelectionStrategy:        strategy,
		DynamicInstructionTuning: false,
	}, testTemplates())
}

func TestSelectBestMatch(t *testing.T) {
	s := newTestSelector(StrategyBestMatch)

	t.Run("technology code query picks the coding template", func(t *testing.T) {
		profile := analyzer.Profile{
			Domain:       "technology",
			QueryType:    analyzer.QueryTypeHowTo,
			RequiresCode: true,
			Complexity:   5,
		}
		assert.Equal(t, "coding", s.Select(profile).Name)
	})

	t.Run("definition query picks the explainer", func(t *testing.T) {
		profile := analyzer.Profile{
			Domain:     "science",
			QueryType:  analyzer.QueryTypeWhatIs,
			Complexity: 1,
		}
		assert.Equal(t, "explainer", s.Select(profile).Name)
	})

	t.Run("complex reasoning picks the deep dive", func(t *testing.T) {
		profile := analyzer.Profile{
			Domain:            "general",
			RequiresReasoning: true,
			Complexity:        9,
		}
		assert.Equal(t, "deep_dive", s.Select(profile).Name)
	})
}

func TestGeneralDoesNotStackWithDomainMatch(t *testing.T) {
	profile := analyzer.Profile{Domain: "technology"}

	both := Template{Domains: []string{"general", "technology"}}
	exact := Template{Domains: []string{"technology"}}
	generalOnly := Template{Domains: []string{"general"}}

	assert.Equal(t, 3, matchScore(both, profile))
	assert.Equal(t, matchScore(exact, profile), matchScore(both, profile))
	assert.Equal(t, 1, matchScore(generalOnly, profile))
}

func TestBestMatchZeroScoresKeepFirstTemplate(t *testing.T) {
	s := NewSelector(config.PromptConfig{SelectionStrategy: StrategyBestMatch},
		[]config.TemplateConfig{
			{Name: "first", Template: "{query}", Domains: []string{"technology"}, Complexity: "high"},
			{Name: "second", Template: "{query}", Domains: []string{"technology"}, Complexity: "high"},
		})

	tmpl := s.Select(analyzer.Profile{Domain: "lifestyle", Complexity: 5})
	assert.Equal(t, "first", tmpl.Name)
}

func TestSelectFallsBackToIdentity(t *testing.T) {
	s := NewSelector(config.PromptConfig{SelectionStrategy: StrategyBestMatch}, nil)

	tmpl := s.Select(analyzer.Profile{Domain: "arts"})
	assert.Equal(t, "default", tmpl.Name)
	assert.Equal(t, "{query}", tmpl.Text)
}

func TestTemplatesWithoutPlaceholderAreRejected(t *testing.T) {
	s := NewSelector(config.PromptConfig{SelectionStrategy: StrategyBestMatch},
		[]config.TemplateConfig{
			{Name: "broken", Template: "no placeholder here", Domains: []string{"general"}},
		})

	assert.Equal(t, "default", s.Select(analyzer.Profile{}).Name)
}

func TestPerformanceBasedSelection(t *testing.T) {
	s := newTestSelector(StrategyPerformanceBased)
	profile := analyzer.Profile{Domain: "general"}

	// Unscored templates default to 0.5, so the first candidate wins.
	assert.Equal(t, "explainer", s.Select(profile).Name)

	s.UpdatePerformance("deep_dive", 0.9)
	assert.Equal(t, "deep_dive", s.Select(profile).Name)

	s.UpdatePerformance("deep_dive", 0.0)
	s.UpdatePerformance("explainer", 0.8)
	assert.Equal(t, "explainer", s.Select(profile).Name)
}

func TestUpdatePerformanceRunningAverage(t *testing.T) {
	s := newTestSelector(StrategyBestMatch)

	s.UpdatePerformance("coding", 1.0)
	s.UpdatePerformance("coding", 0.0)
	s.UpdatePerformance("coding", 0.5)

	assert.InDelta(t, 0.5, s.PerformanceStats()["coding"], 1e-9)
}

func TestCompose(t *testing.T) {
	s := newTestSelector(StrategyBestMatch)
	tmpl := Template{Name: "coding", Text: "You are a senior engineer. {query}"}

	t.Run("substitutes the query", func(t *testing.T) {
		prompt := s.Compose(tmpl, "reverse a list", analyzer.Profile{})
		assert.Equal(t, "You are a senior engineer. reverse a list", prompt)
	})

	t.Run("appends format instructions", func(t *testing.T) {
		profile := analyzer.Profile{
			Format: analyzer.FormatRequirements{StepByStep: true, Examples: true},
		}
		prompt := s.Compose(tmpl, "reverse a list", profile)
		assert.Contains(t, prompt, "step-by-step")
		assert.Contains(t, prompt, "examples")
	})
}

func TestComposeDynamicInstructions(t *testing.T) {
	s := NewSelector(config.PromptConfig{
		SelectionStrategy:        StrategyBestMatch,
		DynamicInstructionTuning: true,
	}, testTemplates())
	tmpl := Template{Name: "coding", Text: "{query}"}

	prompt := s.Compose(tmpl, "build it", analyzer.Profile{Complexity: 9, RequiresCode: true})
	assert.Contains(t, prompt, "comprehensive")
	assert.Contains(t, prompt, "code")

	short := s.Compose(tmpl, "build it", analyzer.Profile{Complexity: 1})
	assert.Contains(t, strings.ToLower(short), "concisely")
}
