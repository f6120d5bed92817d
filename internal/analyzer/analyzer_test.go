package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := New()
	query := "How do I implement a concurrent cache in Go? Please show examples."

	first := a.Analyze(query)
	second := a.Analyze(query)

	assert.Equal(t, first, second)
}

func TestComplexityScoring(t *testing.T) {
	a := New()

	t.Run("short query scores low", func(t *testing.T) {
		profile := a.Analyze("What is Go?")
		assert.Less(t, profile.Complexity, 3.0)
	})

	t.Run("question marks and keywords raise the score", func(t *testing.T) {
		simple := a.Analyze("Tell me about databases")
		loaded := a.Analyze("Analyze and evaluate the trade-off between distributed and concurrent architectures? What are the implications?")
		assert.Greater(t, loaded.Complexity, simple.Complexity)
	})

	t.Run("score is capped at ten", func(t *testing.T) {
		profile := a.Analyze(strings.Repeat("analyze, evaluate, compare? ", 100))
		assert.Equal(t, 10.0, profile.Complexity)
	})
}

func TestQueryTypeDetection(t *testing.T) {
	a := New()

	cases := []struct {
		query string
		want  string
	}{
		{"How to deploy a Go service", QueryTypeHowTo},
		{"Why does water boil at lower temperatures at altitude", QueryTypeWhy},
		{"What is a goroutine", QueryTypeWhatIs},
		{"Compare TCP and UDP for streaming", QueryTypeComparison},
		{"Give an example of a monad in practice", QueryTypeExample},
		{"List the top 10 sorting algorithms", QueryTypeList},
		{"Should I use Postgres or keep SQLite", QueryTypeOpinion},
		{"Will quantum computers break RSA", QueryTypePrediction},
		{"Is there coffee left?", QueryTypeQuestion},
		{"Tell me something interesting", QueryTypeStatement},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, a.Analyze(tc.query).QueryType)
		})
	}
}

func TestDomainDetection(t *testing.T) {
	a := New()

	assert.Equal(t, "technology", a.Analyze("Debug this python code for me").Domain)
	assert.Equal(t, "business", a.Analyze("Draft a marketing strategy for our startup revenue goals").Domain)
	assert.Equal(t, "science", a.Analyze("Explain quantum gravity and the physics behind it").Domain)
	assert.Equal(t, "health", a.Analyze("What is the best treatment for this disease").Domain)
	assert.Equal(t, "education", a.Analyze("Design a university curriculum for first-year teaching").Domain)
	assert.Equal(t, "arts", a.Analyze("Recommend poetry about painting and music").Domain)
	assert.Equal(t, "lifestyle", a.Analyze("Plan a travel itinerary around local cuisine").Domain)
	assert.Equal(t, "general", a.Analyze("Hello there").Domain)
}

func TestRequirementFlags(t *testing.T) {
	a := New()

	profile := a.Analyze("Write a function to sort a list and explain why it works")
	assert.True(t, profile.RequiresCode)
	assert.True(t, profile.RequiresReasoning)
	assert.False(t, profile.RequiresCreativity)

	creative := a.Analyze("Write a short story about a lighthouse keeper")
	assert.True(t, creative.RequiresCreativity)
}

func TestFormatRequirements(t *testing.T) {
	a := New()

	profile := a.Analyze("Walk me through setting this up step by step, with examples, and summarize briefly at the end")
	assert.True(t, profile.Format.StepByStep)
	assert.True(t, profile.Format.Examples)
	assert.True(t, profile.Format.Summary)
	assert.False(t, profile.Format.Table)
}

func TestLanguagesNeverEmpty(t *testing.T) {
	a := New()

	assert.Equal(t, []string{"english"}, a.Analyze("plain english text").Languages)
	assert.Contains(t, a.Analyze("什么是分布式系统").Languages, "cjk")
	assert.Equal(t, []string{"unknown"}, a.Analyze("123 456 !!!").Languages)
}

func TestSentimentAndUrgency(t *testing.T) {
	a := New()

	assert.Equal(t, "positive", a.Analyze("This is great, thanks for the awesome help").Sentiment)
	assert.Equal(t, "negative", a.Analyze("This broken thing is terrible and I hate it").Sentiment)
	assert.Equal(t, "neutral", a.Analyze("Describe the weather").Sentiment)

	assert.Equal(t, "high", a.Analyze("Fix this asap, we have a deadline").Urgency)
	assert.Equal(t, "normal", a.Analyze("Whenever you get a chance").Urgency)
}
