package template

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/analyzer"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
)

const (
	StrategyBestMatch        = "best_match"
	StrategyPerformanceBased = "performance_based"
)

// Template is a reusable prompt shape with routing hints. Text must
// contain the {query} placeholder.
type Template struct {
	Name        string
	Description string
	Text        string
	Domains     []string
	UseCases    []string
	Complexity  string
}

// identityTemplate passes the query through untouched. It is the
// guaranteed fallback when no configured template applies.
var identityTemplate = Template{
	Name:        "default",
	Description: "Pass the query through unchanged",
	Text:        "{query}",
	Domains:     []string{"general"},
	Complexity:  "any",
}

type perfEntry struct {
	score float64
	count int
}

// Selector picks the prompt template for a query and renders the final
// prompt from it. Safe for concurrent use.
type Selector struct {
	mu        sync.Mutex
	templates []Template
	strategy  string
	dynamic   bool
	perf      map[string]*perfEntry
}

func NewSelector(cfg config.PromptConfig, templateCfgs []config.TemplateConfig) *Selector {
	templates := make([]Template, 0, len(templateCfgs))
	for _, tc := range templateCfgs {
		if !strings.Contains(tc.Template, "{query}") {
			logger.Warn("Ignoring template without {query} placeholder",
				zap.String("template", tc.Name))
			continue
		}
		templates = append(templates, Template{
			Name:        tc.Name,
			Description: tc.Description,
			Text:        tc.Template,
			Domains:     tc.Domains,
			UseCases:    tc.UseCases,
			Complexity:  tc.Complexity,
		})
	}

	strategy := cfg.SelectionStrategy
	if strategy != StrategyBestMatch && strategy != StrategyPerformanceBased {
		logger.Warn("Unknown template selection strategy, using best_match",
			zap.String("strategy", strategy))
		strategy = StrategyBestMatch
	}

	return &Selector{
		templates: templates,
		strategy:  strategy,
		dynamic:   cfg.DynamicInstructionTuning,
		perf:      map[string]*perfEntry{},
	}
}

// Select returns the template for the profile. It never fails; with no
// usable candidates the identity template is returned.
func (s *Selector) Select(profile analyzer.Profile) Template {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.templates) == 0 {
		return identityTemplate
	}

	switch s.strategy {
	case StrategyPerformanceBased:
		return s.selectByPerformance(profile)
	default:
		return s.selectBestMatch(profile)
	}
}

// selectBestMatch scores every template against the profile. Ties keep
// the first-seen template, so configuration order is the tie-break; a
// board of all-zero scores still yields the first configured template.
func (s *Selector) selectBestMatch(profile analyzer.Profile) Template {
	best := s.templates[0]
	bestScore := matchScore(best, profile)

	for _, tmpl := range s.templates[1:] {
		score := matchScore(tmpl, profile)
		if score > bestScore {
			best = tmpl
			bestScore = score
		}
	}

	return best
}

func matchScore(tmpl Template, profile analyzer.Profile) int {
	score := 0

	// A declared "general" counts only in place of a domain match, never
	// on top of one.
	domainMatched := false
	hasGeneral := false
	for _, domain := range tmpl.Domains {
		if domain == profile.Domain {
			domainMatched = true
			break
		}
		if domain == "general" {
			hasGeneral = true
		}
	}
	switch {
	case domainMatched:
		score += 3
	case hasGeneral:
		score++
	}

	for _, useCase := range tmpl.UseCases {
		if useCase == profile.QueryType {
			score += 2
			break
		}
	}

	if profile.RequiresCode && hasUseCase(tmpl, "code") {
		score += 2
	}
	if profile.RequiresReasoning && hasUseCase(tmpl, "reasoning") {
		score += 2
	}
	if profile.RequiresCreativity && hasUseCase(tmpl, "creative") {
		score += 2
	}

	if complexityTier(profile.Complexity) == tmpl.Complexity {
		score += 2
	}

	return score
}

func hasUseCase(tmpl Template, useCase string) bool {
	for _, uc := range tmpl.UseCases {
		if uc == useCase {
			return true
		}
	}
	return false
}

func complexityTier(complexity float64) string {
	switch {
	case complexity > 7:
		return "high"
	case complexity < 3:
		return "low"
	default:
		return "medium"
	}
}

// selectByPerformance restricts to templates matching the profile domain
// (or "general") and picks the one with the best observed feedback score.
// Templates never scored yet count as 0.5.
func (s *Selector) selectByPerformance(profile analyzer.Profile) Template {
	var candidates []Template
	for _, tmpl := range s.templates {
		for _, domain := range tmpl.Domains {
			if domain == profile.Domain || domain == "general" {
				candidates = append(candidates, tmpl)
				break
			}
		}
	}
	if len(candidates) == 0 {
		candidates = s.templates
	}

	best := candidates[0]
	bestScore := s.perfScore(best.Name)
	for _, tmpl := range candidates[1:] {
		if score := s.perfScore(tmpl.Name); score > bestScore {
			best = tmpl
			bestScore = score
		}
	}

	return best
}

func (s *Selector) perfScore(name string) float64 {
	if entry, ok := s.perf[name]; ok && entry.count > 0 {
		return entry.score
	}
	return 0.5
}

// UpdatePerformance folds a feedback score into the template's running
// average. Scores outside [0,1] are clamped.
func (s *Selector) UpdatePerformance(name string, score float64) {
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.perf[name]
	if !ok {
		entry = &perfEntry{}
		s.perf[name] = entry
	}

	entry.score = (entry.score*float64(entry.count) + score) / float64(entry.count+1)
	entry.count++
}

// PerformanceStats returns a snapshot of template scores.
func (s *Selector) PerformanceStats() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]float64, len(s.perf))
	for name, entry := range s.perf {
		stats[name] = entry.score
	}
	return stats
}

// Compose renders the final prompt: the template text with the query
// substituted, followed by any format instructions the profile calls for
// and, when dynamic tuning is on, instructions derived from the profile.
func (s *Selector) Compose(tmpl Template, query string, profile analyzer.Profile) string {
	prompt := strings.ReplaceAll(tmpl.Text, "{query}", query)

	instructions := formatInstructions(profile.Format)
	if s.dynamic {
		instructions = append(instructions, dynamicInstructions(profile)...)
	}

	if len(instructions) > 0 {
		prompt = fmt.Sprintf("%s\n\nPlease follow these guidelines:\n- %s",
			prompt, strings.Join(instructions, "\n- "))
	}

	return prompt
}

func formatInstructions(format analyzer.FormatRequirements) []string {
	var out []string

	if format.List {
		out = append(out, "Format the answer as a list")
	}
	if format.StepByStep {
		out = append(out, "Provide step-by-step instructions")
	}
	if format.Examples {
		out = append(out, "Include concrete examples")
	}
	if format.Summary {
		out = append(out, "Keep the answer brief and to the point")
	}
	if format.Comparison {
		out = append(out, "Structure the answer as a comparison")
	}
	if format.ProsCons {
		out = append(out, "List pros and cons explicitly")
	}
	if format.Table {
		out = append(out, "Present the information in a table")
	}
	if format.Diagram {
		out = append(out, "Describe the structure so it could be drawn as a diagram")
	}

	return out
}

func dynamicInstructions(profile analyzer.Profile) []string {
	var out []string

	switch {
	case profile.Complexity > 7:
		out = append(out, "Give a comprehensive, thorough answer")
	case profile.Complexity < 3:
		out = append(out, "Answer concisely")
	}

	if profile.RequiresCode {
		out = append(out, "Include working code in the answer")
	}
	if profile.Urgency == "high" {
		out = append(out, "Lead with the actionable answer before any background")
	}

	return out
}
