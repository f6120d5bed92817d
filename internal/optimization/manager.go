package optimization

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/analyzer"
	"github.com/prefopt/backend/internal/discussion"
	"github.com/prefopt/backend/internal/feedback"
	"github.com/prefopt/backend/internal/metrics"
	"github.com/prefopt/backend/internal/preference"
	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/internal/template"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
)

// OptimizedQuery is the routing decision for one query: the rendered
// prompt, the analysis it came from, and the model chosen to answer.
type OptimizedQuery struct {
	Prompt        string           `json:"prompt"`
	Profile       analyzer.Profile `json:"profile"`
	TemplateUsed  string           `json:"template_used"`
	SelectedModel string           `json:"selected_model"`
}

type analysisEntry struct {
	profile      analyzer.Profile
	prompt       string
	templateUsed string
}

// Manager is the façade over the optimization pipeline: analysis,
// template composition, model routing, feedback processing, and group
// discussions. When disabled it degrades to identity behavior.
type Manager struct {
	cfg          *config.Config
	analyzer     *analyzer.Analyzer
	selector     *template.Selector
	optimizer    *preference.Optimizer
	collector    *feedback.Collector
	orchestrator *discussion.Orchestrator

	mu         sync.Mutex
	enabled    bool
	cache      map[string]analysisEntry
	cacheOrder []string
	cacheLimit int
}

func NewManager(cfg *config.Config, store feedback.Store, gen discussion.Generator) *Manager {
	cacheLimit := cfg.Optimization.Prompt.AnalysisCacheSize
	if cacheLimit <= 0 {
		cacheLimit = 1000
	}

	m := &Manager{
		cfg:          cfg,
		analyzer:     analyzer.New(),
		selector:     template.NewSelector(cfg.Optimization.Prompt, cfg.Templates),
		optimizer:    preference.NewOptimizer(cfg.Optimization.Preference, cfg.Models, cfg.GroupDiscussion),
		collector:    feedback.NewCollector(cfg.Optimization.Feedback, store),
		orchestrator: discussion.NewOrchestrator(gen, cfg.Optimization.Discussion, cfg.GroupDiscussion),
		enabled:      cfg.Optimization.Enabled,
		cache:        map[string]analysisEntry{},
		cacheLimit:   cacheLimit,
	}

	logger.Info("Optimization manager initialized",
		zap.Bool("enabled", m.enabled),
		zap.Int("models", len(cfg.Models)),
		zap.Int("templates", len(cfg.Templates)),
	)

	return m
}

// OptimizeQuery analyzes the query, composes the prompt, and routes it
// to a model. Repeated queries are served from a bounded cache. Disabled
// optimization passes the query through to the first configured model.
func (m *Manager) OptimizeQuery(query string) OptimizedQuery {
	if !m.Enabled() {
		return OptimizedQuery{
			Prompt:        query,
			TemplateUsed:  "default",
			SelectedModel: m.firstModel(),
		}
	}

	entry, cached := m.cachedAnalysis(query)
	if !cached {
		profile := m.analyzer.Analyze(query)
		tmpl := m.selector.Select(profile)
		entry = analysisEntry{
			profile:      profile,
			prompt:       m.selector.Compose(tmpl, query, profile),
			templateUsed: tmpl.Name,
		}
		m.rememberAnalysis(query, entry)
	}

	selected := m.optimizer.SelectBestModel(entry.profile, m.optimizer.KnownModels())
	if selected == "" {
		selected = m.firstModel()
	}
	if selected != "" {
		metrics.ModelSelections.WithLabelValues(selected).Inc()
	}

	return OptimizedQuery{
		Prompt:        entry.prompt,
		Profile:       entry.profile,
		TemplateUsed:  entry.templateUsed,
		SelectedModel: selected,
	}
}

// SelectBestModel routes a query among an explicit candidate set.
func (m *Manager) SelectBestModel(query string, candidates []string) string {
	if len(candidates) == 0 {
		candidates = m.optimizer.KnownModels()
	}
	if !m.Enabled() {
		if len(candidates) > 0 {
			return candidates[0]
		}
		return ""
	}

	profile := m.analyzer.Analyze(query)
	return m.optimizer.SelectBestModel(profile, candidates)
}

func (m *Manager) cachedAnalysis(query string) (analysisEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[query]
	return entry, ok
}

func (m *Manager) rememberAnalysis(query string, entry analysisEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cache[query]; exists {
		return
	}
	if len(m.cacheOrder) >= m.cacheLimit {
		oldest := m.cacheOrder[0]
		m.cacheOrder = m.cacheOrder[1:]
		delete(m.cache, oldest)
	}
	m.cache[query] = entry
	m.cacheOrder = append(m.cacheOrder, query)
}

func (m *Manager) firstModel() string {
	if len(m.cfg.Models) > 0 {
		return m.cfg.Models[0].Name
	}
	return ""
}

// ShouldRequestFeedback reports whether to prompt the user for feedback
// on this conversation.
func (m *Manager) ShouldRequestFeedback(conversationID string) bool {
	if !m.Enabled() {
		return false
	}
	return m.collector.ShouldRequestFeedback(conversationID)
}

// ProcessFeedback persists one feedback event and folds it into the
// routing weights and template performance scores.
func (m *Manager) ProcessFeedback(conversationID, query string, responses map[string]string, selectedModel string, score models.Score, text string, metadata map[string]string) (*models.FeedbackRecord, error) {
	if !m.Enabled() {
		logger.Debug("Feedback ignored, optimization disabled")
		return nil, nil
	}

	record, err := m.collector.Collect(conversationID, query, responses, selectedModel, score, text, metadata)
	if err != nil {
		return nil, err
	}

	profile := m.analyzer.Analyze(query)
	m.optimizer.UpdateWeightsFromFeedback(profile, query, responses, selectedModel, score)

	for model, weight := range m.optimizer.Weights() {
		metrics.ModelWeight.WithLabelValues(model).Set(weight)
	}

	scalar, hasScore := score.Scalar()
	if hasScore {
		metrics.FeedbackTotal.WithLabelValues("true").Inc()
		metrics.FeedbackScore.Observe(scalar)

		// An evicted or never-cached analysis still carries signal; it
		// is attributed to the default template.
		templateUsed := "default"
		if entry, cached := m.cachedAnalysis(query); cached {
			templateUsed = entry.templateUsed
		}
		m.selector.UpdatePerformance(templateUsed, scalar)
	} else {
		metrics.FeedbackTotal.WithLabelValues("false").Inc()
	}

	return record, nil
}

// ConductDiscussion runs a group discussion over every configured model.
func (m *Manager) ConductDiscussion(ctx context.Context, query string, opts discussion.Options) *discussion.Result {
	participants := make([]discussion.ModelInfo, 0, len(m.cfg.Models))
	for _, mc := range m.cfg.Models {
		participants = append(participants, discussion.ModelInfo{
			Name:         mc.Name,
			Role:         mc.Role,
			SystemPrompt: mc.SystemPrompt,
		})
	}

	result := m.orchestrator.Conduct(ctx, query, participants, opts)

	status := "success"
	if !result.Success {
		status = "error"
	}
	metrics.DiscussionTotal.WithLabelValues(status).Inc()

	return result
}

// GetDiscussion returns a stored discussion transcript, or nil.
func (m *Manager) GetDiscussion(id string) *discussion.Record {
	return m.orchestrator.GetDiscussion(id)
}

// ExportFeedbackData writes the RLHF export bundle and returns its path.
func (m *Manager) ExportFeedbackData(dir string) (string, error) {
	return m.collector.Export(dir)
}

// Stats is the aggregate optimization state snapshot.
type Stats struct {
	Enabled             bool                          `json:"enabled"`
	Models              []preference.ModelProfile     `json:"models"`
	QueryTypeWinRates   map[string]map[string]float64 `json:"query_type_win_rates"`
	TemplatePerformance map[string]float64            `json:"template_performance"`
	TotalFeedback       int                           `json:"total_feedback"`
}

func (m *Manager) GetStats() Stats {
	total, err := m.collector.TotalCollected()
	if err != nil {
		logger.Warn("Failed to count stored feedback", zap.Error(err))
	}

	return Stats{
		Enabled:             m.Enabled(),
		Models:              m.optimizer.Profiles(),
		QueryTypeWinRates:   m.optimizer.QueryTypeWinRates(),
		TemplatePerformance: m.selector.PerformanceStats(),
		TotalFeedback:       total,
	}
}

func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.enabled
}

// SetEnabled toggles the whole pipeline at runtime.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	logger.Info("Optimization toggled", zap.Bool("enabled", enabled))
}

// SetFeedbackEnabled toggles feedback collection without touching the
// rest of the pipeline.
func (m *Manager) SetFeedbackEnabled(enabled bool) {
	m.collector.SetEnabled(enabled)
	logger.Info("Feedback collection toggled", zap.Bool("enabled", enabled))
}

// ClearCaches drops the analysis cache.
func (m *Manager) ClearCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = map[string]analysisEntry{}
	m.cacheOrder = nil
}
