package preference

import (
	"sort"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/analyzer"
	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
)

// StrengthCategories is the fixed capability vocabulary. Model strength
// vectors and routing importance maps are both keyed by these names.
var StrengthCategories = []string{
	"programming",
	"algorithms",
	"technical_explanation",
	"reasoning",
	"critical_thinking",
	"analysis",
	"evaluation",
	"creative",
	"comprehensive",
	"thorough",
	"balanced",
	"conciseness",
	"clarity",
	"mathematics",
	"writing",
	"summarization",
	"factual_knowledge",
	"instruction_following",
	"multilingual",
}

// ModelProfile is the mutable routing state for one model.
type ModelProfile struct {
	Name           string             `json:"name"`
	Strengths      map[string]float64 `json:"strengths"`
	Weight         float64            `json:"weight"`
	WinRate        float64            `json:"win_rate"`
	AvgScore       float64            `json:"avg_score"`
	SelectionCount int                `json:"selection_count"`
	FeedbackCount  int                `json:"feedback_count"`
}

type strengthRule struct {
	when       func(analyzer.Profile) bool
	importance map[string]float64
}

// strengthRules maps query characteristics to the capabilities they need.
// Importance values from multiple matching rules merge, keeping the
// higher value per category.
var strengthRules = []strengthRule{
	{
		func(p analyzer.Profile) bool { return p.RequiresCode },
		map[string]float64{"programming": 0.9, "algorithms": 0.7, "technical_explanation": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.RequiresReasoning },
		map[string]float64{"reasoning": 0.8, "critical_thinking": 0.7, "analysis": 0.7, "evaluation": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.RequiresCreativity },
		map[string]float64{"creative": 0.9},
	},
	{
		func(p analyzer.Profile) bool { return p.Complexity > 7 },
		map[string]float64{"comprehensive": 0.8, "thorough": 0.7, "balanced": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Complexity < 3 },
		map[string]float64{"conciseness": 0.8, "clarity": 0.7},
	},
	{
		func(p analyzer.Profile) bool { return p.QueryType == analyzer.QueryTypeHowTo },
		map[string]float64{"technical_explanation": 0.7, "clarity": 0.7},
	},
	{
		func(p analyzer.Profile) bool { return p.QueryType == analyzer.QueryTypeComparison },
		map[string]float64{"analysis": 0.8, "evaluation": 0.7, "balanced": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.QueryType == analyzer.QueryTypeWhatIs },
		map[string]float64{"factual_knowledge": 0.8, "clarity": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.QueryType == analyzer.QueryTypeOpinion },
		map[string]float64{"critical_thinking": 0.7, "balanced": 0.7},
	},
	{
		func(p analyzer.Profile) bool { return p.QueryType == analyzer.QueryTypeList },
		map[string]float64{"summarization": 0.6, "conciseness": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Format.StepByStep },
		map[string]float64{"instruction_following": 0.7, "clarity": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Format.Examples },
		map[string]float64{"technical_explanation": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Format.Comparison },
		map[string]float64{"analysis": 0.7, "balanced": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Domain == "technology" },
		map[string]float64{"technical_explanation": 0.7, "programming": 0.5},
	},
	{
		func(p analyzer.Profile) bool { return p.Domain == "science" },
		map[string]float64{"factual_knowledge": 0.7, "analysis": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Domain == "business" },
		map[string]float64{"analysis": 0.7, "evaluation": 0.6},
	},
	{
		func(p analyzer.Profile) bool { return p.Domain == "arts" },
		map[string]float64{"creative": 0.7, "writing": 0.7},
	},
	{
		func(p analyzer.Profile) bool { return len(p.Languages) > 1 },
		map[string]float64{"multilingual": 0.8},
	},
}

// RequiredStrengths derives which capabilities a query needs and how much.
func RequiredStrengths(profile analyzer.Profile) map[string]float64 {
	required := map[string]float64{}

	for _, rule := range strengthRules {
		if !rule.when(profile) {
			continue
		}
		for category, importance := range rule.importance {
			if importance > required[category] {
				required[category] = importance
			}
		}
	}

	return required
}

const (
	keywordCacheLimit   = 2000
	winRateSampleCap    = 100
	importanceFloor     = 0.1
	scoreEMAOldFraction = 0.9
	defaultStrength     = 0.5
)

type perfStat struct {
	wins  int
	total int
}

func (p *perfStat) rate() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.wins) / float64(p.total)
}

// Optimizer routes queries to models and folds user feedback back into
// the routing weights. Safe for concurrent use.
type Optimizer struct {
	mu     sync.Mutex
	cfg    config.PreferenceConfig
	models map[string]*ModelProfile
	order  []string

	// keyword and query-type performance caches, bounded in size
	keywordPerf   map[string]map[string]*perfStat
	keywordOrder  []string
	queryTypePerf map[string]map[string]*perfStat
}

func NewOptimizer(cfg config.PreferenceConfig, modelCfgs []config.ModelConfig, group config.GroupDiscussionConfig) *Optimizer {
	if cfg.DefaultWeight == 0 {
		cfg.DefaultWeight = 1.0
	}
	if cfg.MinWeight == 0 {
		cfg.MinWeight = 0.5
	}
	if cfg.MaxWeight == 0 {
		cfg.MaxWeight = 2.0
	}
	if cfg.WeightUpdateFactor == 0 {
		cfg.WeightUpdateFactor = 0.1
	}
	if cfg.WinRateWeight == 0 && cfg.ScoreWeight == 0 {
		cfg.WinRateWeight = 0.7
		cfg.ScoreWeight = 0.3
	}

	o := &Optimizer{
		cfg:           cfg,
		models:        map[string]*ModelProfile{},
		keywordPerf:   map[string]map[string]*perfStat{},
		queryTypePerf: map[string]map[string]*perfStat{},
	}

	for _, mc := range modelCfgs {
		o.register(mc.Name, mc.Strengths)
	}
	if group.Name != "" {
		o.register(group.Name, group.Strengths)
	}

	return o
}

func (o *Optimizer) register(name string, strengths map[string]float64) {
	if name == "" {
		return
	}
	if _, exists := o.models[name]; exists {
		return
	}

	// Categories the configuration does not mention sit at a neutral 0.5,
	// so a narrow strength vector is not punished on unrelated needs.
	copied := make(map[string]float64, len(StrengthCategories))
	for _, category := range StrengthCategories {
		copied[category] = defaultStrength
	}
	for category, value := range strengths {
		copied[category] = value
	}

	o.models[name] = &ModelProfile{
		Name:      name,
		Strengths: copied,
		Weight:    o.cfg.DefaultWeight,
		WinRate:   0.5,
		AvgScore:  0.5,
	}
	o.order = append(o.order, name)
}

// SelectBestModel picks the candidate whose weighted capability score
// best fits the profile. Ties keep the earlier candidate. Returns ""
// when no candidate is known.
func (o *Optimizer) SelectBestModel(profile analyzer.Profile, candidates []string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	required := RequiredStrengths(profile)

	best := ""
	bestScore := -1.0

	for _, name := range candidates {
		model, ok := o.models[name]
		if !ok {
			logger.Warn("Skipping unknown model candidate", zap.String("model", name))
			continue
		}

		score := capabilityScore(model.Strengths, required) * model.Weight
		if score > bestScore {
			best = name
			bestScore = score
		}
	}

	if best != "" {
		o.models[best].SelectionCount++
	}

	return best
}

// capabilityScore is the importance-weighted mean of the model strengths
// the profile calls for. With no meaningful requirements it degrades to
// the unweighted mean of all the model's strengths.
func capabilityScore(strengths, required map[string]float64) float64 {
	var weightedSum, importanceSum float64
	for category, importance := range required {
		if importance <= importanceFloor {
			continue
		}
		weightedSum += strengths[category] * importance
		importanceSum += importance
	}
	if importanceSum > 0 {
		return weightedSum / importanceSum
	}

	if len(strengths) == 0 {
		return 0.5
	}
	var sum float64
	for _, value := range strengths {
		sum += value
	}
	return sum / float64(len(strengths))
}

// UpdateWeightsFromFeedback folds one feedback event into the routing
// state. An unknown selected model makes the whole call a logged no-op.
// Win rates move only when the selection was an actual contest between
// two or more responses; the weight recompute applies to the selected
// model alone.
func (o *Optimizer) UpdateWeightsFromFeedback(profile analyzer.Profile, query string, responses map[string]string, selected string, score models.Score) {
	o.mu.Lock()
	defer o.mu.Unlock()

	winner, ok := o.models[selected]
	if !ok {
		logger.Warn("Feedback references unknown model, ignoring", zap.String("model", selected))
		return
	}

	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 1 {
		for _, name := range names {
			model, ok := o.models[name]
			if !ok {
				logger.Warn("Feedback references unknown model", zap.String("model", name))
				continue
			}
			o.updateWinRate(model, name == selected)
		}
	}

	if scalar, hasScore := score.Scalar(); hasScore {
		winner.AvgScore = winner.AvgScore*scoreEMAOldFraction + scalar*(1-scoreEMAOldFraction)
	}

	performance := winner.WinRate*o.cfg.WinRateWeight + winner.AvgScore*o.cfg.ScoreWeight
	winner.Weight = o.clampWeight(winner.Weight + (performance-0.5)*o.cfg.WeightUpdateFactor)

	logger.Debug("Updated model routing state",
		zap.String("model", selected),
		zap.Float64("win_rate", winner.WinRate),
		zap.Float64("avg_score", winner.AvgScore),
		zap.Float64("weight", winner.Weight),
	)

	o.recordPerformance(query, profile.QueryType, selected, names)
}

// updateWinRate applies one win or loss to the adaptive EMA. Early
// samples move the rate quickly; past 100 observations the decay holds
// at its cap, keeping the rate responsive to recent outcomes.
func (o *Optimizer) updateWinRate(model *ModelProfile, won bool) {
	n := model.FeedbackCount + 1
	if n > winRateSampleCap {
		n = winRateSampleCap
	}
	decay := float64(n) / (float64(n) + 10.0)
	winValue := 0.0
	if won {
		winValue = 1.0
	}
	model.WinRate = model.WinRate*decay + winValue*(1-decay)
	model.FeedbackCount++
}

func (o *Optimizer) clampWeight(w float64) float64 {
	if w < o.cfg.MinWeight {
		return o.cfg.MinWeight
	}
	if w > o.cfg.MaxWeight {
		return o.cfg.MaxWeight
	}
	return w
}

// recordPerformance updates the per-keyword and per-query-type win
// counters for every participant. The keyword cache is bounded; once
// full, the oldest keywords are evicted.
func (o *Optimizer) recordPerformance(query, queryType, selected string, participants []string) {
	for _, keyword := range queryKeywords(query) {
		stats, ok := o.keywordPerf[keyword]
		if !ok {
			if len(o.keywordOrder) >= keywordCacheLimit {
				oldest := o.keywordOrder[0]
				o.keywordOrder = o.keywordOrder[1:]
				delete(o.keywordPerf, oldest)
			}
			stats = map[string]*perfStat{}
			o.keywordPerf[keyword] = stats
			o.keywordOrder = append(o.keywordOrder, keyword)
		}
		recordWin(stats, selected, participants)
	}

	if queryType != "" {
		stats, ok := o.queryTypePerf[queryType]
		if !ok {
			stats = map[string]*perfStat{}
			o.queryTypePerf[queryType] = stats
		}
		recordWin(stats, selected, participants)
	}
}

func recordWin(stats map[string]*perfStat, selected string, participants []string) {
	for _, name := range participants {
		stat, ok := stats[name]
		if !ok {
			stat = &perfStat{}
			stats[name] = stat
		}
		stat.total++
		if name == selected {
			stat.wins++
		}
	}
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "that": true, "this": true, "it": true, "as": true,
	"at": true, "by": true, "from": true, "can": true, "do": true,
	"does": true, "how": true, "what": true, "why": true, "when": true,
	"i": true, "you": true, "me": true, "my": true, "your": true,
	"please": true, "about": true,
}

// queryKeywords extracts the content words of a query: nouns, verbs, and
// adjectives past the stopword filter, lowercased. Tokenization failures
// degrade to an empty keyword set.
func queryKeywords(query string) []string {
	doc, err := prose.NewDocument(query,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		logger.Debug("Keyword tokenization failed", zap.Error(err))
		return nil
	}

	var keywords []string
	seen := map[string]bool{}
	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") &&
			!strings.HasPrefix(tok.Tag, "VB") &&
			!strings.HasPrefix(tok.Tag, "JJ") {
			continue
		}
		word := strings.ToLower(tok.Text)
		if len(word) < 3 || stopwords[word] || seen[word] {
			continue
		}
		keywords = append(keywords, word)
		seen[word] = true
	}

	return keywords
}

// Weights returns a snapshot of the current routing weights.
func (o *Optimizer) Weights() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	weights := make(map[string]float64, len(o.models))
	for name, model := range o.models {
		weights[name] = model.Weight
	}
	return weights
}

// Profiles returns a deep snapshot of every model profile, in
// registration order.
func (o *Optimizer) Profiles() []ModelProfile {
	o.mu.Lock()
	defer o.mu.Unlock()

	profiles := make([]ModelProfile, 0, len(o.order))
	for _, name := range o.order {
		model := o.models[name]
		copied := *model
		copied.Strengths = make(map[string]float64, len(model.Strengths))
		for category, value := range model.Strengths {
			copied.Strengths[category] = value
		}
		profiles = append(profiles, copied)
	}
	return profiles
}

// QueryTypeWinRates reports, per query type, each model's share of wins
// among feedback events it participated in.
func (o *Optimizer) QueryTypeWinRates() map[string]map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]map[string]float64, len(o.queryTypePerf))
	for queryType, stats := range o.queryTypePerf {
		rates := make(map[string]float64, len(stats))
		for name, stat := range stats {
			rates[name] = stat.rate()
		}
		out[queryType] = rates
	}
	return out
}

// KeywordWinRates reports win rates for one keyword, or nil when the
// keyword has never been observed.
func (o *Optimizer) KeywordWinRates(keyword string) map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats, ok := o.keywordPerf[strings.ToLower(keyword)]
	if !ok {
		return nil
	}
	rates := make(map[string]float64, len(stats))
	for name, stat := range stats {
		rates[name] = stat.rate()
	}
	return rates
}

// KnownModels returns the registered model names in registration order.
func (o *Optimizer) KnownModels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, len(o.order))
	copy(names, o.order)
	return names
}
