package analyzer

import (
	"math"
	"strings"
	"unicode"
)

// Profile is the structured result of analyzing a single query. Every
// downstream decision (template choice, model routing, discussion depth)
// reads from this profile rather than re-inspecting the raw text.
type Profile struct {
	Complexity         float64            `json:"complexity"`
	Domain             string             `json:"domain"`
	Topics             []string           `json:"topics"`
	QueryType          string             `json:"query_type"`
	Format             FormatRequirements `json:"format_requirements"`
	RequiresCode       bool               `json:"requires_code"`
	RequiresReasoning  bool               `json:"requires_reasoning"`
	RequiresCreativity bool               `json:"requires_creativity"`
	Languages          []string           `json:"languages"`
	Sentiment          string             `json:"sentiment"`
	Urgency            string             `json:"urgency"`
}

// FormatRequirements flags the output shapes the query asks for.
type FormatRequirements struct {
	List       bool `json:"list"`
	StepByStep bool `json:"step_by_step"`
	Examples   bool `json:"examples"`
	Summary    bool `json:"summary"`
	Comparison bool `json:"comparison"`
	ProsCons   bool `json:"pros_cons"`
	Table      bool `json:"table"`
	Diagram    bool `json:"diagram"`
}

// Query type identifiers, ordered by match precedence. A query that
// matches no rule is a "question" when it carries a question mark and a
// "statement" otherwise.
const (
	QueryTypeHowTo      = "how_to"
	QueryTypeWhy        = "why"
	QueryTypeWhatIs     = "what_is"
	QueryTypeComparison = "comparison"
	QueryTypeExample    = "example"
	QueryTypeList       = "list"
	QueryTypeOpinion    = "opinion"
	QueryTypePrediction = "prediction"
	QueryTypeQuestion   = "question"
	QueryTypeStatement  = "statement"
)

// domainOrder fixes the tie-break order for domain detection: with equal
// keyword hits, the earlier domain wins.
var domainOrder = []string{
	"technology", "business", "science", "health", "education", "arts", "lifestyle",
}

var domainKeywords = map[string][]string{
	"technology": {
		"code", "program", "software", "hardware", "computer", "algorithm",
		"api", "database", "server", "network", "app", "programming",
		"developer", "javascript", "python", "golang", "java", "framework",
		"library", "compile", "debug", "deploy", "docker", "cloud",
	},
	"business": {
		"market", "company", "startup", "revenue", "profit", "investment",
		"strategy", "customer", "sales", "marketing", "finance", "budget",
		"stakeholder", "management", "entrepreneur", "economy",
	},
	"science": {
		"physics", "chemistry", "biology", "experiment", "theory", "hypothesis",
		"molecule", "atom", "cell", "evolution", "quantum", "gravity",
		"scientific", "research", "laboratory", "genome", "climate",
	},
	"health": {
		"health", "medical", "disease", "medicine", "treatment", "nutrition",
		"symptom", "diagnosis", "therapy", "doctor", "patient", "diet",
		"wellness", "illness",
	},
	"education": {
		"education", "learning", "school", "university", "teaching",
		"curriculum", "student", "course", "exam", "lecture", "homework",
		"degree", "study plan",
	},
	"arts": {
		"music", "painting", "literature", "poetry", "film", "sculpture",
		"novel", "artist", "creative", "design", "aesthetic", "theater",
		"photography", "composition",
	},
	"lifestyle": {
		"travel", "cuisine", "fashion", "sports", "recipe", "cooking",
		"fitness", "hobby", "vacation", "restaurant", "gardening",
	},
}

var complexityKeywords = []string{
	"analyze", "evaluate", "compare", "synthesize", "architecture",
	"trade-off", "tradeoff", "optimize", "distributed", "concurrent",
	"scalability", "in depth", "comprehensive", "detailed", "thorough",
	"implications", "relationship between",
}

var codeKeywords = []string{
	"code", "function", "implement", "program", "script", "algorithm",
	"bug", "debug", "compile", "syntax", "class", "method", "api",
	"write a", "refactor",
}

var reasoningKeywords = []string{
	"why", "explain", "reason", "analyze", "evaluate", "compare",
	"difference", "because", "cause", "consequence", "prove", "justify",
	"logic", "deduce",
}

var creativityKeywords = []string{
	"story", "poem", "creative", "imagine", "invent", "design",
	"brainstorm", "fiction", "write a song", "lyrics", "metaphor",
	"original idea",
}

var urgencyKeywords = []string{
	"urgent", "asap", "immediately", "right now", "quickly", "deadline",
	"emergency", "time-sensitive",
}

var positiveWords = []string{
	"great", "good", "love", "excellent", "awesome", "wonderful",
	"amazing", "happy", "thanks", "appreciate",
}

var negativeWords = []string{
	"bad", "terrible", "hate", "awful", "frustrated", "angry",
	"broken", "fail", "wrong", "annoying",
}

type formatRule struct {
	keywords []string
	apply    func(*FormatRequirements)
}

var formatRules = []formatRule{
	{[]string{"list of", "list the", "enumerate", "bullet point"},
		func(f *FormatRequirements) { f.List = true }},
	{[]string{"step by step", "step-by-step", "walk me through", "how do i", "instructions"},
		func(f *FormatRequirements) { f.StepByStep = true }},
	{[]string{"example", "for instance", "sample", "show me"},
		func(f *FormatRequirements) { f.Examples = true }},
	{[]string{"summarize", "summary", "tldr", "tl;dr", "briefly", "in short"},
		func(f *FormatRequirements) { f.Summary = true }},
	{[]string{"compare", "versus", " vs ", "difference between"},
		func(f *FormatRequirements) { f.Comparison = true }},
	{[]string{"pros and cons", "advantages and disadvantages", "benefits and drawbacks"},
		func(f *FormatRequirements) { f.ProsCons = true }},
	{[]string{"table", "tabular"},
		func(f *FormatRequirements) { f.Table = true }},
	{[]string{"diagram", "chart", "visualize", "flowchart"},
		func(f *FormatRequirements) { f.Diagram = true }},
}

type queryTypeRule struct {
	name     string
	prefixes []string
	keywords []string
}

// Rules are checked in order; the first match wins.
var queryTypeRules = []queryTypeRule{
	{QueryTypeHowTo,
		[]string{"how to", "how do", "how can", "how should"},
		[]string{"way to", "steps to", "guide to"}},
	{QueryTypeWhy,
		nil,
		[]string{"why", "reason", "what causes"}},
	{QueryTypeWhatIs,
		[]string{"what is", "what are", "what's", "define", "explain what"},
		[]string{"definition of", "explain"}},
	{QueryTypeComparison,
		nil,
		[]string{"compare", "versus", " vs ", "difference", "similarity", "better than", "which is better"}},
	{QueryTypeExample,
		nil,
		[]string{"example", "for instance", "illustrate"}},
	{QueryTypeList,
		[]string{"list", "name some", "give me some"},
		[]string{"enumerate", "types of", "top 10", "top ten"}},
	{QueryTypeOpinion,
		[]string{"do you think", "what do you think", "should i", "is it worth"},
		[]string{"your opinion", "evaluate", "recommend", "comment on"}},
	{QueryTypePrediction,
		[]string{"will ", "predict"},
		[]string{"in the future", "forecast", "going to happen"}},
}

type Analyzer struct{}

func New() *Analyzer {
	return &Analyzer{}
}

// Analyze is pure: the same query always produces the same profile.
func (a *Analyzer) Analyze(query string) Profile {
	lower := strings.ToLower(query)

	profile := Profile{
		Complexity:         complexity(query, lower),
		Domain:             detectDomain(lower),
		Topics:             extractTopics(lower),
		QueryType:          detectQueryType(lower),
		Format:             detectFormat(lower),
		RequiresCode:       containsAny(lower, codeKeywords),
		RequiresReasoning:  containsAny(lower, reasoningKeywords),
		RequiresCreativity: containsAny(lower, creativityKeywords),
		Languages:          detectLanguages(query),
		Sentiment:          detectSentiment(lower),
		Urgency:            detectUrgency(lower),
	}

	return profile
}

// complexity scores the query on a 0..10 scale from length, punctuation
// density, and complexity-signalling vocabulary.
func complexity(query, lower string) float64 {
	score := float64(len(query)) / 100.0
	score += 0.1 * float64(strings.Count(query, ","))
	score += 0.3 * float64(strings.Count(query, "?"))

	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			score += 0.5
		}
	}

	return math.Min(10.0, score)
}

func detectDomain(lower string) string {
	best := "general"
	bestHits := 0

	for _, domain := range domainOrder {
		hits := 0
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = domain
			bestHits = hits
		}
	}

	return best
}

// extractTopics returns the domain keywords actually present in the query,
// in the fixed domain order.
func extractTopics(lower string) []string {
	var topics []string
	seen := map[string]bool{}

	for _, domain := range domainOrder {
		for _, kw := range domainKeywords[domain] {
			if !seen[kw] && strings.Contains(lower, kw) {
				topics = append(topics, kw)
				seen[kw] = true
			}
		}
	}

	return topics
}

func detectQueryType(lower string) string {
	trimmed := strings.TrimSpace(lower)

	for _, rule := range queryTypeRules {
		for _, prefix := range rule.prefixes {
			if strings.HasPrefix(trimmed, prefix) {
				return rule.name
			}
		}
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.name
			}
		}
	}

	if strings.Contains(lower, "?") {
		return QueryTypeQuestion
	}
	return QueryTypeStatement
}

func detectFormat(lower string) FormatRequirements {
	var format FormatRequirements

	for _, rule := range formatRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				rule.apply(&format)
				break
			}
		}
	}

	return format
}

// detectLanguages inspects the script of the text. It never returns an
// empty slice; undetectable input yields ["unknown"].
func detectLanguages(query string) []string {
	var hasLatin, hasCJK bool

	for _, r := range query {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			hasCJK = true
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			hasCJK = true
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
		}
	}

	var langs []string
	if hasLatin {
		langs = append(langs, "english")
	}
	if hasCJK {
		langs = append(langs, "cjk")
	}
	if len(langs) == 0 {
		langs = []string{"unknown"}
	}

	return langs
}

func detectSentiment(lower string) string {
	pos := countAny(lower, positiveWords)
	neg := countAny(lower, negativeWords)

	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}

func detectUrgency(lower string) string {
	if containsAny(lower, urgencyKeywords) {
		return "high"
	}
	return "normal"
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func countAny(s string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			count++
		}
	}
	return count
}
