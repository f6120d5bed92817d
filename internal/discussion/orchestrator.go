package discussion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/llm"
	"github.com/prefopt/backend/internal/metrics"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
)

// historyLimit bounds the in-memory discussion log.
const historyLimit = 100

// Generator produces one model response. Satisfied by *llm.Client.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) *llm.Response
}

// ModelInfo identifies one discussion participant.
type ModelInfo struct {
	Name         string
	Role         string
	SystemPrompt string
}

// Contribution is one expert's statement in one round.
type Contribution struct {
	Model   string `json:"model"`
	Role    string `json:"role"`
	Round   int    `json:"round"`
	Content string `json:"content"`
}

// RoundUpdate is emitted after each contribution for live streaming.
type RoundUpdate struct {
	DiscussionID string `json:"discussion_id"`
	Round        int    `json:"round"`
	Model        string `json:"model"`
	Content      string `json:"content"`
}

// Result is the outcome of a full discussion.
type Result struct {
	DiscussionID   string        `json:"discussion_id"`
	Response       string        `json:"response"`
	ModelsUsed     []string      `json:"models_used"`
	Rounds         int           `json:"rounds"`
	CompletionTime time.Duration `json:"completion_time"`
	Success        bool          `json:"success"`
	Err            string        `json:"error,omitempty"`
}

// Record is the stored transcript of a discussion.
type Record struct {
	ID            string         `json:"id"`
	Query         string         `json:"query"`
	Timestamp     time.Time      `json:"timestamp"`
	Contributions []Contribution `json:"contributions"`
	Synthesis     string         `json:"synthesis"`
	Success       bool           `json:"success"`
}

// Options tune one discussion run. Zero Rounds uses the configured
// default. OnRound, when set, is called synchronously after every
// contribution.
type Options struct {
	Rounds  int
	OnRound func(RoundUpdate)
}

// Orchestrator runs multi-round expert discussions: every participant
// answers, sees the other contributions, refines, and a synthesizer
// merges the final round into one answer.
type Orchestrator struct {
	gen       Generator
	cfg       config.DiscussionConfig
	synthesis config.GroupDiscussionConfig

	mu      sync.Mutex
	history map[string]*Record
	order   []string
}

func NewOrchestrator(gen Generator, cfg config.DiscussionConfig, synthesis config.GroupDiscussionConfig) *Orchestrator {
	if cfg.DefaultRounds <= 0 {
		cfg.DefaultRounds = 2
	}

	return &Orchestrator{
		gen:       gen,
		cfg:       cfg,
		synthesis: synthesis,
		history:   map[string]*Record{},
	}
}

// Conduct runs the discussion to completion. The result is never nil;
// with no participants or no surviving contributions Success is false.
func (o *Orchestrator) Conduct(ctx context.Context, query string, participants []ModelInfo, opts Options) *Result {
	start := time.Now()
	discussionID := "disc_" + uuid.New().String()

	result := &Result{DiscussionID: discussionID}

	if len(participants) == 0 {
		result.Err = "no participants available for discussion"
		return result
	}

	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = o.cfg.DefaultRounds
	}

	record := &Record{
		ID:        discussionID,
		Query:     query,
		Timestamp: start,
	}

	logger.Info("Discussion started",
		zap.String("discussion_id", discussionID),
		zap.Int("participants", len(participants)),
		zap.Int("rounds", rounds),
	)

	var lastRound []Contribution
	for round := 1; round <= rounds; round++ {
		current := o.runRound(ctx, discussionID, query, participants, lastRound, round, opts.OnRound)
		if len(current) > 0 {
			lastRound = current
			record.Contributions = append(record.Contributions, current...)
		}
		metrics.RecordDiscussionRound()
	}

	if len(lastRound) == 0 {
		result.Err = "every participant failed to contribute"
		result.CompletionTime = time.Since(start)
		o.remember(record)
		return result
	}

	synthesis := o.synthesize(ctx, query, participants, lastRound)

	seen := map[string]bool{}
	for _, contrib := range record.Contributions {
		if !seen[contrib.Model] {
			result.ModelsUsed = append(result.ModelsUsed, contrib.Model)
			seen[contrib.Model] = true
		}
	}

	result.Response = synthesis
	result.Rounds = rounds
	result.Success = true
	result.CompletionTime = time.Since(start)

	record.Synthesis = synthesis
	record.Success = true
	o.remember(record)

	logger.Info("Discussion completed",
		zap.String("discussion_id", discussionID),
		zap.Duration("elapsed", result.CompletionTime),
	)

	return result
}

func (o *Orchestrator) runRound(ctx context.Context, discussionID, query string, participants []ModelInfo, previous []Contribution, round int, onRound func(RoundUpdate)) []Contribution {
	var contributions []Contribution

	for _, participant := range participants {
		prompt := expertPrompt(query, participant, previous, round)

		resp := o.gen.Generate(ctx, llm.Request{
			Model:        participant.Name,
			Prompt:       prompt,
			SystemPrompt: participant.SystemPrompt,
			Temperature:  o.cfg.Temperature,
			MaxTokens:    o.cfg.MaxTokens,
		})
		if !resp.Success || resp.Content == "" {
			logger.Warn("Participant failed to contribute",
				zap.String("discussion_id", discussionID),
				zap.String("model", participant.Name),
				zap.Int("round", round),
			)
			continue
		}

		contribution := Contribution{
			Model:   participant.Name,
			Role:    participant.Role,
			Round:   round,
			Content: resp.Content,
		}
		contributions = append(contributions, contribution)

		if onRound != nil {
			onRound(RoundUpdate{
				DiscussionID: discussionID,
				Round:        round,
				Model:        participant.Name,
				Content:      resp.Content,
			})
		}
	}

	return contributions
}

func expertPrompt(query string, participant ModelInfo, previous []Contribution, round int) string {
	var b strings.Builder

	role := participant.Role
	if role == "" {
		role = "general analysis"
	}

	if round == 1 {
		fmt.Fprintf(&b, "As an expert in %s, answer the following question from your perspective:\n\n%s", role, query)
		return b.String()
	}

	fmt.Fprintf(&b, "Question: %s\n\nOther experts have contributed:\n\n", query)
	for _, contrib := range previous {
		fmt.Fprintf(&b, "[%s, expert in %s]:\n%s\n\n", contrib.Model, contrib.Role, contrib.Content)
	}
	fmt.Fprintf(&b, "As an expert in %s, refine your answer. Address gaps or disagreements in the contributions above.", role)

	return b.String()
}

// synthesize merges the final round into one answer. The synthesizer is
// the participant with the deep_thinking role, else the first
// participant. When synthesis fails, the contributions are concatenated
// verbatim so the discussion still yields an answer.
func (o *Orchestrator) synthesize(ctx context.Context, query string, participants []ModelInfo, finalRound []Contribution) string {
	synthesizer := participants[0]
	for _, participant := range participants {
		if participant.Role == "deep_thinking" {
			synthesizer = participant
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExpert contributions:\n\n", query)
	for _, contrib := range finalRound {
		fmt.Fprintf(&b, "[%s, expert in %s]:\n%s\n\n", contrib.Model, contrib.Role, contrib.Content)
	}
	b.WriteString("Synthesize these contributions into a single comprehensive answer. Resolve disagreements explicitly and keep the strongest points from each expert.")

	resp := o.gen.Generate(ctx, llm.Request{
		Model:        synthesizer.Name,
		Prompt:       b.String(),
		SystemPrompt: o.synthesis.SystemPrompt,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
	})
	if resp.Success && resp.Content != "" {
		return resp.Content
	}

	logger.Warn("Synthesis failed, falling back to concatenation",
		zap.String("model", synthesizer.Name))

	var fallback strings.Builder
	for i, contrib := range finalRound {
		if i > 0 {
			fallback.WriteString("\n\n")
		}
		fmt.Fprintf(&fallback, "### Perspective from %s\n\n%s", contrib.Model, contrib.Content)
	}
	return fallback.String()
}

func (o *Orchestrator) remember(record *Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.order) >= historyLimit {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.history, oldest)
	}
	o.history[record.ID] = record
	o.order = append(o.order, record.ID)
}

// GetDiscussion returns the stored transcript, or nil when unknown or
// already evicted.
func (o *Orchestrator) GetDiscussion(id string) *Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.history[id]
}
