package feedback

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
)

// cacheEvictBatch is how many of the oldest in-memory records are dropped
// when the cache hits its limit.
const cacheEvictBatch = 100

// Store is the persistence surface the collector needs.
type Store interface {
	SaveFeedback(*models.FeedbackRecord) error
	SaveComparison(*models.ComparisonRecord) error
	GetAllFeedback() ([]models.StoredRecord, error)
	GetTotalCount() (int, error)
}

// Collector decides when to ask for feedback, persists what comes back,
// and derives pairwise preference comparisons from multi-model responses.
// Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	cfg       config.FeedbackConfig
	store     Store
	randFloat func() float64

	asked      map[string]bool
	askedOrder []string
	recent     []*models.FeedbackRecord
}

func NewCollector(cfg config.FeedbackConfig, store Store) *Collector {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	return &Collector{
		cfg:       cfg,
		store:     store,
		randFloat: rand.Float64,
		asked:     map[string]bool{},
	}
}

// ShouldRequestFeedback samples whether to ask the user for feedback on
// this conversation. A conversation that has already been asked is never
// asked again.
func (c *Collector) ShouldRequestFeedback(conversationID string) bool {
	if conversationID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled || c.asked[conversationID] {
		return false
	}

	if c.randFloat() >= c.cfg.CollectionProbability {
		return false
	}

	if len(c.askedOrder) >= c.cfg.CacheSize {
		evict := c.askedOrder[:cacheEvictBatch]
		c.askedOrder = c.askedOrder[cacheEvictBatch:]
		for _, id := range evict {
			delete(c.asked, id)
		}
	}
	c.asked[conversationID] = true
	c.askedOrder = append(c.askedOrder, conversationID)

	return true
}

// Collect persists one feedback event and, when enabled, the preference
// comparisons it implies: the selected response paired against every
// other non-empty response.
func (c *Collector) Collect(conversationID, query string, responses map[string]string, selectedModel string, score models.Score, text string, metadata map[string]string) (*models.FeedbackRecord, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("feedback collection is disabled")
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("feedback requires at least one response")
	}
	if _, ok := responses[selectedModel]; !ok {
		return nil, fmt.Errorf("selected model %q has no response", selectedModel)
	}

	now := time.Now()
	record := &models.FeedbackRecord{
		ID:               "fb_" + uuid.New().String(),
		Timestamp:        now,
		ConversationID:   conversationID,
		Query:            query,
		Responses:        responses,
		SelectedResponse: selectedModel,
		FeedbackText:     text,
		Metadata:         metadata,
	}
	if scalar, ok := score.Scalar(); ok {
		record.FeedbackScore = &scalar
	}

	if err := c.store.SaveFeedback(record); err != nil {
		return nil, fmt.Errorf("failed to persist feedback: %w", err)
	}

	c.remember(record)

	if c.cfg.CollectComparisons {
		c.saveComparisons(record, selectedModel, now)
	}

	logger.Info("Feedback collected",
		zap.String("id", record.ID),
		zap.String("conversation_id", conversationID),
		zap.String("selected", selectedModel),
	)

	return record, nil
}

func (c *Collector) saveComparisons(record *models.FeedbackRecord, selectedModel string, now time.Time) {
	chosen := record.Responses[selectedModel]
	if chosen == "" {
		return
	}

	rejectedModels := make([]string, 0, len(record.Responses))
	for model, response := range record.Responses {
		if model != selectedModel && response != "" {
			rejectedModels = append(rejectedModels, model)
		}
	}
	sort.Strings(rejectedModels)

	for _, model := range rejectedModels {
		comparison := &models.ComparisonRecord{
			ID:             "cmp_" + uuid.New().String(),
			Timestamp:      now,
			ConversationID: record.ConversationID,
			Query:          record.Query,
			Chosen:         chosen,
			Rejected:       record.Responses[model],
			ChosenModel:    selectedModel,
			RejectedModel:  model,
			Metadata:       map[string]string{"feedback_id": record.ID},
		}

		if err := c.store.SaveComparison(comparison); err != nil {
			logger.Error("Failed to persist comparison",
				zap.String("feedback_id", record.ID),
				zap.String("rejected_model", model),
				zap.Error(err),
			)
		}
	}
}

func (c *Collector) remember(record *models.FeedbackRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recent = append(c.recent, record)
	if len(c.recent) > c.cfg.CacheSize {
		drop := cacheEvictBatch
		if drop > len(c.recent) {
			drop = len(c.recent)
		}
		c.recent = c.recent[drop:]
	}
}

// Recent returns the in-memory tail of collected feedback, newest last.
func (c *Collector) Recent() []*models.FeedbackRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.FeedbackRecord, len(c.recent))
	copy(out, c.recent)
	return out
}

// TotalCollected reports the durable record count.
func (c *Collector) TotalCollected() (int, error) {
	return c.store.GetTotalCount()
}

func (c *Collector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.Enabled
}

// SetEnabled toggles collection at runtime.
func (c *Collector) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Enabled = enabled
}
