package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/config"
)

// memStore is an in-memory Store for collector tests.
type memStore struct {
	feedback    []*models.FeedbackRecord
	comparisons []*models.ComparisonRecord
	failSaves   bool
}

func (m *memStore) SaveFeedback(rec *models.FeedbackRecord) error {
	if m.failSaves {
		return fmt.Errorf("save failed")
	}
	m.feedback = append(m.feedback, rec)
	return nil
}

func (m *memStore) SaveComparison(rec *models.ComparisonRecord) error {
	if m.failSaves {
		return fmt.Errorf("save failed")
	}
	m.comparisons = append(m.comparisons, rec)
	return nil
}

func (m *memStore) GetAllFeedback() ([]models.StoredRecord, error) {
	var out []models.StoredRecord
	for _, rec := range m.feedback {
		out = append(out, models.StoredRecord{Type: "feedback", Feedback: rec})
	}
	for _, rec := range m.comparisons {
		out = append(out, models.StoredRecord{Type: models.RecordTypeComparison, Comparison: rec})
	}
	return out, nil
}

func (m *memStore) GetTotalCount() (int, error) {
	return len(m.feedback) + len(m.comparisons), nil
}

func testFeedbackConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		Enabled:               true,
		CollectionProbability: 1.0,
		CollectComparisons:    true,
		CacheSize:             1000,
	}
}

func TestShouldRequestFeedbackOncePerConversation(t *testing.T) {
	c := NewCollector(testFeedbackConfig(), &memStore{})
	c.randFloat = func() float64 { return 0.0 }

	assert.True(t, c.ShouldRequestFeedback("conv-1"))
	assert.False(t, c.ShouldRequestFeedback("conv-1"))
	assert.True(t, c.ShouldRequestFeedback("conv-2"))
}

func TestShouldRequestFeedbackRespectsProbability(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.CollectionProbability = 0.3
	c := NewCollector(cfg, &memStore{})

	c.randFloat = func() float64 { return 0.9 }
	assert.False(t, c.ShouldRequestFeedback("conv-1"))

	// A failed roll does not burn the conversation.
	c.randFloat = func() float64 { return 0.1 }
	assert.True(t, c.ShouldRequestFeedback("conv-1"))
}

func TestShouldRequestFeedbackDisabled(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, &memStore{})
	c.randFloat = func() float64 { return 0.0 }

	assert.False(t, c.ShouldRequestFeedback("conv-1"))
	assert.False(t, NewCollector(testFeedbackConfig(), &memStore{}).ShouldRequestFeedback(""))
}

func TestCollectPersistsFeedbackAndComparisons(t *testing.T) {
	store := &memStore{}
	c := NewCollector(testFeedbackConfig(), store)

	responses := map[string]string{
		"coder":   "use sort.Slice",
		"thinker": "reflect on ordering",
		"empty":   "",
	}

	record, err := c.Collect("conv-1", "how to sort", responses, "coder",
		models.ScalarScore(0.9), "nice", map[string]string{"ui": "web"})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.NotEmpty(t, record.ID)
	require.NotNil(t, record.FeedbackScore)
	assert.Equal(t, 0.9, *record.FeedbackScore)
	require.Len(t, store.feedback, 1)

	// Only the non-empty losing response yields a comparison.
	require.Len(t, store.comparisons, 1)
	cmp := store.comparisons[0]
	assert.Equal(t, "coder", cmp.ChosenModel)
	assert.Equal(t, "thinker", cmp.RejectedModel)
	assert.Equal(t, "use sort.Slice", cmp.Chosen)
	assert.Equal(t, record.ID, cmp.Metadata["feedback_id"])
}

func TestCollectWithoutScore(t *testing.T) {
	store := &memStore{}
	c := NewCollector(testFeedbackConfig(), store)

	record, err := c.Collect("conv-1", "q", map[string]string{"coder": "a"}, "coder",
		models.NoScore(), "", nil)
	require.NoError(t, err)
	assert.Nil(t, record.FeedbackScore)
}

func TestCollectValidation(t *testing.T) {
	c := NewCollector(testFeedbackConfig(), &memStore{})

	_, err := c.Collect("conv-1", "q", nil, "coder", models.NoScore(), "", nil)
	assert.Error(t, err)

	_, err = c.Collect("conv-1", "q", map[string]string{"a": "x"}, "missing", models.NoScore(), "", nil)
	assert.Error(t, err)

	cfg := testFeedbackConfig()
	cfg.Enabled = false
	disabled := NewCollector(cfg, &memStore{})
	_, err = disabled.Collect("conv-1", "q", map[string]string{"a": "x"}, "a", models.NoScore(), "", nil)
	assert.Error(t, err)
}

func TestCollectComparisonsDisabled(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.CollectComparisons = false
	store := &memStore{}
	c := NewCollector(cfg, store)

	_, err := c.Collect("conv-1", "q",
		map[string]string{"a": "x", "b": "y"}, "a", models.NoScore(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, store.comparisons)
}

func TestCollectStoreFailure(t *testing.T) {
	c := NewCollector(testFeedbackConfig(), &memStore{failSaves: true})

	_, err := c.Collect("conv-1", "q", map[string]string{"a": "x"}, "a", models.NoScore(), "", nil)
	assert.Error(t, err)
	assert.Empty(t, c.Recent())
}

func TestRecentCacheIsBounded(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.CacheSize = 120
	c := NewCollector(cfg, &memStore{})

	for i := 0; i < 130; i++ {
		_, err := c.Collect("conv", "q", map[string]string{"a": "x"}, "a", models.NoScore(), "", nil)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(c.Recent()), 120)
}

func TestExportWritesBundle(t *testing.T) {
	store := &memStore{}
	cfg := testFeedbackConfig()
	cfg.ExportDir = t.TempDir()
	c := NewCollector(cfg, store)

	_, err := c.Collect("conv-1", "q",
		map[string]string{"a": "x", "b": "y"}, "a", models.ScalarScore(0.7), "solid", nil)
	require.NoError(t, err)

	path, err := c.Export("")
	require.NoError(t, err)
	assert.Equal(t, cfg.ExportDir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var bundle ExportBundle
	require.NoError(t, json.Unmarshal(data, &bundle))

	assert.Equal(t, exportFormatVersion, bundle.Metadata.Version)
	assert.Equal(t, 2, bundle.Metadata.RecordCount)

	// Feedback items are flattened to prompt plus the kept response, not
	// the raw stored record.
	require.Len(t, bundle.Feedback, 1)
	item := bundle.Feedback[0]
	assert.Equal(t, "q", item.Prompt)
	assert.Equal(t, "x", item.Response)
	assert.Equal(t, "a", item.Model)
	require.NotNil(t, item.Score)
	assert.Equal(t, 0.7, *item.Score)
	assert.Equal(t, "solid", item.Feedback)
	assert.Equal(t, "conv-1", item.ConversationID)

	require.Len(t, bundle.Comparisons, 1)
	pair := bundle.Comparisons[0]
	assert.Equal(t, "q", pair.Prompt)
	assert.Equal(t, "x", pair.Chosen)
	assert.Equal(t, "y", pair.Rejected)
	assert.Equal(t, "a", pair.ChosenModel)
	assert.Equal(t, "b", pair.RejectedModel)
}

func TestExportTrainSplit(t *testing.T) {
	store := &memStore{}
	cfg := testFeedbackConfig()
	cfg.ExportDir = t.TempDir()
	cfg.TrainSplitRatio = 0.8
	c := NewCollector(cfg, store)

	for i := 0; i < 5; i++ {
		_, err := c.Collect(fmt.Sprintf("conv-%d", i), "q",
			map[string]string{"a": "x", "b": "y"}, "a", models.NoScore(), "", nil)
		require.NoError(t, err)
	}

	_, err := c.Export("")
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(cfg.ExportDir, "rlhf_train_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	var train []ComparisonItem
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &train))
	assert.Len(t, train, 4)
}
