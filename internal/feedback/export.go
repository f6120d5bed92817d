package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/logger"
)

const exportFormatVersion = "1.0"

// ExportBundle is the on-disk RLHF training format: flattened scalar
// feedback items and preference pairs, with enough metadata to trace
// the export.
type ExportBundle struct {
	Metadata    ExportMetadata   `json:"metadata"`
	Feedback    []FeedbackItem   `json:"feedback"`
	Comparisons []ComparisonItem `json:"comparisons"`
}

type ExportMetadata struct {
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	RecordCount int       `json:"record_count"`
}

// FeedbackItem is one scalar training example: the prompt, the response
// the user kept, and the rating it earned.
type FeedbackItem struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response"`
	Model          string    `json:"model"`
	Score          *float64  `json:"score"`
	Feedback       string    `json:"feedback"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// ComparisonItem is one preference pair for DPO-style training.
type ComparisonItem struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	Chosen         string    `json:"chosen"`
	Rejected       string    `json:"rejected"`
	ChosenModel    string    `json:"chosen_model"`
	RejectedModel  string    `json:"rejected_model"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func feedbackItem(rec *models.FeedbackRecord) FeedbackItem {
	return FeedbackItem{
		ID:             rec.ID,
		Prompt:         rec.Query,
		Response:       rec.Responses[rec.SelectedResponse],
		Model:          rec.SelectedResponse,
		Score:          rec.FeedbackScore,
		Feedback:       rec.FeedbackText,
		ConversationID: rec.ConversationID,
		Timestamp:      rec.Timestamp,
	}
}

func comparisonItem(rec *models.ComparisonRecord) ComparisonItem {
	return ComparisonItem{
		ID:             rec.ID,
		Prompt:         rec.Query,
		Chosen:         rec.Chosen,
		Rejected:       rec.Rejected,
		ChosenModel:    rec.ChosenModel,
		RejectedModel:  rec.RejectedModel,
		ConversationID: rec.ConversationID,
		Timestamp:      rec.Timestamp,
	}
}

// Export writes the full feedback corpus as a JSON bundle into dir (the
// configured export directory when dir is empty) and returns the file
// path. With a train split ratio configured, the comparisons are also
// written as separate train and eval files.
func (c *Collector) Export(dir string) (string, error) {
	if dir == "" {
		dir = c.cfg.ExportDir
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	records, err := c.store.GetAllFeedback()
	if err != nil {
		return "", fmt.Errorf("failed to load feedback for export: %w", err)
	}

	bundle := ExportBundle{
		Metadata: ExportMetadata{
			Timestamp:   time.Now(),
			Version:     exportFormatVersion,
			RecordCount: len(records),
		},
		Feedback:    []FeedbackItem{},
		Comparisons: []ComparisonItem{},
	}
	for _, rec := range records {
		switch {
		case rec.Feedback != nil:
			bundle.Feedback = append(bundle.Feedback, feedbackItem(rec.Feedback))
		case rec.Comparison != nil:
			bundle.Comparisons = append(bundle.Comparisons, comparisonItem(rec.Comparison))
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("rlhf_export_%s.json", timestamp))
	if err := writeJSON(path, bundle); err != nil {
		return "", err
	}

	if c.cfg.TrainSplitRatio > 0 && c.cfg.TrainSplitRatio < 1 && len(bundle.Comparisons) > 1 {
		if err := c.writeSplit(dir, timestamp, bundle.Comparisons); err != nil {
			return "", err
		}
	}

	logger.Info("Feedback exported",
		zap.String("path", path),
		zap.Int("feedback", len(bundle.Feedback)),
		zap.Int("comparisons", len(bundle.Comparisons)),
	)

	return path, nil
}

// writeSplit partitions comparisons into train and eval files at the
// configured ratio. The cut is positional, so repeated exports of the
// same data produce the same split.
func (c *Collector) writeSplit(dir, timestamp string, comparisons []ComparisonItem) error {
	cut := int(float64(len(comparisons)) * c.cfg.TrainSplitRatio)
	if cut == 0 {
		cut = 1
	}
	if cut >= len(comparisons) {
		cut = len(comparisons) - 1
	}

	trainPath := filepath.Join(dir, fmt.Sprintf("rlhf_train_%s.json", timestamp))
	if err := writeJSON(trainPath, comparisons[:cut]); err != nil {
		return err
	}

	evalPath := filepath.Join(dir, fmt.Sprintf("rlhf_eval_%s.json", timestamp))
	return writeJSON(evalPath, comparisons[cut:])
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
