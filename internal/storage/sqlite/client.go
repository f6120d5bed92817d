package sqlite

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/logger"
)

// Client is the durable feedback store: feedback records, pairwise
// comparisons, and aggregate stats in an embedded SQLite database.
// All writes run in explicit transactions, and schema mismatches found
// at runtime are repaired in place with a single retry.
type Client struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

type tableSchema struct {
	create  string
	columns []string
	indexes []string
}

var tableSchemas = map[string]tableSchema{
	"feedback": {
		create: `CREATE TABLE feedback (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			query TEXT NOT NULL,
			responses TEXT NOT NULL,
			selected_response TEXT NOT NULL,
			feedback_score REAL,
			feedback_text TEXT,
			metadata TEXT
		)`,
		columns: []string{"id", "timestamp", "conversation_id", "query", "responses",
			"selected_response", "feedback_score", "feedback_text", "metadata"},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_feedback_conversation ON feedback(conversation_id)",
			"CREATE INDEX IF NOT EXISTS idx_feedback_timestamp ON feedback(timestamp)",
		},
	},
	"comparisons": {
		create: `CREATE TABLE comparisons (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			query TEXT NOT NULL,
			chosen TEXT NOT NULL,
			rejected TEXT NOT NULL,
			chosen_model TEXT NOT NULL,
			rejected_model TEXT NOT NULL,
			metadata TEXT
		)`,
		columns: []string{"id", "timestamp", "conversation_id", "query", "chosen",
			"rejected", "chosen_model", "rejected_model", "metadata"},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_comparisons_conversation ON comparisons(conversation_id)",
		},
	},
	"stats": {
		create: `CREATE TABLE stats (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			stat_type TEXT NOT NULL,
			value REAL NOT NULL,
			metadata TEXT
		)`,
		columns: []string{"id", "timestamp", "stat_type", "value", "metadata"},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_stats_type ON stats(stat_type)",
		},
	},
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c := &Client{db: db, path: dbPath}

	if err := c.repairSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Feedback store initialized", zap.String("path", dbPath))
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// repairSchema creates any missing table and rebuilds tables whose column
// set has drifted from the current schema. Pre-existing rows survive the
// rebuild; columns the old table lacked are filled with an empty string.
func (c *Client) repairSchema() error {
	for name, schema := range tableSchemas {
		existing, err := c.tableColumns(name)
		if err != nil {
			return err
		}

		if existing == nil {
			if _, err := c.db.Exec(schema.create); err != nil {
				return fmt.Errorf("failed to create table %s: %w", name, err)
			}
		} else if missing := missingColumns(schema.columns, existing); len(missing) > 0 {
			if err := c.rebuildTable(name, schema, existing); err != nil {
				return err
			}
			logger.Info("Rebuilt table with current schema",
				zap.String("table", name),
				zap.Strings("added_columns", missing),
			)
		}

		for _, idx := range schema.indexes {
			if _, err := c.db.Exec(idx); err != nil {
				return fmt.Errorf("failed to create index on %s: %w", name, err)
			}
		}
	}

	return nil
}

func (c *Client) tableColumns(table string) ([]string, error) {
	var exists int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := []string{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}

	return columns, rows.Err()
}

func missingColumns(wanted, existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, col := range existing {
		have[col] = true
	}

	var missing []string
	for _, col := range wanted {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

func (c *Client) rebuildTable(name string, schema tableSchema, existing []string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rebuild of %s: %w", name, err)
	}
	defer tx.Rollback()

	temp := name + "_temp"
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", temp, name)); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", name, err)
	}
	if _, err := tx.Exec("DROP TABLE " + name); err != nil {
		return fmt.Errorf("failed to drop %s: %w", name, err)
	}
	if _, err := tx.Exec(schema.create); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", name, err)
	}

	// Copy rows over, defaulting columns the old table did not have.
	have := make(map[string]bool, len(existing))
	for _, col := range existing {
		have[col] = true
	}
	var selectCols []string
	for _, col := range schema.columns {
		if have[col] {
			selectCols = append(selectCols, col)
		} else {
			selectCols = append(selectCols, "''")
		}
	}
	copySQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		name,
		strings.Join(schema.columns, ", "),
		strings.Join(selectCols, ", "),
		temp,
	)
	if _, err := tx.Exec(copySQL); err != nil {
		return fmt.Errorf("failed to copy rows into rebuilt %s: %w", name, err)
	}
	if _, err := tx.Exec("DROP TABLE " + temp); err != nil {
		return fmt.Errorf("failed to drop snapshot of %s: %w", name, err)
	}

	return tx.Commit()
}

func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named") ||
		strings.Contains(msg, "no such table")
}

// withRepair runs op, and if it fails on a schema mismatch, repairs the
// schema and retries exactly once.
func (c *Client) withRepair(op func() error) error {
	err := op()
	if !isSchemaError(err) {
		return err
	}

	logger.Warn("Schema mismatch detected, repairing", zap.Error(err))
	if rerr := c.repairSchema(); rerr != nil {
		logger.Error("Schema repair failed", zap.Error(rerr))
		return err
	}

	return op()
}

func (c *Client) SaveFeedback(rec *models.FeedbackRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("feedback record must have an id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.withRepair(func() error {
		responsesJSON, err := json.Marshal(rec.Responses)
		if err != nil {
			return fmt.Errorf("failed to marshal responses: %w", err)
		}
		metadataJSON, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}

		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT OR REPLACE INTO feedback
			(id, timestamp, conversation_id, query, responses, selected_response,
			 feedback_score, feedback_text, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID,
			formatTime(rec.Timestamp),
			rec.ConversationID,
			rec.Query,
			string(responsesJSON),
			rec.SelectedResponse,
			nullableFloat(rec.FeedbackScore),
			rec.FeedbackText,
			metadataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save feedback: %w", err)
		}

		return tx.Commit()
	})
}

func (c *Client) SaveComparison(rec *models.ComparisonRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("comparison record must have an id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.withRepair(func() error {
		metadataJSON, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}

		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT OR REPLACE INTO comparisons
			(id, timestamp, conversation_id, query, chosen, rejected,
			 chosen_model, rejected_model, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID,
			formatTime(rec.Timestamp),
			rec.ConversationID,
			rec.Query,
			rec.Chosen,
			rec.Rejected,
			rec.ChosenModel,
			rec.RejectedModel,
			metadataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save comparison: %w", err)
		}

		return tx.Commit()
	})
}

func (c *Client) GetFeedback(id string) (*models.FeedbackRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rec *models.FeedbackRecord
	err := c.withRepair(func() error {
		row := c.db.QueryRow(`
			SELECT id, timestamp, conversation_id, query, responses,
			       selected_response, feedback_score, feedback_text, metadata
			FROM feedback WHERE id = ?`, id)

		found, err := scanFeedbackRow(row)
		if err != nil {
			return err
		}
		rec = found
		return nil
	})

	return rec, err
}

func (c *Client) GetComparison(id string) (*models.ComparisonRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rec *models.ComparisonRecord
	err := c.withRepair(func() error {
		row := c.db.QueryRow(`
			SELECT id, timestamp, conversation_id, query, chosen, rejected,
			       chosen_model, rejected_model, metadata
			FROM comparisons WHERE id = ?`, id)

		found, err := scanComparisonRow(row)
		if err != nil {
			return err
		}
		rec = found
		return nil
	})

	return rec, err
}

// GetAllFeedback returns feedback and comparison records merged, newest
// first. Comparison entries carry type "pairwise_comparison".
func (c *Client) GetAllFeedback() ([]models.StoredRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var merged []models.StoredRecord
	err := c.withRepair(func() error {
		merged = merged[:0]

		rows, err := c.db.Query(`
			SELECT id, timestamp, conversation_id, query, responses,
			       selected_response, feedback_score, feedback_text, metadata
			FROM feedback ORDER BY timestamp DESC`)
		if err != nil {
			return fmt.Errorf("failed to list feedback: %w", err)
		}
		for rows.Next() {
			rec, err := scanFeedbackRow(rows)
			if err != nil {
				rows.Close()
				return err
			}
			merged = append(merged, models.StoredRecord{Type: "feedback", Feedback: rec})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		rows, err = c.db.Query(`
			SELECT id, timestamp, conversation_id, query, chosen, rejected,
			       chosen_model, rejected_model, metadata
			FROM comparisons ORDER BY timestamp DESC`)
		if err != nil {
			return fmt.Errorf("failed to list comparisons: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanComparisonRow(rows)
			if err != nil {
				return err
			}
			merged = append(merged, models.StoredRecord{
				Type:       models.RecordTypeComparison,
				Comparison: rec,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time().After(merged[j].Time())
	})

	return merged, nil
}

func (c *Client) GetTotalCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int
	err := c.withRepair(func() error {
		var feedbackCount, comparisonCount int
		if err := c.db.QueryRow("SELECT COUNT(*) FROM feedback").Scan(&feedbackCount); err != nil {
			return fmt.Errorf("failed to count feedback: %w", err)
		}
		if err := c.db.QueryRow("SELECT COUNT(*) FROM comparisons").Scan(&comparisonCount); err != nil {
			return fmt.Errorf("failed to count comparisons: %w", err)
		}
		total = feedbackCount + comparisonCount
		return nil
	})

	return total, err
}

func (c *Client) GetCountByScore(minScore, maxScore *float64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	err := c.withRepair(func() error {
		query := "SELECT COUNT(*) FROM feedback WHERE feedback_score IS NOT NULL"
		var args []interface{}

		if minScore != nil {
			query += " AND feedback_score >= ?"
			args = append(args, *minScore)
		}
		if maxScore != nil {
			query += " AND feedback_score <= ?"
			args = append(args, *maxScore)
		}

		if err := c.db.QueryRow(query, args...).Scan(&count); err != nil {
			return fmt.Errorf("failed to count feedback by score: %w", err)
		}
		return nil
	})

	return count, err
}

func (c *Client) DeleteFeedback(id string) (bool, error) {
	return c.deleteByID("feedback", id)
}

func (c *Client) DeleteComparison(id string) (bool, error) {
	return c.deleteByID("comparisons", id)
}

func (c *Client) deleteByID(table, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (c *Client) ClearAllData() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for table := range tableSchemas {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (c *Client) UpdateStat(statType string, value float64, metadata map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.withRepair(func() error {
		metadataJSON, err := marshalMetadata(metadata)
		if err != nil {
			return err
		}

		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		now := time.Now()
		statID := fmt.Sprintf("%s_%s", statType, now.Format("20060102150405.000000000"))

		_, err = tx.Exec(`
			INSERT INTO stats (id, timestamp, stat_type, value, metadata)
			VALUES (?, ?, ?, ?, ?)`,
			statID, formatTime(now), statType, value, metadataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to update stat: %w", err)
		}

		return tx.Commit()
	})
}

func (c *Client) GetStats(statType string, limit int) ([]models.StatRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var results []models.StatRecord
	err := c.withRepair(func() error {
		results = results[:0]

		query := "SELECT id, timestamp, stat_type, value, metadata FROM stats"
		var args []interface{}
		if statType != "" {
			query += " WHERE stat_type = ?"
			args = append(args, statType)
		}
		query += " ORDER BY timestamp DESC LIMIT ?"
		args = append(args, limit)

		rows, err := c.db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to list stats: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.StatRecord
			var ts string
			var metadataJSON sql.NullString
			if err := rows.Scan(&rec.ID, &ts, &rec.StatType, &rec.Value, &metadataJSON); err != nil {
				return fmt.Errorf("failed to scan stat row: %w", err)
			}
			rec.Timestamp = parseTime(ts)
			rec.Metadata = unmarshalMetadata(metadataJSON)
			results = append(results, rec)
		}
		return rows.Err()
	})

	return results, err
}

// FeedbackStats is the aggregate view over all stored feedback.
type FeedbackStats struct {
	TotalFeedback     int            `json:"total_feedback"`
	PositiveFeedback  int            `json:"positive_feedback"`
	NegativeFeedback  int            `json:"negative_feedback"`
	NeutralFeedback   int            `json:"neutral_feedback"`
	AverageScore      float64        `json:"average_score"`
	ModelDistribution map[string]int `json:"model_distribution"`
	ComparisonCount   int            `json:"comparison_count"`
	DailyCounts       map[string]int `json:"daily_counts"`
}

func (c *Client) GetFeedbackStats() (*FeedbackStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &FeedbackStats{
		ModelDistribution: map[string]int{},
		DailyCounts:       map[string]int{},
	}

	err := c.withRepair(func() error {
		var avg sql.NullFloat64
		err := c.db.QueryRow(`
			SELECT
				COUNT(*),
				SUM(CASE WHEN feedback_score >= 0.8 THEN 1 ELSE 0 END),
				SUM(CASE WHEN feedback_score <= 0.3 THEN 1 ELSE 0 END),
				SUM(CASE WHEN feedback_score > 0.3 AND feedback_score < 0.8 THEN 1 ELSE 0 END),
				AVG(feedback_score)
			FROM feedback
			WHERE feedback_score IS NOT NULL`).Scan(
			&stats.TotalFeedback,
			&nullInt{&stats.PositiveFeedback},
			&nullInt{&stats.NegativeFeedback},
			&nullInt{&stats.NeutralFeedback},
			&avg,
		)
		if err != nil {
			return fmt.Errorf("failed to aggregate feedback scores: %w", err)
		}
		stats.AverageScore = avg.Float64

		rows, err := c.db.Query(`
			SELECT selected_response, COUNT(*)
			FROM feedback GROUP BY selected_response ORDER BY COUNT(*) DESC`)
		if err != nil {
			return fmt.Errorf("failed to aggregate model distribution: %w", err)
		}
		for rows.Next() {
			var model string
			var count int
			if err := rows.Scan(&model, &count); err != nil {
				rows.Close()
				return err
			}
			stats.ModelDistribution[model] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if err := c.db.QueryRow("SELECT COUNT(*) FROM comparisons").Scan(&stats.ComparisonCount); err != nil {
			return fmt.Errorf("failed to count comparisons: %w", err)
		}

		rows, err = c.db.Query(`
			SELECT substr(timestamp, 1, 10), COUNT(*)
			FROM feedback GROUP BY substr(timestamp, 1, 10)
			ORDER BY substr(timestamp, 1, 10) DESC LIMIT 30`)
		if err != nil {
			return fmt.Errorf("failed to aggregate daily counts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var day string
			var count int
			if err := rows.Scan(&day, &count); err != nil {
				return err
			}
			stats.DailyCounts[day] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedbackRow(row rowScanner) (*models.FeedbackRecord, error) {
	var rec models.FeedbackRecord
	var ts, responsesJSON string
	var score sql.NullFloat64
	var text, metadataJSON sql.NullString

	err := row.Scan(&rec.ID, &ts, &rec.ConversationID, &rec.Query, &responsesJSON,
		&rec.SelectedResponse, &score, &text, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feedback row: %w", err)
	}

	rec.Timestamp = parseTime(ts)
	if err := json.Unmarshal([]byte(responsesJSON), &rec.Responses); err != nil {
		return nil, fmt.Errorf("failed to decode responses: %w", err)
	}
	if score.Valid {
		rec.FeedbackScore = &score.Float64
	}
	rec.FeedbackText = text.String
	rec.Metadata = unmarshalMetadata(metadataJSON)

	return &rec, nil
}

func scanComparisonRow(row rowScanner) (*models.ComparisonRecord, error) {
	var rec models.ComparisonRecord
	var ts string
	var metadataJSON sql.NullString

	err := row.Scan(&rec.ID, &ts, &rec.ConversationID, &rec.Query, &rec.Chosen,
		&rec.Rejected, &rec.ChosenModel, &rec.RejectedModel, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan comparison row: %w", err)
	}

	rec.Timestamp = parseTime(ts)
	rec.Metadata = unmarshalMetadata(metadataJSON)

	return &rec, nil
}

// nullInt scans a nullable integer aggregate into an int, defaulting to 0.
type nullInt struct {
	dest *int
}

func (n *nullInt) Scan(value interface{}) error {
	if value == nil {
		*n.dest = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dest = int(v)
	case float64:
		*n.dest = int(v)
	default:
		return fmt.Errorf("unexpected aggregate type %T", value)
	}
	return nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		logger.Warn("Failed to decode record metadata", zap.Error(err))
		return nil
	}
	return metadata
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BackupDatabase writes a full logical dump of the store. With an empty
// path the dump lands in a timestamped file under a backups directory
// next to the database.
func (c *Client) BackupDatabase(backupPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.backupLocked(backupPath)
}

func (c *Client) backupLocked(backupPath string) (string, error) {
	if backupPath == "" {
		backupDir := filepath.Join(filepath.Dir(c.path), "backups")
		if err := os.MkdirAll(backupDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		timestamp := time.Now().Format("20060102_150405")
		backupPath = filepath.Join(backupDir, fmt.Sprintf("feedback_backup_%s.sql", timestamp))
	} else if dir := filepath.Dir(backupPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	file, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, table := range []string{"feedback", "comparisons", "stats"} {
		schema := tableSchemas[table]
		if _, err := fmt.Fprintf(w, "%s;\n", schema.create); err != nil {
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
		if err := c.dumpTable(w, table, schema.columns); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush backup: %w", err)
	}

	logger.Info("Database backed up", zap.String("path", backupPath))
	return backupPath, nil
}

func (c *Client) dumpTable(w *bufio.Writer, table string, columns []string) error {
	rows, err := c.db.Query(fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table))
	if err != nil {
		return fmt.Errorf("failed to dump %s: %w", table, err)
	}
	defer rows.Close()

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row of %s: %w", table, err)
		}

		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(v)
		}

		_, err := fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(columns, ", "), strings.Join(literals, ", "))
		if err != nil {
			return fmt.Errorf("failed to write backup row: %w", err)
		}
	}

	return rows.Err()
}

func sqlLiteral(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return fmt.Sprintf("%d", value)
	case float64:
		return fmt.Sprintf("%g", value)
	case []byte:
		return "'" + strings.ReplaceAll(string(value), "'", "''") + "'"
	case string:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", value), "'", "''") + "'"
	}
}

// RestoreDatabase replaces the live store with the contents of a logical
// dump, after first backing up the current state.
func (c *Client) RestoreDatabase(backupPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	if _, err := c.backupLocked(""); err != nil {
		return fmt.Errorf("failed to back up current state before restore: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin restore: %w", err)
	}
	defer tx.Rollback()

	for table := range tableSchemas {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop %s for restore: %w", table, err)
		}
	}

	for _, stmt := range strings.Split(string(data), ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute restore statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}

	if err := c.repairSchema(); err != nil {
		return fmt.Errorf("failed to verify schema after restore: %w", err)
	}

	logger.Info("Database restored", zap.String("path", backupPath))
	return nil
}
