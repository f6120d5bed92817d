package models

import "time"

// FeedbackRecord captures one feedback event: the query, every candidate
// response seen for it, which model the user picked, and an optional rating.
type FeedbackRecord struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	ConversationID   string            `json:"conversation_id"`
	Query            string            `json:"query"`
	Responses        map[string]string `json:"responses"`
	SelectedResponse string            `json:"selected_response"`
	FeedbackScore    *float64          `json:"feedback_score,omitempty"`
	FeedbackText     string            `json:"feedback_text,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ComparisonRecord is a DPO-style preference pair derived from a feedback
// record: the chosen response against one rejected alternative.
type ComparisonRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	ConversationID string            `json:"conversation_id"`
	Query          string            `json:"query"`
	Chosen         string            `json:"chosen"`
	Rejected       string            `json:"rejected"`
	ChosenModel    string            `json:"chosen_model"`
	RejectedModel  string            `json:"rejected_model"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type StatRecord struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	StatType  string            `json:"stat_type"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

const RecordTypeComparison = "pairwise_comparison"

// StoredRecord is the merged view returned by the store when feedback and
// comparison records are listed together. Exactly one of Feedback or
// Comparison is set, according to Type.
type StoredRecord struct {
	Type       string
	Feedback   *FeedbackRecord
	Comparison *ComparisonRecord
}

func (r StoredRecord) Time() time.Time {
	if r.Feedback != nil {
		return r.Feedback.Timestamp
	}
	if r.Comparison != nil {
		return r.Comparison.Timestamp
	}
	return time.Time{}
}
