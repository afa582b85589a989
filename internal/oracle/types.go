package oracle

import "context"

// Classification is the router tier-2 verdict.
type Classification struct {
	Action     string  `json:"action"` // "pass" or "ignore"
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// HourlySummary is the bounded hourly note produced from a transcript.
type HourlySummary struct {
	Summary     string   `json:"summary"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// DailySummary is the deeper daily digest.
type DailySummary struct {
	Summary    string   `json:"summary"`
	Projects   []string `json:"projects"`
	Decisions  []string `json:"decisions"`
	Blockers   []string `json:"blockers"`
	Financials []string `json:"financial_mentions"`
}

// KnowledgeAction is one proposed knowledge-base mutation. Only "NEW"
// and "MERGE" are permitted; anything else is rejected by the compiler.
type KnowledgeAction struct {
	Type              string   `json:"type"`
	Date              string   `json:"date,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	Content           string   `json:"content,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	EntryID           int64    `json:"entry_id,omitempty"`
	AdditionalContent string   `json:"additional_content,omitempty"`
}

type KnowledgePlan struct {
	Actions []KnowledgeAction `json:"actions"`
}

// Client is the external classification/compilation oracle. Malformed
// output surfaces as *ParseError, never as a crash.
type Client interface {
	Classify(ctx context.Context, text string) (*Classification, error)
	CompileHourly(ctx context.Context, transcript string) (*HourlySummary, error)
	CompileDaily(ctx context.Context, transcript string) (*DailySummary, error)
	PlanKnowledge(ctx context.Context, transcript, knowledgeBase string) (*KnowledgePlan, error)
}
