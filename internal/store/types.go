package store

import "time"

// Message is one raw chat message, the only entity created directly
// from inbound traffic. Immutable once stored.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	IsReply        bool
	HasMedia       bool
	Mentioned      bool
	SentAt         time.Time
	CreatedAt      string
}

// HourlyNote is one compact note per (conversation, hour).
type HourlyNote struct {
	ID             int64
	ConversationID string
	HourBucket     string // local hour, "2006-01-02T15"
	Summary        string
	Decisions      []string
	ActionItems    []string
	MessageCount   int
	Participants   []string
	CreatedAt      string
}

// DailyDigest is one deeper digest per (conversation, date).
type DailyDigest struct {
	ID             int64
	ConversationID string
	Date           string // local date, "2006-01-02"
	Summary        string
	Projects       []string
	Decisions      []string
	Blockers       []string
	Financials     []string
	Participants   []string
	CreatedAt      string
}

// KnowledgeEntry is a long-lived topic record. Content only grows:
// merges append, so earlier content is always a prefix of later content.
// Date is the original creation date and never changes.
type KnowledgeEntry struct {
	ID        int64
	Date      string // "2006-01-02"
	Topic     string
	Content   string
	Tags      []string
	CreatedAt string
	UpdatedAt string
}

type Reminder struct {
	ID             string
	ConversationID string
	SenderID       string
	MessageID      string
	Person         string
	RemindAt       time.Time
	Message        string
	Implicit       bool
	Sent           bool
	CreatedAt      string
}

// AuditRecord is one append-only router decision entry.
type AuditRecord struct {
	ConversationID string
	Action         string
	Confidence     float64
	Reason         string
	Method         string
	Cost           float64
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Messages         int
	HourlyNotes      int
	DailyDigests     int
	KnowledgeEntries int
	PendingReminders int
	AuditRecords     int
}
