package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns all persisted tiers: raw messages, hourly notes, daily
// digests, knowledge entries, reminders, the processing cursor and the
// router audit log. Each tier is mutated only by the component that
// owns it.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			is_reply INTEGER NOT NULL DEFAULT 0,
			has_media INTEGER NOT NULL DEFAULT 0,
			mentioned INTEGER NOT NULL DEFAULT 0,
			sent_at TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_sent ON messages(conversation_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at)`,
		`CREATE TABLE IF NOT EXISTS hourly_notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			hour_bucket TEXT NOT NULL,
			summary TEXT NOT NULL,
			decisions TEXT NOT NULL DEFAULT '[]',
			action_items TEXT NOT NULL DEFAULT '[]',
			message_count INTEGER NOT NULL DEFAULT 0,
			participants TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(conversation_id, hour_bucket)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_digests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			digest_date TEXT NOT NULL,
			summary TEXT NOT NULL,
			projects TEXT NOT NULL DEFAULT '[]',
			decisions TEXT NOT NULL DEFAULT '[]',
			blockers TEXT NOT NULL DEFAULT '[]',
			financials TEXT NOT NULL DEFAULT '[]',
			participants TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(conversation_id, digest_date)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_date TEXT NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			person TEXT NOT NULL,
			remind_at TEXT NOT NULL,
			message TEXT NOT NULL,
			implicit INTEGER NOT NULL DEFAULT 0,
			sent INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(sent, remind_at)`,
		`CREATE TABLE IF NOT EXISTS processing_cursor (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			processed_through TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS router_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- messages ---

func (s *Store) SaveMessage(m Message) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, sender_id, sender_name, content, is_reply, has_media, mentioned, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.SenderID, m.SenderName, m.Content,
		boolToInt(m.IsReply), boolToInt(m.HasMedia), boolToInt(m.Mentioned),
		m.SentAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save message id: %w", err)
	}
	return id, nil
}

// MessagesBetween returns one conversation's messages with sent_at in [from, to).
func (s *Store) MessagesBetween(conversationID string, from, to time.Time) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, sender_name, content, is_reply, has_media, mentioned, sent_at, created_at
		FROM messages
		WHERE conversation_id = ? AND sent_at >= ? AND sent_at < ?
		ORDER BY sent_at ASC, id ASC
	`, conversationID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesInWindow returns all messages in [from, to) across conversations.
func (s *Store) MessagesInWindow(from, to time.Time) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, sender_name, content, is_reply, has_media, mentioned, sent_at, created_at
		FROM messages
		WHERE sent_at >= ? AND sent_at < ?
		ORDER BY sent_at ASC, id ASC
	`, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query window messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ActiveConversations lists conversations with any message in [from, to).
func (s *Store) ActiveConversations(from, to time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT conversation_id FROM messages
		WHERE sent_at >= ? AND sent_at < ?
		ORDER BY conversation_id
	`, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query active conversations: %w", err)
	}
	defer rows.Close()

	result := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return result, nil
}

// EarliestMessageTime returns the sent_at of the oldest stored message.
// ok is false when the store holds no messages.
func (s *Store) EarliestMessageTime() (time.Time, bool, error) {
	row := s.db.QueryRow(`SELECT MIN(sent_at) FROM messages`)
	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("earliest message: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse earliest message time %q: %w", raw.String, err)
	}
	return t, true, nil
}

// --- hourly notes ---

func (s *Store) HasHourlyNote(conversationID, hourBucket string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(1) FROM hourly_notes WHERE conversation_id = ? AND hour_bucket = ?`,
		conversationID, hourBucket)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check hourly note: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveHourlyNote(n HourlyNote) error {
	_, err := s.db.Exec(`
		INSERT INTO hourly_notes (conversation_id, hour_bucket, summary, decisions, action_items, message_count, participants)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ConversationID, n.HourBucket, strings.TrimSpace(n.Summary),
		marshalList(n.Decisions), marshalList(n.ActionItems), n.MessageCount, marshalList(n.Participants))
	if err != nil {
		return fmt.Errorf("save hourly note: %w", err)
	}
	return nil
}

// --- daily digests ---

func (s *Store) HasDailyDigest(conversationID, date string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(1) FROM daily_digests WHERE conversation_id = ? AND digest_date = ?`,
		conversationID, date)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check daily digest: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveDailyDigest(d DailyDigest) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_digests (conversation_id, digest_date, summary, projects, decisions, blockers, financials, participants)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ConversationID, d.Date, strings.TrimSpace(d.Summary),
		marshalList(d.Projects), marshalList(d.Decisions), marshalList(d.Blockers),
		marshalList(d.Financials), marshalList(d.Participants))
	if err != nil {
		return fmt.Errorf("save daily digest: %w", err)
	}
	return nil
}

// --- knowledge entries ---

func (s *Store) KnowledgeEntries() ([]KnowledgeEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, entry_date, topic, content, tags, created_at, updated_at
		FROM knowledge_entries
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query knowledge entries: %w", err)
	}
	defer rows.Close()

	result := make([]KnowledgeEntry, 0)
	for rows.Next() {
		var e KnowledgeEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.Date, &e.Topic, &e.Content, &tags, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		e.Tags = unmarshalList(tags)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge entries: %w", err)
	}
	return result, nil
}

func (s *Store) GetKnowledgeEntry(id int64) (*KnowledgeEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, entry_date, topic, content, tags, created_at, updated_at
		FROM knowledge_entries WHERE id = ?
	`, id)
	var e KnowledgeEntry
	var tags string
	if err := row.Scan(&e.ID, &e.Date, &e.Topic, &e.Content, &tags, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get knowledge entry: %w", err)
	}
	e.Tags = unmarshalList(tags)
	return &e, nil
}

func (s *Store) InsertKnowledgeEntry(e KnowledgeEntry) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO knowledge_entries (entry_date, topic, content, tags)
		VALUES (?, ?, ?, ?)
	`, e.Date, strings.TrimSpace(e.Topic), e.Content, marshalList(e.Tags))
	if err != nil {
		return 0, fmt.Errorf("insert knowledge entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert knowledge entry id: %w", err)
	}
	return id, nil
}

// AppendKnowledgeEntry concatenates additional content onto an existing
// entry and merges its tag set. The entry date is never touched, and the
// old content always remains a prefix of the new content.
func (s *Store) AppendKnowledgeEntry(id int64, additional string, tags []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT tags FROM knowledge_entries WHERE id = ?`, id)
	var existingTags string
	if err := row.Scan(&existingTags); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("merge knowledge entry: id %d not found", id)
		}
		return fmt.Errorf("merge knowledge entry: %w", err)
	}

	merged := mergeTags(unmarshalList(existingTags), tags)
	if _, err := tx.Exec(`
		UPDATE knowledge_entries
		SET content = content || ?, tags = ?, updated_at = datetime('now')
		WHERE id = ?
	`, additional, marshalList(merged), id); err != nil {
		return fmt.Errorf("merge knowledge entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// --- processing cursor ---

// Cursor returns the timestamp through which the knowledge compiler has
// processed messages. ok is false when no cycle has completed yet.
func (s *Store) Cursor() (time.Time, bool, error) {
	row := s.db.QueryRow(`SELECT processed_through FROM processing_cursor WHERE id = 1`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read cursor: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return t, true, nil
}

func (s *Store) AdvanceCursor(t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO processing_cursor (id, processed_through) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET processed_through = excluded.processed_through
	`, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// --- reminders ---

func (s *Store) SaveReminder(r Reminder) error {
	_, err := s.db.Exec(`
		INSERT INTO reminders (id, conversation_id, sender_id, message_id, person, remind_at, message, implicit, sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, r.ID, r.ConversationID, r.SenderID, r.MessageID, strings.TrimSpace(r.Person),
		r.RemindAt.UTC().Format(time.RFC3339), strings.TrimSpace(r.Message), boolToInt(r.Implicit))
	if err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}
	return nil
}

func (s *Store) DueReminders(now time.Time) ([]Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, message_id, person, remind_at, message, implicit, sent, created_at
		FROM reminders
		WHERE sent = 0 AND remind_at <= ?
		ORDER BY remind_at ASC
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	result := make([]Reminder, 0)
	for rows.Next() {
		var r Reminder
		var remindAt string
		var implicit, sent int
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.SenderID, &r.MessageID, &r.Person, &remindAt, &r.Message, &implicit, &sent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.RemindAt, _ = time.Parse(time.RFC3339, remindAt)
		r.Implicit = implicit == 1
		r.Sent = sent == 1
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return result, nil
}

func (s *Store) MarkReminderSent(id string) error {
	_, err := s.db.Exec(`UPDATE reminders SET sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// --- router audit ---

// AuditDecision appends one router decision. Callers treat failures as
// non-fatal; the audit log never blocks the decision path.
func (s *Store) AuditDecision(conversationID string, rec AuditRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO router_audit (conversation_id, action, confidence, reason, method, cost)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conversationID, rec.Action, rec.Confidence, rec.Reason, rec.Method, rec.Cost)
	if err != nil {
		return fmt.Errorf("audit decision: %w", err)
	}
	return nil
}

// --- stats ---

func (s *Store) Stats() (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(1) FROM messages`, &st.Messages},
		{`SELECT COUNT(1) FROM hourly_notes`, &st.HourlyNotes},
		{`SELECT COUNT(1) FROM daily_digests`, &st.DailyDigests},
		{`SELECT COUNT(1) FROM knowledge_entries`, &st.KnowledgeEntries},
		{`SELECT COUNT(1) FROM reminders WHERE sent = 0`, &st.PendingReminders},
		{`SELECT COUNT(1) FROM router_audit`, &st.AuditRecords},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

// --- helpers ---

func scanMessages(rows *sql.Rows) ([]Message, error) {
	result := make([]Message, 0)
	for rows.Next() {
		var m Message
		var isReply, hasMedia, mentioned int
		var sentAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content,
			&isReply, &hasMedia, &mentioned, &sentAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsReply = isReply == 1
		m.HasMedia = hasMedia == 1
		m.Mentioned = mentioned == 1
		m.SentAt, _ = time.Parse(time.RFC3339, sentAt)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(raw string) []string {
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
