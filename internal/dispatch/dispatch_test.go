package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/bus"
	"github.com/suryadarma/ingat/internal/store"
)

type sentMsg struct {
	conversationID string
	text           string
}

type reaction struct {
	conversationID string
	senderID       string
	messageID      string
	emoji          string
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sentMsg
	reactions []reaction
	sendErr   error
}

func (f *fakeTransport) Send(conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMsg{conversationID, text})
	return nil
}

func (f *fakeTransport) React(conversationID, senderID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{conversationID, senderID, messageID, emoji})
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *fakeTransport) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr := &fakeTransport{}
	d := New(st, tr, time.UTC, zerolog.Nop())
	return d, st, tr
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantKind Kind
	}{
		{"empty", "", KindSilent},
		{"silent bare", "SILENT", KindSilent},
		{"silent with trailing text", "SILENT nothing to do here", KindSilent},
		{"reply tagged", "REPLY sure, the meeting is at 3pm", KindReply},
		{"no tag falls back to reply", "the answer is 42", KindReply},
		{"remind valid", `REMIND {"person":"Andi","date":"2026-09-01","time":"09:00","message":"bayar vendor"}`, KindRemind},
		{"remind no space before brace", `REMIND{"person":"Andi","date":"2026-09-01","time":"09:00","message":"bayar vendor"}`, KindRemind},
		{"remind broken json", `REMIND {"person":"Andi","date":`, KindSilent},
		{"remind missing field", `REMIND {"person":"Andi","date":"2026-09-01","time":"09:00"}`, KindSilent},
		{"remind empty payload", `REMIND {}`, KindSilent},
		{"reminder word is not a tag", "REMINDER besok jangan lupa bawa dokumen", KindReply},
		{"replying word is not a tag", "REPLYING to the earlier question, yes", KindReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAction(tt.response)
			if got.Kind != tt.wantKind {
				t.Errorf("ParseAction(%q).Kind = %v, want %v", tt.response, got.Kind, tt.wantKind)
			}
		})
	}
}

func TestParseAction_ReplyContent(t *testing.T) {
	got := ParseAction("REPLY   the invoice was paid yesterday")
	if got.Reply != "the invoice was paid yesterday" {
		t.Errorf("Reply = %q", got.Reply)
	}

	got = ParseAction("plain answer without tag")
	if got.Reply != "plain answer without tag" {
		t.Errorf("untagged Reply = %q", got.Reply)
	}

	// A word that merely starts with a tag keeps its full text.
	got = ParseAction("REMINDER besok jangan lupa bawa dokumen")
	if got.Reply != "REMINDER besok jangan lupa bawa dokumen" {
		t.Errorf("tag-prefixed word Reply = %q, want the full text", got.Reply)
	}
}

func TestParseAction_MalformedRemindCarriesReason(t *testing.T) {
	got := ParseAction(`REMIND not json at all`)
	if got.Kind != KindSilent {
		t.Fatalf("Kind = %v, want silent", got.Kind)
	}
	if got.Reason == "" {
		t.Error("fail-closed parse must carry a reason")
	}
}

func TestDispatch_Reply(t *testing.T) {
	d, _, tr := newTestDispatcher(t)
	src := bus.InboundMessage{SenderID: "u1", MessageID: "m1"}

	d.Dispatch(context.Background(), "telegram:c1", src, "REPLY here you go")

	if len(tr.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(tr.sent))
	}
	if tr.sent[0].text != "here you go" {
		t.Errorf("sent text = %q", tr.sent[0].text)
	}
}

func TestDispatch_SilentSendsNothing(t *testing.T) {
	d, _, tr := newTestDispatcher(t)
	src := bus.InboundMessage{SenderID: "u1", MessageID: "m1"}

	d.Dispatch(context.Background(), "telegram:c1", src, "SILENT")

	if len(tr.sent) != 0 || len(tr.reactions) != 0 {
		t.Errorf("silent dispatch produced side effects: %v %v", tr.sent, tr.reactions)
	}
}

func TestDispatch_ExplicitReminderConfirms(t *testing.T) {
	d, st, tr := newTestDispatcher(t)
	src := bus.InboundMessage{SenderID: "u1", MessageID: "m1", Mentioned: true}

	d.Dispatch(context.Background(), "telegram:c1", src,
		`REMIND {"person":"Andi","date":"2026-09-01","time":"09:00","message":"bayar vendor"}`)

	if len(tr.sent) != 1 {
		t.Fatalf("sent %d messages, want 1 confirmation", len(tr.sent))
	}
	if len(tr.reactions) != 0 {
		t.Errorf("explicit reminder should not react, got %v", tr.reactions)
	}

	due, err := st.DueReminders(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("stored %d reminders, want 1", len(due))
	}
	if due[0].Person != "Andi" || due[0].Implicit {
		t.Errorf("reminder = %+v", due[0])
	}
}

func TestDispatch_ImplicitReminderReacts(t *testing.T) {
	d, st, tr := newTestDispatcher(t)
	src := bus.InboundMessage{SenderID: "u1", MessageID: "m42", Mentioned: false}

	d.Dispatch(context.Background(), "telegram:c1", src,
		`REMIND {"person":"Budi","date":"2026-09-02","time":"08:00","message":"kirim laporan"}`)

	if len(tr.sent) != 0 {
		t.Errorf("implicit reminder sent %v, want reaction only", tr.sent)
	}
	if len(tr.reactions) != 1 {
		t.Fatalf("reactions = %d, want 1", len(tr.reactions))
	}
	if tr.reactions[0].messageID != "m42" || tr.reactions[0].emoji != "👍" {
		t.Errorf("reaction = %+v", tr.reactions[0])
	}

	due, err := st.DueReminders(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 1 || !due[0].Implicit {
		t.Fatalf("reminders = %+v, want one implicit", due)
	}
}

func TestDispatch_UnparseableDatetimeCreatesNothing(t *testing.T) {
	d, st, tr := newTestDispatcher(t)
	src := bus.InboundMessage{SenderID: "u1", MessageID: "m1"}

	d.Dispatch(context.Background(), "telegram:c1", src,
		`REMIND {"person":"Andi","date":"next tuesday","time":"morning","message":"x"}`)

	if len(tr.sent) != 0 || len(tr.reactions) != 0 {
		t.Errorf("bad datetime produced side effects: %v %v", tr.sent, tr.reactions)
	}
	due, err := st.DueReminders(time.Now().Add(365 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("reminders = %+v, want none", due)
	}
}

func TestSweepReminders(t *testing.T) {
	d, st, tr := newTestDispatcher(t)

	mustSave := func(r store.Reminder) {
		t.Helper()
		if err := st.SaveReminder(r); err != nil {
			t.Fatalf("save reminder: %v", err)
		}
	}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	mustSave(store.Reminder{ID: "r1", ConversationID: "telegram:c1", Person: "Andi", Message: "bayar vendor", RemindAt: now.Add(-time.Minute)})
	mustSave(store.Reminder{ID: "r2", ConversationID: "telegram:c2", Person: "Budi", Message: "kirim laporan", RemindAt: now.Add(time.Hour)})

	if err := d.SweepReminders(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d, want 1 due reminder", len(tr.sent))
	}
	if tr.sent[0].conversationID != "telegram:c1" {
		t.Errorf("sent to %q", tr.sent[0].conversationID)
	}

	// A second sweep must not redeliver.
	if err := d.SweepReminders(context.Background(), now); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent = %d after second sweep, want still 1", len(tr.sent))
	}
}
