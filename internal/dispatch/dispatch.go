// Package dispatch turns a generated response into one of three side
// effects: stay silent, create a reminder, or send a reply.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/bus"
	"github.com/suryadarma/ingat/internal/store"
)

type Kind int

const (
	KindSilent Kind = iota
	KindRemind
	KindReply
)

// Transport delivers side effects. Failures are logged and never crash
// the pipeline.
type Transport interface {
	Send(conversationID, text string) error
	React(conversationID, senderID, messageID, emoji string) error
}

// ReminderRequest is the structured payload after a REMIND tag. All
// four fields are required.
type ReminderRequest struct {
	Person  string `json:"person"`
	Date    string `json:"date"` // "2006-01-02"
	Time    string `json:"time"` // "15:04"
	Message string `json:"message"`
}

// ParsedAction is the tagged interpretation of a response.
type ParsedAction struct {
	Kind     Kind
	Reply    string
	Reminder *ReminderRequest
	Reason   string
}

// ParseAction reads the leading tag of a generated response. A REMIND
// tag with missing fields or broken JSON fails closed to silent; a
// response with no recognized tag falls back to a plain reply.
func ParseAction(response string) ParsedAction {
	text := strings.TrimSpace(response)

	if text == "" || text == "SILENT" || strings.HasPrefix(text, "SILENT\n") || strings.HasPrefix(text, "SILENT ") {
		return ParsedAction{Kind: KindSilent}
	}

	if rest, ok := strings.CutPrefix(text, "REMIND"); ok && tagBoundary(rest) {
		var req ReminderRequest
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &req); err != nil {
			return ParsedAction{Kind: KindSilent, Reason: "malformed reminder json: " + err.Error()}
		}
		if req.Person == "" || req.Date == "" || req.Time == "" || req.Message == "" {
			return ParsedAction{Kind: KindSilent, Reason: "reminder missing required fields"}
		}
		return ParsedAction{Kind: KindRemind, Reminder: &req}
	}

	if rest, ok := strings.CutPrefix(text, "REPLY"); ok && tagBoundary(rest) {
		return ParsedAction{Kind: KindReply, Reply: strings.TrimSpace(rest)}
	}

	// Backward-compatible default: treat the whole text as a reply.
	return ParsedAction{Kind: KindReply, Reply: text}
}

// tagBoundary reports whether rest starts a new token, so free text
// like "REMINDER besok" or "REPLYING soon" is not mistaken for a tag.
func tagBoundary(rest string) bool {
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ' ', '\t', '\n', '\r', '{':
		return true
	}
	return false
}

type Dispatcher struct {
	store     *store.Store
	transport Transport
	loc       *time.Location
	ackEmoji  string
	log       zerolog.Logger
}

func New(st *store.Store, tr Transport, loc *time.Location, log zerolog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		store:     st,
		transport: tr,
		loc:       loc,
		ackEmoji:  "👍",
		log:       log,
	}
}

// Dispatch performs the side effect for one generated response. src is
// the last message of the batch that produced it.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, src bus.InboundMessage, response string) {
	action := ParseAction(response)

	switch action.Kind {
	case KindSilent:
		if action.Reason != "" {
			d.log.Warn().Str("conversation", conversationID).Str("reason", action.Reason).Msg("staying silent")
		} else {
			d.log.Debug().Str("conversation", conversationID).Msg("staying silent")
		}

	case KindRemind:
		d.createReminder(conversationID, src, action.Reminder)

	case KindReply:
		if action.Reply == "" {
			return
		}
		if err := d.transport.Send(conversationID, action.Reply); err != nil {
			d.log.Error().Err(err).Str("conversation", conversationID).Msg("send reply failed")
		}
	}
}

func (d *Dispatcher) createReminder(conversationID string, src bus.InboundMessage, req *ReminderRequest) {
	remindAt, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.Time, d.loc)
	if err != nil {
		// Same fail-closed policy as a malformed payload: no reminder
		// is ever created from data we cannot trust.
		d.log.Warn().Err(err).Str("conversation", conversationID).Msg("unparseable reminder datetime, staying silent")
		return
	}

	implicit := !src.Mentioned
	r := store.Reminder{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       src.SenderID,
		MessageID:      src.MessageID,
		Person:         req.Person,
		RemindAt:       remindAt,
		Message:        req.Message,
		Implicit:       implicit,
	}
	if err := d.store.SaveReminder(r); err != nil {
		d.log.Error().Err(err).Str("conversation", conversationID).Msg("save reminder failed")
		return
	}

	if implicit {
		// The system was not addressed; acknowledge quietly instead of
		// injecting a full reply into the conversation.
		if err := d.transport.React(conversationID, src.SenderID, src.MessageID, d.ackEmoji); err != nil {
			d.log.Warn().Err(err).Str("conversation", conversationID).Msg("reaction failed")
		}
		return
	}

	confirm := fmt.Sprintf("Reminder set for %s on %s %s: %s", req.Person, req.Date, req.Time, req.Message)
	if err := d.transport.Send(conversationID, confirm); err != nil {
		d.log.Warn().Err(err).Str("conversation", conversationID).Msg("send confirmation failed")
	}
}

// SweepReminders sends every due reminder and marks it sent. Failures
// are per-item: one bad reminder never blocks the rest.
func (d *Dispatcher) SweepReminders(ctx context.Context, now time.Time) error {
	due, err := d.store.DueReminders(now)
	if err != nil {
		return fmt.Errorf("sweep reminders: %w", err)
	}

	for _, r := range due {
		text := fmt.Sprintf("⏰ Reminder for %s: %s", r.Person, r.Message)
		if err := d.transport.Send(r.ConversationID, text); err != nil {
			d.log.Error().Err(err).Str("reminder", r.ID).Msg("deliver reminder failed")
			continue
		}
		if err := d.store.MarkReminderSent(r.ID); err != nil {
			d.log.Error().Err(err).Str("reminder", r.ID).Msg("mark reminder sent failed")
		}
	}
	return nil
}
