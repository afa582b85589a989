package compile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

const maxNewEntriesPerRun = 3

// KnowledgeCompiler promotes the prior day's messages into long-lived
// knowledge entries. It runs as a state machine: load the window and
// current entries, ask the oracle for a plan, then apply only the
// permitted actions. The processing cursor advances only after a fully
// successful run, so a failed day is retried next tick.
type KnowledgeCompiler struct {
	store  *store.Store
	oracle oracle.Client
	loc    *time.Location
	guard  phaseGuard
	log    zerolog.Logger
}

func NewKnowledgeCompiler(st *store.Store, oc oracle.Client, loc *time.Location, log zerolog.Logger) *KnowledgeCompiler {
	if loc == nil {
		loc = time.Local
	}
	return &KnowledgeCompiler{store: st, oracle: oc, loc: loc, log: log}
}

// Phase reports the current run state for status output.
func (c *KnowledgeCompiler) Phase() Phase {
	return c.guard.phase()
}

func (c *KnowledgeCompiler) Run(ctx context.Context, now time.Time) error {
	if !c.guard.begin() {
		c.log.Warn().Msg("knowledge compile already running, tick skipped")
		return nil
	}
	defer c.guard.idle()

	// Process everything up to today's local midnight, one day at a time.
	local := now.In(c.loc)
	dayEnd := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	start := dayEnd.AddDate(0, 0, -1)

	cursor, ok, err := c.store.Cursor()
	if err != nil {
		return fmt.Errorf("knowledge compile: %w", err)
	}
	if ok {
		if !cursor.Before(dayEnd) {
			c.log.Debug().Time("cursor", cursor).Msg("knowledge window already processed")
			return nil
		}
		// A failed or missed run leaves the cursor behind; resume from it
		// so the gap is reprocessed instead of skipped.
		if cur := cursor.In(c.loc); cur.Before(start) {
			start = cur
		}
	} else {
		// No cycle has ever completed. Begin at the earliest stored
		// message so the first run covers all history, not just yesterday.
		earliest, has, err := c.store.EarliestMessageTime()
		if err != nil {
			return fmt.Errorf("knowledge compile: %w", err)
		}
		if has {
			first := earliest.In(c.loc)
			if day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, c.loc); day.Before(start) {
				start = day
			}
		}
	}

	for winStart := start; winStart.Before(dayEnd); {
		winEnd := time.Date(winStart.Year(), winStart.Month(), winStart.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
		if winEnd.After(dayEnd) {
			winEnd = dayEnd
		}
		if err := c.compileWindow(ctx, winStart, winEnd); err != nil {
			return err
		}
		winStart = winEnd
	}
	return nil
}

// compileWindow runs one day's load/analyze/apply cycle. The cursor
// advances as each window completes, so a mid-backfill failure keeps
// the days already done.
func (c *KnowledgeCompiler) compileWindow(ctx context.Context, winStart, winEnd time.Time) error {
	c.guard.set(PhaseLoading)
	msgs, err := c.store.MessagesInWindow(winStart, winEnd)
	if err != nil {
		return fmt.Errorf("knowledge compile: %w", err)
	}
	if len(msgs) == 0 {
		// A quiet day still counts as processed.
		if err := c.store.AdvanceCursor(winEnd); err != nil {
			return fmt.Errorf("knowledge compile: %w", err)
		}
		return nil
	}

	entries, err := c.store.KnowledgeEntries()
	if err != nil {
		return fmt.Errorf("knowledge compile: %w", err)
	}

	c.guard.set(PhaseAnalyzing)
	plan, err := c.oracle.PlanKnowledge(ctx, formatTranscript(msgs, c.loc), formatEntries(entries))
	if err != nil {
		return fmt.Errorf("knowledge compile: plan: %w", err)
	}

	c.guard.set(PhaseApplying)
	date := winStart.Format("2006-01-02")
	if err := c.apply(plan.Actions, date); err != nil {
		return fmt.Errorf("knowledge compile: %w", err)
	}

	if err := c.store.AdvanceCursor(winEnd); err != nil {
		return fmt.Errorf("knowledge compile: advance cursor: %w", err)
	}
	c.log.Info().Str("date", date).Int("messages", len(msgs)).Int("actions", len(plan.Actions)).Msg("knowledge compiled")
	return nil
}

// apply executes the planned actions. Invalid actions are logged and
// skipped, never fatal; a storage error is fatal so the cursor stays put.
func (c *KnowledgeCompiler) apply(actions []oracle.KnowledgeAction, date string) error {
	created := 0
	for _, a := range actions {
		switch strings.ToUpper(a.Type) {
		case "NEW":
			if created >= maxNewEntriesPerRun {
				c.log.Warn().Str("topic", a.Topic).Msg("new entry cap reached, proposal rejected")
				continue
			}
			if a.Topic == "" || a.Content == "" {
				c.log.Warn().Msg("new entry missing topic or content, rejected")
				continue
			}
			entryDate := a.Date
			if entryDate == "" {
				entryDate = date
			}
			id, err := c.store.InsertKnowledgeEntry(store.KnowledgeEntry{
				Date:    entryDate,
				Topic:   a.Topic,
				Content: a.Content,
				Tags:    a.Tags,
			})
			if err != nil {
				return fmt.Errorf("insert entry %q: %w", a.Topic, err)
			}
			created++
			c.log.Info().Int64("entry", id).Str("topic", a.Topic).Msg("knowledge entry created")

		case "MERGE":
			if a.EntryID == 0 || a.AdditionalContent == "" {
				c.log.Warn().Int64("entry", a.EntryID).Msg("merge missing entry id or content, rejected")
				continue
			}
			existing, err := c.store.GetKnowledgeEntry(a.EntryID)
			if err != nil {
				return fmt.Errorf("load entry %d: %w", a.EntryID, err)
			}
			if existing == nil {
				c.log.Warn().Int64("entry", a.EntryID).Msg("merge target not found, rejected")
				continue
			}
			if err := c.store.AppendKnowledgeEntry(a.EntryID, " "+strings.TrimSpace(a.AdditionalContent), a.Tags); err != nil {
				return fmt.Errorf("append entry %d: %w", a.EntryID, err)
			}
			c.log.Info().Int64("entry", a.EntryID).Msg("knowledge entry merged")

		default:
			// The oracle is instructed to never rewrite history; anything
			// other than NEW or MERGE is refused outright.
			c.log.Warn().Str("type", a.Type).Msg("disallowed knowledge action, rejected")
		}
	}
	return nil
}

// formatEntries renders the current knowledge base for the planning
// prompt, one entry per line.
func formatEntries(entries []store.KnowledgeEntry) string {
	if len(entries) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "#%d [%s] %s: %s", e.ID, e.Date, e.Topic, e.Content)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&sb, " (tags: %s)", strings.Join(e.Tags, ", "))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}
