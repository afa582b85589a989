package compile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

// DailyCompiler produces one digest per (conversation, date) from the
// trailing 24 hours, once per day at a fixed local time.
type DailyCompiler struct {
	store  *store.Store
	oracle oracle.Client
	loc    *time.Location
	guard  phaseGuard
	log    zerolog.Logger
}

func NewDailyCompiler(st *store.Store, oc oracle.Client, loc *time.Location, log zerolog.Logger) *DailyCompiler {
	if loc == nil {
		loc = time.Local
	}
	return &DailyCompiler{store: st, oracle: oc, loc: loc, log: log}
}

func (c *DailyCompiler) Run(ctx context.Context, now time.Time) error {
	if !c.guard.begin() {
		c.log.Warn().Msg("daily compile already running, tick skipped")
		return nil
	}
	defer c.guard.idle()

	local := now.In(c.loc)
	to := local
	from := local.Add(-24 * time.Hour)
	date := local.Format("2006-01-02")

	convs, err := c.store.ActiveConversations(from, to)
	if err != nil {
		return fmt.Errorf("daily compile: %w", err)
	}

	for _, conv := range convs {
		if err := c.compileConversation(ctx, conv, date, from, to); err != nil {
			c.log.Error().Err(err).Str("conversation", conv).Str("date", date).Msg("daily compile failed")
		}
	}
	return nil
}

func (c *DailyCompiler) compileConversation(ctx context.Context, conv, date string, from, to time.Time) error {
	exists, err := c.store.HasDailyDigest(conv, date)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	msgs, err := c.store.MessagesBetween(conv, from, to)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	digest, err := c.oracle.CompileDaily(ctx, formatTranscript(msgs, c.loc))
	if err != nil {
		return err
	}

	return c.store.SaveDailyDigest(store.DailyDigest{
		ConversationID: conv,
		Date:           date,
		Summary:        digest.Summary,
		Projects:       digest.Projects,
		Decisions:      digest.Decisions,
		Blockers:       digest.Blockers,
		Financials:     digest.Financials,
		Participants:   participants(msgs),
	})
}
