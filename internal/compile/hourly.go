package compile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

// HourlyCompiler summarizes the trailing hour of raw messages into one
// note per active conversation. Re-running a tick for an already
// compiled hour is a no-op.
type HourlyCompiler struct {
	store  *store.Store
	oracle oracle.Client
	loc    *time.Location
	guard  phaseGuard
	log    zerolog.Logger
}

func NewHourlyCompiler(st *store.Store, oc oracle.Client, loc *time.Location, log zerolog.Logger) *HourlyCompiler {
	if loc == nil {
		loc = time.Local
	}
	return &HourlyCompiler{store: st, oracle: oc, loc: loc, log: log}
}

func (c *HourlyCompiler) Run(ctx context.Context, now time.Time) error {
	if !c.guard.begin() {
		c.log.Warn().Msg("hourly compile already running, tick skipped")
		return nil
	}
	defer c.guard.idle()

	hourEnd := now.In(c.loc).Truncate(time.Hour)
	hourStart := hourEnd.Add(-time.Hour)
	bucket := hourStart.Format("2006-01-02T15")

	convs, err := c.store.ActiveConversations(hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("hourly compile: %w", err)
	}

	for _, conv := range convs {
		if err := c.compileConversation(ctx, conv, bucket, hourStart, hourEnd); err != nil {
			// One conversation's failure never affects another's.
			c.log.Error().Err(err).Str("conversation", conv).Str("hour", bucket).Msg("hourly compile failed")
		}
	}
	return nil
}

func (c *HourlyCompiler) compileConversation(ctx context.Context, conv, bucket string, from, to time.Time) error {
	exists, err := c.store.HasHourlyNote(conv, bucket)
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

	summary, err := c.oracle.CompileHourly(ctx, formatTranscript(msgs, c.loc))
	if err != nil {
		return err
	}

	return c.store.SaveHourlyNote(store.HourlyNote{
		ConversationID: conv,
		HourBucket:     bucket,
		Summary:        summary.Summary,
		Decisions:      summary.Decisions,
		ActionItems:    summary.ActionItems,
		MessageCount:   len(msgs),
		Participants:   participants(msgs),
	})
}
