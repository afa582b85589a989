// Package router decides whether a flushed message batch deserves a
// response. Tier 1 is a fixed list of free deterministic rules; tier 2
// is a paid oracle classification, consulted only when every rule is
// inconclusive.
package router

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

type Action string

const (
	ActionPass   Action = "pass"
	ActionIgnore Action = "ignore"

	MethodHeuristic = "heuristic"
	MethodOracle    = "oracle"

	// Rough per-call estimate used in the audit trail for threshold tuning.
	oracleCallCost = 0.001
)

type Metadata struct {
	Mentioned bool
	IsReply   bool
	HasMedia  bool
}

type Decision struct {
	Action     Action
	Confidence float64
	Reason     string
	Method     string
	Cost       float64
}

// AuditSink records decisions. Write failures are swallowed.
type AuditSink interface {
	AuditDecision(conversationID string, rec store.AuditRecord) error
}

type Router struct {
	rules  []rule
	oracle oracle.Client
	audit  AuditSink
	log    zerolog.Logger
}

func New(oc oracle.Client, audit AuditSink, log zerolog.Logger) *Router {
	return &Router{
		rules:  heuristicRules(),
		oracle: oc,
		audit:  audit,
		log:    log,
	}
}

// Decide evaluates the rules in priority order, falling through to the
// oracle only when none is definitive. Oracle failures fail open to
// PASS: an ambiguous message is never silently dropped.
func (r *Router) Decide(ctx context.Context, conversationID, text string, meta Metadata) Decision {
	for _, rl := range r.rules {
		if d, ok := rl.evaluate(text, meta); ok {
			r.record(conversationID, d)
			return d
		}
	}

	d := r.classify(ctx, text)
	r.record(conversationID, d)
	return d
}

func (r *Router) classify(ctx context.Context, text string) Decision {
	result, err := r.oracle.Classify(ctx, text)
	if err != nil {
		r.log.Warn().Err(err).Msg("oracle classify failed, passing")
		return Decision{
			Action:     ActionPass,
			Confidence: 0,
			Reason:     "oracle failure: " + err.Error(),
			Method:     MethodOracle,
			Cost:       oracleCallCost,
		}
	}

	action := ActionIgnore
	if result.Action == "pass" {
		action = ActionPass
	}
	return Decision{
		Action:     action,
		Confidence: result.Confidence,
		Reason:     result.Reason,
		Method:     MethodOracle,
		Cost:       oracleCallCost,
	}
}

func (r *Router) record(conversationID string, d Decision) {
	if r.audit == nil {
		return
	}
	err := r.audit.AuditDecision(conversationID, store.AuditRecord{
		ConversationID: conversationID,
		Action:         string(d.Action),
		Confidence:     d.Confidence,
		Reason:         d.Reason,
		Method:         d.Method,
		Cost:           d.Cost,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("audit write failed")
	}
}
