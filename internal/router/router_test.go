package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

// fakeOracle implements oracle.Client with function fields.
type fakeOracle struct {
	classifyFn func(ctx context.Context, text string) (*oracle.Classification, error)
	calls      int
}

func (f *fakeOracle) Classify(ctx context.Context, text string) (*oracle.Classification, error) {
	f.calls++
	if f.classifyFn == nil {
		return &oracle.Classification{Action: "ignore", Confidence: 0.5, Reason: "default"}, nil
	}
	return f.classifyFn(ctx, text)
}

func (f *fakeOracle) CompileHourly(ctx context.Context, transcript string) (*oracle.HourlySummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOracle) CompileDaily(ctx context.Context, transcript string) (*oracle.DailySummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOracle) PlanKnowledge(ctx context.Context, transcript, kb string) (*oracle.KnowledgePlan, error) {
	return nil, errors.New("not implemented")
}

type memAudit struct {
	mu   sync.Mutex
	recs []store.AuditRecord
	err  error
}

func (a *memAudit) AuditDecision(conversationID string, rec store.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.recs = append(a.recs, rec)
	return nil
}

func newTestRouter(oc oracle.Client, audit AuditSink) *Router {
	return New(oc, audit, zerolog.Nop())
}

func TestDecide_MentionAlwaysPasses(t *testing.T) {
	fo := &fakeOracle{}
	r := newTestRouter(fo, nil)

	d := r.Decide(context.Background(), "c1", "ok", Metadata{Mentioned: true})
	if d.Action != ActionPass {
		t.Errorf("action = %s, want pass", d.Action)
	}
	if d.Method != MethodHeuristic {
		t.Errorf("method = %s, want heuristic", d.Method)
	}
	if fo.calls != 0 {
		t.Errorf("oracle called %d times for a mention", fo.calls)
	}
}

func TestDecide_Heuristics(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Action
	}{
		{"short ack english", "ok", ActionIgnore},
		{"short ack indonesian", "sip makasih", ActionIgnore},
		{"greeting", "selamat pagi", ActionIgnore},
		{"question mark", "lokasinya di jakarta?", ActionPass},
		{"question keyword", "gimana progress proyek tower", ActionPass},
		{"problem keyword", "ada masalah di site B", ActionPass},
		{"urgent keyword", "urgent banget ini", ActionPass},
		{"schedule keyword", "ingatkan saya bayar vendor besok", ActionPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fo := &fakeOracle{}
			r := newTestRouter(fo, nil)
			d := r.Decide(context.Background(), "c1", tt.text, Metadata{})
			if d.Action != tt.want {
				t.Errorf("Decide(%q) = %s, want %s", tt.text, d.Action, tt.want)
			}
			if d.Method != MethodHeuristic {
				t.Errorf("method = %s, want heuristic", d.Method)
			}
			if fo.calls != 0 {
				t.Errorf("oracle called %d times, heuristic should decide", fo.calls)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	fo := &fakeOracle{}
	r := newTestRouter(fo, nil)

	first := r.Decide(context.Background(), "c1", "ada masalah di gudang", Metadata{})
	for i := 0; i < 10; i++ {
		d := r.Decide(context.Background(), "c1", "ada masalah di gudang", Metadata{})
		if d != first {
			t.Fatalf("run %d: decision %+v != %+v", i, d, first)
		}
	}
}

func TestDecide_FallsThroughToOracle(t *testing.T) {
	fo := &fakeOracle{
		classifyFn: func(ctx context.Context, text string) (*oracle.Classification, error) {
			return &oracle.Classification{Action: "ignore", Confidence: 0.7, Reason: "small talk"}, nil
		},
	}
	r := newTestRouter(fo, nil)

	d := r.Decide(context.Background(), "c1", "barusan lihat video lucu di grup sebelah", Metadata{})
	if fo.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", fo.calls)
	}
	if d.Action != ActionIgnore {
		t.Errorf("action = %s, want ignore", d.Action)
	}
	if d.Method != MethodOracle {
		t.Errorf("method = %s, want oracle", d.Method)
	}
	if d.Cost == 0 {
		t.Error("oracle decision should carry a cost estimate")
	}
}

func TestDecide_OracleFailureFailsOpen(t *testing.T) {
	fo := &fakeOracle{
		classifyFn: func(ctx context.Context, text string) (*oracle.Classification, error) {
			return nil, errors.New("connection refused")
		},
	}
	r := newTestRouter(fo, nil)

	d := r.Decide(context.Background(), "c1", "barusan ketemu orang itu lagi", Metadata{})
	if d.Action != ActionPass {
		t.Errorf("action = %s, want pass on oracle failure", d.Action)
	}
	if d.Method != MethodOracle {
		t.Errorf("method = %s, want oracle", d.Method)
	}
	if d.Reason == "" {
		t.Error("fail-open decision must carry a reason")
	}
}

func TestDecide_AuditsEveryDecision(t *testing.T) {
	audit := &memAudit{}
	fo := &fakeOracle{}
	r := newTestRouter(fo, audit)

	r.Decide(context.Background(), "c1", "ok", Metadata{})
	r.Decide(context.Background(), "c1", "ada masalah", Metadata{})
	r.Decide(context.Background(), "c2", "cerita bebas tanpa kata kunci", Metadata{})

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.recs) != 3 {
		t.Fatalf("audit records = %d, want 3", len(audit.recs))
	}
	if audit.recs[0].Action != string(ActionIgnore) {
		t.Errorf("rec[0].Action = %s", audit.recs[0].Action)
	}
	if audit.recs[2].Method != MethodOracle {
		t.Errorf("rec[2].Method = %s, want oracle", audit.recs[2].Method)
	}
}

func TestDecide_AuditFailureDoesNotBlock(t *testing.T) {
	audit := &memAudit{err: errors.New("disk full")}
	r := newTestRouter(&fakeOracle{}, audit)

	d := r.Decide(context.Background(), "c1", "ada masalah", Metadata{})
	if d.Action != ActionPass {
		t.Errorf("action = %s, audit failure must not change the decision", d.Action)
	}
}
