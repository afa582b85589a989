// Package compile holds the scheduled compaction jobs that turn raw
// messages into hourly notes, daily digests and knowledge entries.
package compile

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/suryadarma/ingat/internal/store"
)

// Phase is the observable state of a compiler run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseAnalyzing
	PhaseApplying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// phaseGuard serializes runs of one compiler. begin succeeds only from
// idle, so a double-fired tick is skipped rather than queued.
type phaseGuard struct {
	v atomic.Int32
}

func (g *phaseGuard) begin() bool {
	return g.v.CompareAndSwap(int32(PhaseIdle), int32(PhaseLoading))
}

func (g *phaseGuard) set(p Phase) {
	g.v.Store(int32(p))
}

func (g *phaseGuard) idle() {
	g.v.Store(int32(PhaseIdle))
}

func (g *phaseGuard) phase() Phase {
	return Phase(g.v.Load())
}

// formatTranscript renders messages for an oracle prompt, in arrival order.
func formatTranscript(msgs []store.Message, loc *time.Location) string {
	var sb strings.Builder
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.SentAt.In(loc).Format("15:04"), name, m.Content))
	}
	return strings.TrimSpace(sb.String())
}

func participants(msgs []store.Message) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
