package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/bus"
)

// fakeClock drives the debounce timers by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (c *fakeClock) factory(d time.Duration, fn func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fireLast runs the most recent non-stopped timer.
func (c *fakeClock) fireLast() {
	c.mu.Lock()
	var fn func()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			fn = c.timers[i].fn
			break
		}
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeClock) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type collector struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *collector) flush(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) all() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

func msg(chatID, content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    chatID,
		SenderID:  "u1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestBuffer_DebounceSingleFlush(t *testing.T) {
	clock := &fakeClock{}
	col := &collector{}
	b := New(15*time.Second, 20, col.flush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	b.Add(msg("c1", "one"))
	b.Add(msg("c1", "two"))
	b.Add(msg("c1", "three"))

	if got := b.Pending("telegram:c1"); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	if got := col.all(); len(got) != 0 {
		t.Fatalf("flushed %d batches before timer fired", len(got))
	}

	// Each arrival cancels the prior timer, so only one is live.
	if got := clock.activeCount(); got != 1 {
		t.Fatalf("active timers = %d, want 1", got)
	}

	clock.fireLast()
	b.FlushAll()

	batches := col.all()
	if len(batches) != 1 {
		t.Fatalf("flushed %d batches, want 1", len(batches))
	}
	if batches[0].ConversationID != "telegram:c1" {
		t.Errorf("conversation = %q", batches[0].ConversationID)
	}
	if len(batches[0].Messages) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batches[0].Messages))
	}
	for i, want := range []string{"one", "two", "three"} {
		if batches[0].Messages[i].Content != want {
			t.Errorf("message[%d] = %q, want %q", i, batches[0].Messages[i].Content, want)
		}
	}
}

func TestBuffer_StaleTimerIgnored(t *testing.T) {
	clock := &fakeClock{}
	col := &collector{}
	b := New(15*time.Second, 20, col.flush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	b.Add(msg("c1", "one"))
	stale := clock.timers[0]
	b.Add(msg("c1", "two"))

	// A stale timer callback from the first arrival must not flush.
	stale.fn()
	if got := b.Pending("telegram:c1"); got != 2 {
		t.Fatalf("Pending = %d after stale fire, want 2", got)
	}

	clock.fireLast()
	b.FlushAll()
	if got := col.all(); len(got) != 1 || len(got[0].Messages) != 2 {
		t.Fatalf("batches = %+v, want one batch of 2", got)
	}
}

func TestBuffer_CapFlushesImmediately(t *testing.T) {
	clock := &fakeClock{}
	col := &collector{}
	b := New(15*time.Second, 3, col.flush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	b.Add(msg("c1", "one"))
	b.Add(msg("c1", "two"))
	b.Add(msg("c1", "three"))

	b.FlushAll()
	batches := col.all()
	if len(batches) != 1 {
		t.Fatalf("flushed %d batches, want 1", len(batches))
	}
	if len(batches[0].Messages) != 3 {
		t.Errorf("batch size = %d, want 3", len(batches[0].Messages))
	}
	if got := b.Pending("telegram:c1"); got != 0 {
		t.Errorf("Pending = %d after cap flush, want 0", got)
	}
}

func TestBuffer_ConversationsIsolated(t *testing.T) {
	clock := &fakeClock{}
	col := &collector{}
	b := New(15*time.Second, 20, col.flush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	b.Add(msg("c1", "a"))
	b.Add(msg("c2", "b"))

	if got := b.Pending("telegram:c1"); got != 1 {
		t.Errorf("c1 pending = %d, want 1", got)
	}
	if got := b.Pending("telegram:c2"); got != 1 {
		t.Errorf("c2 pending = %d, want 1", got)
	}
	// Two live timers, one per conversation.
	if got := clock.activeCount(); got != 2 {
		t.Errorf("active timers = %d, want 2", got)
	}
	b.FlushAll()
}

func TestBuffer_FlushAllDrainsEverything(t *testing.T) {
	clock := &fakeClock{}
	col := &collector{}
	b := New(15*time.Second, 20, col.flush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	b.Add(msg("c1", "a"))
	b.Add(msg("c2", "b"))
	b.FlushAll()

	if got := col.all(); len(got) != 2 {
		t.Fatalf("flushed %d batches, want 2", len(got))
	}

	// Closed buffer drops further messages.
	b.Add(msg("c3", "late"))
	if got := b.Pending("telegram:c3"); got != 0 {
		t.Errorf("Pending = %d after close, want 0", got)
	}
}

func TestBuffer_BatchesFIFOPerConversation(t *testing.T) {
	clock := &fakeClock{}

	var mu sync.Mutex
	var order []string
	slowFlush := func(b Batch) {
		mu.Lock()
		order = append(order, b.Messages[0].Content)
		mu.Unlock()
	}

	b := New(15*time.Second, 2, slowFlush, zerolog.Nop())
	b.SetTimerFactory(clock.factory)

	// Cap of 2 forces immediate flushes; three waves must arrive in order.
	for _, wave := range []string{"first", "second", "third"} {
		b.Add(msg("c1", wave))
		b.Add(msg("c1", wave+"-tail"))
	}
	b.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("flush order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("flush order = %v, want %v", order, want)
		}
	}
}
