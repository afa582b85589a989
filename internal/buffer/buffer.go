// Package buffer batches rapid-fire messages per conversation before
// they reach the router. A conversation's queue flushes after a silence
// window, or immediately when it hits the size cap.
package buffer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/bus"
)

// Batch is one flushed message sequence for a single conversation,
// in arrival order.
type Batch struct {
	ConversationID string
	Messages       []bus.InboundMessage
}

type FlushFunc func(Batch)

type stopper interface {
	Stop() bool
}

// TimerFactory schedules fn after d and returns a cancellable handle.
// Tests substitute a virtual clock.
type TimerFactory func(d time.Duration, fn func()) stopper

func defaultTimerFactory(d time.Duration, fn func()) stopper {
	return time.AfterFunc(d, fn)
}

type entry struct {
	msgs  []bus.InboundMessage
	timer stopper
	gen   uint64
}

// worker serializes batch dispatch for one conversation so that two
// flushes of the same conversation always reach the router in order.
type worker struct {
	mu    sync.Mutex
	queue []Batch
	kick  chan struct{}
}

// Buffer owns all per-conversation queues and timers. No other
// component reads or mutates them.
type Buffer struct {
	debounce time.Duration
	maxBatch int
	flush    FlushFunc
	newTimer TimerFactory
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	workers map[string]*worker
	closed  bool

	pending sync.WaitGroup // in-flight batches
	wg      sync.WaitGroup // worker goroutines
}

func New(debounce time.Duration, maxBatch int, flush FlushFunc, log zerolog.Logger) *Buffer {
	if debounce <= 0 {
		debounce = 15 * time.Second
	}
	if maxBatch <= 0 {
		maxBatch = 20
	}
	return &Buffer{
		debounce: debounce,
		maxBatch: maxBatch,
		flush:    flush,
		newTimer: defaultTimerFactory,
		log:      log,
		entries:  make(map[string]*entry),
		workers:  make(map[string]*worker),
	}
}

// SetTimerFactory replaces the timer source. Must be called before Add.
func (b *Buffer) SetTimerFactory(f TimerFactory) {
	b.newTimer = f
}

// Add enqueues a message for its conversation and restarts the debounce
// timer. Never blocks the caller. Hitting the size cap flushes
// immediately, bypassing the timer.
func (b *Buffer) Add(msg bus.InboundMessage) {
	key := msg.SessionKey()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Warn().Str("conversation", key).Msg("buffer closed, dropping message")
		return
	}

	e, ok := b.entries[key]
	if !ok {
		e = &entry{}
		b.entries[key] = e
	}
	e.msgs = append(e.msgs, msg)

	// Arrival always cancels and replaces the previous timer.
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if len(e.msgs) >= b.maxBatch {
		b.flushLocked(key, e)
		return
	}

	e.gen++
	gen := e.gen
	e.timer = b.newTimer(b.debounce, func() {
		b.timerFired(key, gen)
	})
}

func (b *Buffer) timerFired(key string, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.gen != gen {
		// A newer arrival replaced this timer, or a cap flush already ran.
		return
	}
	b.flushLocked(key, e)
}

// flushLocked hands the batch to the conversation's worker and discards
// the per-conversation state. Caller holds b.mu.
func (b *Buffer) flushLocked(key string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	msgs := e.msgs
	delete(b.entries, key)
	if len(msgs) == 0 {
		return
	}

	w, ok := b.workers[key]
	if !ok {
		w = &worker{kick: make(chan struct{}, 1)}
		b.workers[key] = w
		b.wg.Add(1)
		go b.runWorker(w)
	}

	b.pending.Add(1)
	w.mu.Lock()
	w.queue = append(w.queue, Batch{ConversationID: key, Messages: msgs})
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (b *Buffer) runWorker(w *worker) {
	defer b.wg.Done()
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			if _, ok := <-w.kick; !ok {
				return
			}
			continue
		}
		batch := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		b.flush(batch)
		b.pending.Done()
	}
}

// Pending reports the number of buffered (not yet flushed) messages for
// one conversation.
func (b *Buffer) Pending(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[conversationID]; ok {
		return len(e.msgs)
	}
	return 0
}

// FlushAll drains every pending conversation and waits for all batches
// to finish processing. The buffer accepts no messages afterwards; used
// at shutdown so nothing buffered is ever lost.
func (b *Buffer) FlushAll() {
	b.mu.Lock()
	for key, e := range b.entries {
		b.flushLocked(key, e)
	}
	b.closed = true
	workers := make([]*worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	b.pending.Wait()
	for _, w := range workers {
		close(w.kick)
	}
	b.wg.Wait()
}
