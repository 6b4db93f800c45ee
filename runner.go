package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errRunnerClosed = errors.New("debate runner is shut down")

// subscriberBuffer is large enough to hold every event of a debate capped at
// the default turn limit.
const subscriberBuffer = 64

// Runner runs debates in the background, persists them and fans their
// events out to subscribers.
type Runner struct {
	engine     *Engine
	summarizer Summarizer
	store      Store
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]*hub
}

func NewRunner(engine *Engine, summarizer Summarizer, store Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine:     engine,
		summarizer: summarizer,
		store:      store,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		running:    make(map[string]*hub),
	}
}

// Start stores a new debate for idea and runs it in the background. The
// debate outlives ctx; it is only stopped by Shutdown.
func (r *Runner) Start(ctx context.Context, idea string) (string, error) {
	id, _, err := r.start(ctx, idea, false)
	return id, err
}

// Watch is Start with a subscription taken before the debate begins, so no
// event can be missed however quickly the debate ends.
func (r *Runner) Watch(ctx context.Context, idea string) (string, *Subscription, error) {
	return r.start(ctx, idea, true)
}

func (r *Runner) start(ctx context.Context, idea string, watch bool) (string, *Subscription, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return "", nil, ErrEmptyIdea
	}

	d := &Debate{
		ID:        uuid.NewString(),
		Idea:      idea,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", nil, errRunnerClosed
	}
	if err := r.store.CreateDebate(ctx, d); err != nil {
		return "", nil, err
	}

	h := newHub()
	var sub *Subscription
	if watch {
		sub = h.subscribe()
	}
	r.running[d.ID] = h

	debatesStarted.Inc()
	activeDebates.Inc()
	r.wg.Add(1)
	go r.run(d.ID, idea, h)

	return d.ID, sub, nil
}

func (r *Runner) run(id, idea string, h *hub) {
	defer r.wg.Done()
	defer activeDebates.Dec()
	defer func() {
		r.mu.Lock()
		delete(r.running, id)
		r.mu.Unlock()
		h.finish()
	}()

	logger := r.logger.With("debate_id", id)
	// Bookkeeping must complete even when the debate itself is canceled.
	storeCtx := context.WithoutCancel(r.ctx)

	engine := *r.engine
	engine.Logger = logger
	res, err := engine.Run(r.ctx, idea, func(ev Event) {
		if ev.Type == EventMessage && ev.Message != nil {
			if err := r.store.AppendMessage(storeCtx, id, *ev.Message); err != nil {
				logger.Error("Failed to store message", "error", err)
			}
		}
		h.publish(ev)
	})
	if err != nil {
		logger.Error("Debate failed to start", "error", err)
		return
	}

	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	if err := r.store.FinishDebate(storeCtx, id, res.Outcome, errText); err != nil {
		logger.Error("Failed to finish debate", "error", err)
	}
	debatesFinished.WithLabelValues(string(res.Outcome)).Inc()

	if res.Outcome == OutcomeCanceled || r.summarizer == nil {
		return
	}

	logger.Info("Generating final summary")
	summary, err := r.summarizer.Summarize(r.ctx, res.Messages)
	if err != nil {
		logger.Error("Failed to generate summary", "error", err)
		h.publish(Event{Type: EventError, Text: fmt.Sprintf("Failed to generate summary: %v", err)})
		return
	}
	if err := r.store.SaveSummary(storeCtx, id, summary); err != nil {
		logger.Error("Failed to store summary", "error", err)
	}
	h.publish(Event{Type: EventSummary, Summary: summary})
}

// Subscribe returns the events a running debate has emitted so far and a
// channel carrying the rest. ok is false when the debate is not running in
// this process; its state is then only available from the store.
func (r *Runner) Subscribe(id string) (sub *Subscription, ok bool) {
	r.mu.Lock()
	h, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return h.subscribe(), true
}

// Running reports the number of debates in progress.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Shutdown cancels running debates and waits for them to be recorded. Start
// fails once Shutdown has been called.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for running debates: %w", ctx.Err())
	}
}

// Subscription follows the events of one debate.
type Subscription struct {
	// Replay holds the events emitted before the subscription was taken.
	Replay []Event
	// Events is closed when the debate and its summary are done, or when
	// the subscriber fell too far behind.
	Events <-chan Event

	h *hub
	s *subscriber
}

// Dropped reports whether Events was closed because the subscriber fell
// behind rather than because the debate ended. It is only meaningful once
// Events is closed.
func (s *Subscription) Dropped() bool {
	return s.s.dropped
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.h.unsubscribe(s.s)
}

type subscriber struct {
	ch chan Event
	// Written before ch is closed.
	dropped bool
}

// hub keeps the event history of one debate and its live subscribers.
type hub struct {
	mu     sync.Mutex
	events []Event
	subs   map[*subscriber]struct{}
	done   bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber, it can reconnect and replay.
			h.dropLocked(sub)
		}
	}
}

func (h *hub) dropLocked(sub *subscriber) {
	sub.dropped = true
	delete(h.subs, sub)
	close(sub.ch)
}

func (h *hub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	replay := append([]Event(nil), h.events...)
	if h.done {
		close(sub.ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	return &Subscription{Replay: replay, Events: sub.ch, h: h, s: sub}
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *hub) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}
