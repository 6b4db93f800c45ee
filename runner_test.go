package debate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	summary *Summary
	err     error

	mu          sync.Mutex
	transcripts [][]Message
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript []Message) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	return f.summary, f.err
}

func (f *fakeSummarizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcripts)
}

// gatedAdvisor blocks every call until gate is closed.
type gatedAdvisor struct {
	Advisor
	gate chan struct{}
}

func (g gatedAdvisor) Respond(ctx context.Context, history []ChatMessage) (string, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.Advisor.Respond(ctx, history)
}

func newTestRunner(t *testing.T, nova, sage Advisor, summarizer Summarizer) (*Runner, Store) {
	t.Helper()
	store := newTestStore(t)
	r := NewRunner(newTestEngine(nova, sage), summarizer, store, discardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r, store
}

// follow collects every event of a running debate until it is done.
func follow(t *testing.T, r *Runner, id string, release chan struct{}) []Event {
	t.Helper()
	sub, ok := r.Subscribe(id)
	require.True(t, ok, "debate should still be running")
	if release != nil {
		close(release)
	}
	return drain(t, sub)
}

// drain collects the replay and every live event of sub until it is closed.
func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	defer sub.Close()

	events := sub.Replay
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("debate did not finish")
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRunnerCompletesDebate(t *testing.T) {
	gate := make(chan struct{})
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova", replies: []string{"Too broad."}}, gate}
	sage := &scriptedAdvisor{name: "sage", replies: []string{Sage.Concession}}
	summarizer := &fakeSummarizer{summary: testSummary()}
	r, store := newTestRunner(t, nova, sage, summarizer)

	id, err := r.Start(context.Background(), "  Soil microbiomes  ")
	require.NoError(t, err)
	events := follow(t, r, id, gate)

	assert.Equal(t, []EventType{
		EventMessage, EventThinking, EventMessage, EventThinking, EventMessage, EventEnded, EventSummary,
	}, eventTypes(events))
	assert.Equal(t, 0, r.Running())

	_, ok := r.Subscribe(id)
	assert.False(t, ok)

	d, err := store.GetDebate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Soil microbiomes", d.Idea)
	assert.Equal(t, StatusFinished, d.Status)
	assert.Equal(t, OutcomeSageConceded, d.Outcome)
	require.Len(t, d.Messages, 3)
	assert.Equal(t, "Student Idea: Soil microbiomes", d.Messages[0].Content)
	require.NotNil(t, d.Summary)
	assert.Equal(t, testSummary().Rubric, d.Summary.Rubric)

	require.Equal(t, 1, summarizer.calls())
	assert.Len(t, summarizer.transcripts[0], 3)
}

func TestRunnerAdvisorErrorStillSummarizes(t *testing.T) {
	gate := make(chan struct{})
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova", errs: []error{errors.New("invalid api key")}}, gate}
	summarizer := &fakeSummarizer{summary: testSummary()}
	r, store := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, summarizer)

	id, err := r.Start(context.Background(), "idea")
	require.NoError(t, err)
	events := follow(t, r, id, gate)
	assert.Contains(t, eventTypes(events), EventError)

	d, err := store.GetDebate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvisorError, d.Outcome)
	assert.Contains(t, d.Error, "invalid api key")
	assert.Equal(t, 1, summarizer.calls())
}

func TestRunnerSummaryFailure(t *testing.T) {
	gate := make(chan struct{})
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova", replies: []string{Nova.Concession}}, gate}
	summarizer := &fakeSummarizer{err: errors.New("boom")}
	r, store := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, summarizer)

	id, err := r.Start(context.Background(), "idea")
	require.NoError(t, err)
	events := follow(t, r, id, gate)

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Text, "Failed to generate summary")

	d, err := store.GetDebate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNovaConceded, d.Outcome)
	assert.Nil(t, d.Summary)
}

func TestRunnerShutdownCancelsDebates(t *testing.T) {
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova"}, make(chan struct{})}
	summarizer := &fakeSummarizer{summary: testSummary()}
	r, store := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, summarizer)

	id, err := r.Start(context.Background(), "idea")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	d, err := store.GetDebate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, d.Status)
	assert.Equal(t, OutcomeCanceled, d.Outcome)
	assert.Equal(t, 0, summarizer.calls())

	_, err = r.Start(context.Background(), "another")
	assert.Error(t, err)
}

func TestRunnerEmptyIdea(t *testing.T) {
	r, store := newTestRunner(t, &scriptedAdvisor{name: "nova"}, &scriptedAdvisor{name: "sage"}, nil)

	_, err := r.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyIdea)

	list, err := store.ListDebates(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunnerWatchSeesDebateThatEndsImmediately(t *testing.T) {
	nova := &scriptedAdvisor{name: "nova", errs: []error{errors.New("invalid api key")}}
	r, _ := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, nil)

	id, sub, err := r.Watch(context.Background(), "idea")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotNil(t, sub)

	events := drain(t, sub)
	assert.False(t, sub.Dropped())
	require.NotEmpty(t, events)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Contains(t, eventTypes(events), EventError)
	last := events[len(events)-1]
	assert.Equal(t, EventEnded, last.Type)
	assert.Equal(t, OutcomeAdvisorError, last.Outcome)
}

func TestRunnerWatchAfterShutdown(t *testing.T) {
	r, _ := newTestRunner(t, &scriptedAdvisor{name: "nova"}, &scriptedAdvisor{name: "sage"}, nil)
	require.NoError(t, r.Shutdown(context.Background()))

	_, sub, err := r.Watch(context.Background(), "idea")
	assert.ErrorIs(t, err, errRunnerClosed)
	assert.Nil(t, sub)
}

func TestRunnerStartDuringShutdown(t *testing.T) {
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova"}, make(chan struct{})}
	r, store := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Start(context.Background(), "idea")
			if err != nil {
				assert.ErrorIs(t, err, errRunnerClosed)
				return
			}
			mu.Lock()
			started = append(started, id)
			mu.Unlock()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	wg.Wait()

	// Every debate that was accepted has been waited for.
	assert.Equal(t, 0, r.Running())
	for _, id := range started {
		d, err := store.GetDebate(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusFinished, d.Status, id)
	}
}

func TestHubLateSubscriber(t *testing.T) {
	h := newHub()
	h.publish(Event{Type: EventThinking, Text: "thinking"})
	h.finish()

	sub := h.subscribe()
	require.Len(t, sub.Replay, 1)
	_, open := <-sub.Events
	assert.False(t, open)
	assert.False(t, sub.Dropped())
	sub.Close()
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := newHub()
	sub := h.subscribe()
	for i := 0; i < subscriberBuffer+1; i++ {
		h.publish(Event{Type: EventThinking})
	}

	n := 0
	for range sub.Events {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
	assert.True(t, sub.Dropped())
	sub.Close()
}
