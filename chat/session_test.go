package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RadAdrian/ai-marketplace-app/models"
)

type genCall struct {
	system  string
	history []Message
	prompt  string
}

// mockGenerator returns canned replies and records every call. When block is
// set, Generate waits until the channel is closed, which lets tests hold a
// send in flight.
type mockGenerator struct {
	mu      sync.Mutex
	calls   []genCall
	reply   string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (g *mockGenerator) Generate(_ context.Context, system string, history []Message, prompt string) (string, error) {
	g.mu.Lock()
	snapshot := make([]Message, len(history))
	copy(snapshot, history)
	g.calls = append(g.calls, genCall{system: system, history: snapshot, prompt: prompt})
	block := g.block
	started := g.started
	g.mu.Unlock()

	if started != nil {
		close(started)
		g.mu.Lock()
		g.started = nil
		g.mu.Unlock()
	}
	if block != nil {
		<-block
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *mockGenerator) lastCall() genCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

type transcriptKey struct {
	userID      uint
	assistantID string
}

// memTranscripts is an in-memory TranscriptStore safe for the background
// persist goroutine.
type memTranscripts struct {
	mu        sync.Mutex
	histories map[transcriptKey][]Message
	upserts   int
	deletes   int
	fetchErr  error
	upsertErr error
	deleteErr error
}

func newMemTranscripts() *memTranscripts {
	return &memTranscripts{histories: make(map[transcriptKey][]Message)}
}

func (m *memTranscripts) Fetch(_ context.Context, userID uint, assistantID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	h := m.histories[transcriptKey{userID, assistantID}]
	out := make([]Message, len(h))
	copy(out, h)
	return out, nil
}

func (m *memTranscripts) Upsert(_ context.Context, userID uint, assistantID string, history []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	h := make([]Message, len(history))
	copy(h, history)
	m.histories[transcriptKey{userID, assistantID}] = h
	m.upserts++
	return nil
}

func (m *memTranscripts) Delete(_ context.Context, userID uint, assistantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.histories, transcriptKey{userID, assistantID})
	m.deletes++
	return nil
}

func (m *memTranscripts) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *memTranscripts) stored(userID uint, assistantID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.histories[transcriptKey{userID, assistantID}]
}

type fixture struct {
	clock       *fakeClock
	gen         *mockGenerator
	transcripts *memTranscripts
	kv          *MemoryStore
	log         *memLog
	limiter     *Limiter
	manager     *Manager

	authPrompts []string
}

func newFixture() *fixture {
	f := &fixture{
		clock:       newFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		gen:         &mockGenerator{reply: "Certainly."},
		transcripts: newMemTranscripts(),
		kv:          NewMemoryStore(),
	}
	f.log = newMemLog(f.clock)
	f.limiter = NewLimiter(f.clock, f.kv, f.log)
	f.manager = NewManager(Deps{
		Generator:   f.gen,
		Transcripts: f.transcripts,
		Limiter:     f.limiter,
		Clock:       f.clock,
		OnAuthRequired: func(_ Identity, msg string) {
			f.authPrompts = append(f.authPrompts, msg)
		},
	})
	return f
}

func testAssistant() models.Assistant {
	return models.Assistant{
		ID:           "asst-1",
		Name:         "Luna",
		SystemPrompt: "You are Luna, a helpful assistant.",
	}
}

func guestIdentity() Identity { return Identity{SessionKey: "guest-sess"} }
func userIdentity() Identity  { return Identity{UserID: 7} }

func TestSessionInit_GuestStartsWithGreeting(t *testing.T) {
	f := newFixture()
	s := f.manager.Session(context.Background(), guestIdentity(), testAssistant())

	messages, state, warning := s.Snapshot()
	require.Len(t, messages, 1)
	require.Equal(t, SenderAssistant, messages[0].Sender)
	require.Equal(t, "Hello! I'm Luna. How can I assist you today?", messages[0].Text)
	require.Equal(t, StateReady, state)
	require.Empty(t, warning)
}

func TestSessionInit_GuestAtLimitStartsLimited(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < MaxGuestMessages; i++ {
		f.limiter.RecordGuestMessage(ctx, "guest-sess", "asst-1")
	}

	s := f.manager.Session(ctx, guestIdentity(), testAssistant())
	_, state, warning := s.Snapshot()
	require.Equal(t, StateLimitReached, state)
	require.Contains(t, warning, "register or log in")
}

func TestSessionInit_UserLoadsStoredHistory(t *testing.T) {
	f := newFixture()
	stored := []Message{
		newMessage(SenderAssistant, "Hello! I'm Luna. How can I assist you today?", f.clock.Now()),
		newMessage(SenderUser, "hi", f.clock.Now()),
		newMessage(SenderAssistant, "Hi there.", f.clock.Now()),
	}
	require.NoError(t, f.transcripts.Upsert(context.Background(), 7, "asst-1", stored))

	s := f.manager.Session(context.Background(), userIdentity(), testAssistant())
	messages, state, _ := s.Snapshot()
	require.Len(t, messages, 3)
	require.Equal(t, "Hi there.", messages[2].Text)
	require.Equal(t, StateReady, state)
}

func TestSessionInit_UserHistoryErrorDegradesToGreeting(t *testing.T) {
	f := newFixture()
	f.transcripts.fetchErr = errors.New("db down")

	s := f.manager.Session(context.Background(), userIdentity(), testAssistant())
	messages, state, warning := s.Snapshot()
	require.Len(t, messages, 1)
	require.Equal(t, StateReady, state)
	require.Contains(t, warning, "Could not load previous conversation")
}

func TestSessionInit_UserAtQuotaStartsLimited(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < MaxUserMessagesPerWindow; i++ {
		f.limiter.RecordUserMessage(ctx, 7, "asst-1")
	}

	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	_, state, warning := s.Snapshot()
	require.Equal(t, StateLimitReached, state)
	require.Contains(t, warning, fmt.Sprintf("%d messages", MaxUserMessagesPerWindow))
}

func TestSubmit_AppendsUserMessageAndReply(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	reply, err := s.Submit(ctx, "  What can you do?  ")
	require.NoError(t, err)
	require.Equal(t, SenderAssistant, reply.Sender)
	require.Equal(t, "Certainly.", reply.Text)

	messages, state, _ := s.Snapshot()
	require.Len(t, messages, 3)
	require.Equal(t, "What can you do?", messages[1].Text)
	require.Equal(t, StateReady, state)

	// generator receives the prior history plus the trimmed prompt
	call := f.gen.lastCall()
	require.Equal(t, "You are Luna, a helpful assistant.", call.system)
	require.Len(t, call.history, 1)
	require.Equal(t, "What can you do?", call.prompt)

	require.Equal(t, 1, f.limiter.GuestCount(ctx, "guest-sess", "asst-1"))
}

func TestSubmit_EmptyMessageRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	_, err := s.Submit(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Zero(t, f.gen.callCount())
}

func TestSubmit_SecondSendWhileInFlightRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{})
	started := f.gen.started

	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, "first")
		done <- err
	}()
	<-started

	_, err := s.Submit(ctx, "second")
	require.ErrorIs(t, err, ErrSendInFlight)

	close(f.gen.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, f.gen.callCount())
}

func TestSubmit_GuestLimitBlocksAndPromptsAuth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	for i := 0; i < MaxGuestMessages; i++ {
		_, err := s.Submit(ctx, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	before, _, _ := s.Snapshot()

	_, err := s.Submit(ctx, "one more")
	require.ErrorIs(t, err, ErrGuestLimitReached)

	after, state, warning := s.Snapshot()
	require.Len(t, after, len(before), "blocked submit must not grow the transcript")
	require.Equal(t, StateLimitReached, state)
	require.Equal(t, fmt.Sprintf("You've reached the %d message limit for guests with this assistant. Please register or log in to continue chatting.", MaxGuestMessages), warning)

	// the generator never saw the blocked message, and the auth prompt fired
	require.Equal(t, MaxGuestMessages, f.gen.callCount())
	require.Len(t, f.authPrompts, 1)
}

func TestSubmit_UserLimitBlocks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	for i := 0; i < MaxUserMessagesPerWindow; i++ {
		f.limiter.RecordUserMessage(ctx, 7, "asst-1")
	}

	_, err := s.Submit(ctx, "over the cap")
	require.ErrorIs(t, err, ErrUserLimitReached)
	require.Zero(t, f.gen.callCount())
}

func TestSubmit_QuotaReadErrorFailsOpen(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	f.log.countErr = errors.New("db down")

	_, err := s.Submit(ctx, "still works")
	require.NoError(t, err)
	require.Equal(t, 1, f.gen.callCount())
}

func TestSubmit_GenerationFailureProducesErrorBubble(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gen.err = errors.New("rate limited")

	s := f.manager.Session(ctx, guestIdentity(), testAssistant())
	reply, err := s.Submit(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "Oops! I encountered an issue: rate limited. Please try again.", reply.Text)

	messages, state, _ := s.Snapshot()
	require.Len(t, messages, 3)
	require.Equal(t, StateReady, state)

	// the attempted send still consumed quota
	require.Equal(t, 1, f.limiter.GuestCount(ctx, "guest-sess", "asst-1"))
}

func TestSubmit_UserTranscriptPersistsInBackground(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	_, err := s.Submit(ctx, "save me")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.transcripts.upsertCount() == 1
	}, time.Second, 5*time.Millisecond)

	stored := f.transcripts.stored(7, "asst-1")
	require.Len(t, stored, 3)
	require.Equal(t, "save me", stored[1].Text)

	// exactly one usage row for the send
	require.Equal(t, 1, f.log.rowCount())
}

func TestSubmit_GuestTranscriptNeverPersists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	_, err := s.Submit(ctx, "ephemeral")
	require.NoError(t, err)

	// give any stray persist goroutine a chance to run
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.transcripts.upsertCount())
}

func TestSubmit_PersistFailureOnlyWarns(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.transcripts.upsertErr = errors.New("db down")

	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	_, err := s.Submit(ctx, "keep going")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, warning := s.Snapshot()
		return warning != ""
	}, time.Second, 5*time.Millisecond)

	messages, state, warning := s.Snapshot()
	require.Len(t, messages, 3)
	require.Equal(t, StateReady, state)
	require.Contains(t, warning, "could not be saved")
}

func TestReset_GuestRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	require.ErrorIs(t, s.Reset(ctx, true), ErrGuestReset)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	require.ErrorIs(t, s.Reset(ctx, false), ErrConfirmationRequired)
	require.Zero(t, f.transcripts.deletes)
}

func TestReset_DeletesTranscriptAndReseedsGreeting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	_, err := s.Submit(ctx, "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.transcripts.upsertCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Reset(ctx, true))

	messages, state, warning := s.Snapshot()
	require.Len(t, messages, 1)
	require.Equal(t, "Hello! I'm Luna. How can I assist you today?", messages[0].Text)
	require.Equal(t, StateReady, state)
	require.Empty(t, warning)

	require.Equal(t, 1, f.transcripts.deletes)
	require.Nil(t, f.transcripts.stored(7, "asst-1"))

	// resetting the conversation does not refund quota
	require.Equal(t, 1, f.log.rowCount())
}

func TestReset_DeleteErrorKeepsTranscript(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	f.transcripts.deleteErr = errors.New("db down")

	err := s.Reset(ctx, true)
	require.Error(t, err)

	_, _, warning := s.Snapshot()
	require.Contains(t, warning, "Could not reset")
}

func TestSubmit_DetachedSessionDiscardsResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{})
	started := f.gen.started

	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, "in flight")
		done <- err
	}()
	<-started

	// rebinding (sign-out, assistant switch) detaches the session mid-send
	f.manager.Drop(userIdentity(), "asst-1")
	close(f.gen.block)

	require.ErrorIs(t, <-done, ErrSuperseded)

	// the stale result is discarded: no reply was appended, nothing persisted
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.transcripts.upsertCount())
}

func TestRemaining_GuestDecrementsPerSend(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, guestIdentity(), testAssistant())

	require.Equal(t, MaxGuestMessages, s.Remaining(ctx))

	_, err := s.Submit(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, MaxGuestMessages-1, s.Remaining(ctx))
}

func TestRemaining_UserReflectsWindowUsage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.limiter.RecordUserMessage(ctx, 7, "asst-1")
	}

	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	require.Equal(t, MaxUserMessagesPerWindow-4, s.Remaining(ctx))
}

func TestRemaining_UserCountErrorReadsAsFullAllowance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.manager.Session(ctx, userIdentity(), testAssistant())

	f.log.countErr = errors.New("db down")
	require.Equal(t, MaxUserMessagesPerWindow, s.Remaining(ctx))
}
