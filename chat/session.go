package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/RadAdrian/ai-marketplace-app/models"
)

// Identity is the party on the user side of a conversation. UserID is zero
// for guests; SessionKey identifies the guest browser session (and, for
// authenticated users, the session whose guest counters were cleared at
// sign-in).
type Identity struct {
	UserID     uint
	SessionKey string
}

func (id Identity) Guest() bool { return id.UserID == 0 }

// Key is the registry key for this identity.
func (id Identity) Key() string {
	if id.Guest() {
		return "g:" + id.SessionKey
	}
	return fmt.Sprintf("u:%d", id.UserID)
}

// Generator is the external model-inference endpoint: one request, one
// response, no streaming. History is the ordered prior messages; prompt is
// the message being sent.
type Generator interface {
	Generate(ctx context.Context, systemInstruction string, history []Message, prompt string) (string, error)
}

// TranscriptStore persists transcripts for authenticated users, keyed by
// (userID, assistantID). Upsert replaces the whole history document.
type TranscriptStore interface {
	Fetch(ctx context.Context, userID uint, assistantID string) ([]Message, error)
	Upsert(ctx context.Context, userID uint, assistantID string, history []Message) error
	Delete(ctx context.Context, userID uint, assistantID string) error
}

// Deps are the collaborators a session needs. OnAuthRequired fires when a
// guest hits the message cap; it is optional.
type Deps struct {
	Generator      Generator
	Transcripts    TranscriptStore
	Limiter        *Limiter
	Clock          Clock
	OnAuthRequired func(identity Identity, message string)
}

type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateSending       State = "sending"
	StateLimitReached  State = "limit_reached"
)

var (
	ErrEmptyMessage         = errors.New("chat: message is empty")
	ErrSendInFlight         = errors.New("chat: a send is already in flight")
	ErrGuestLimitReached    = errors.New("chat: guest message limit reached")
	ErrUserLimitReached     = errors.New("chat: message limit reached")
	ErrConfirmationRequired = errors.New("chat: reset requires confirmation")
	ErrGuestReset           = errors.New("chat: guests cannot reset conversations")
	ErrSuperseded           = errors.New("chat: session was rebound, result discarded")
)

// Session owns the conversation state for one (identity, assistant) pair.
// One outstanding operation at a time; a second Submit while a send is in
// flight returns ErrSendInFlight instead of queueing.
type Session struct {
	identity  Identity
	assistant models.Assistant
	deps      Deps

	initOnce sync.Once

	mu        sync.Mutex
	state     State
	epoch     uint64
	messages  []Message
	lastError string

	persistWG sync.WaitGroup
}

func newSession(identity Identity, assistant models.Assistant, deps Deps) *Session {
	return &Session{
		identity:  identity,
		assistant: assistant,
		deps:      deps,
		state:     StateUninitialized,
	}
}

// ensureInit loads history and quota state exactly once. Fetch failures are
// not critical path: the conversation degrades to a fresh greeting with a
// recoverable warning.
func (s *Session) ensureInit(ctx context.Context) {
	s.initOnce.Do(func() {
		s.mu.Lock()
		s.state = StateLoading
		s.mu.Unlock()

		now := s.deps.Clock.Now()

		if s.identity.Guest() {
			// Guests never persist transcripts; just read the counter.
			count := s.deps.Limiter.GuestCount(ctx, s.identity.SessionKey, s.assistant.ID)
			s.mu.Lock()
			s.messages = []Message{greeting(s.assistant.Name, now)}
			if count >= MaxGuestMessages {
				s.state = StateLimitReached
				s.lastError = guestLimitMessage()
			} else {
				s.state = StateReady
			}
			s.mu.Unlock()
			return
		}

		var (
			wg       sync.WaitGroup
			history  []Message
			histErr  error
			count    int64
			countErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			history, histErr = s.deps.Transcripts.Fetch(ctx, s.identity.UserID, s.assistant.ID)
		}()
		go func() {
			defer wg.Done()
			count, countErr = s.deps.Limiter.UserCount(ctx, s.identity.UserID)
		}()
		wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		if histErr != nil {
			log.Printf("[chat] history load failed for user %d assistant %s: %v", s.identity.UserID, s.assistant.ID, histErr)
			s.lastError = "Could not load previous conversation. Starting fresh."
			history = nil
		}
		if len(history) > 0 {
			s.messages = history
		} else {
			s.messages = []Message{greeting(s.assistant.Name, now)}
		}
		if countErr != nil {
			// Quota read failure is treated as zero usage rather than a
			// lockout; the authoritative count returns on the next load.
			log.Printf("[chat] quota load failed for user %d: %v", s.identity.UserID, countErr)
			s.state = StateReady
			return
		}
		if count >= MaxUserMessagesPerWindow {
			s.state = StateLimitReached
			s.lastError = userLimitMessage()
			return
		}
		s.state = StateReady
	})
}

// Submit sends one message: gate, optimistic append, usage debit, generation
// call, reply (or error bubble) append. The debit is applied before the
// generation call and is never rolled back, so a failed generation still
// consumes quota.
func (s *Session) Submit(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state == StateSending || s.state == StateLoading {
		s.mu.Unlock()
		return Message{}, ErrSendInFlight
	}

	if s.identity.Guest() {
		if !s.deps.Limiter.GuestAllowed(ctx, s.identity.SessionKey, s.assistant.ID) {
			s.state = StateLimitReached
			s.lastError = guestLimitMessage()
			cb := s.deps.OnAuthRequired
			identity := s.identity
			s.mu.Unlock()
			if cb != nil {
				cb(identity, guestLimitMessage())
			}
			return Message{}, ErrGuestLimitReached
		}
	} else {
		allowed, _, err := s.deps.Limiter.UserAllowed(ctx, s.identity.UserID)
		if err != nil {
			// Fail open on a quota read error; the persisted log stays
			// authoritative on the next conversation load.
			log.Printf("[chat] quota check failed for user %d: %v", s.identity.UserID, err)
			allowed = true
		}
		if !allowed {
			s.state = StateLimitReached
			s.lastError = userLimitMessage()
			s.mu.Unlock()
			return Message{}, ErrUserLimitReached
		}
	}

	now := s.deps.Clock.Now()
	userMsg := newMessage(SenderUser, text, now)

	// Snapshot of the history prior to this message; the generator receives
	// it plus the new prompt, never a partial or stale view.
	history := make([]Message, len(s.messages))
	copy(history, s.messages)

	s.messages = append(s.messages, userMsg)
	s.state = StateSending
	s.lastError = ""
	epoch := s.epoch
	s.mu.Unlock()

	// Debit before generating: an attempted send always consumes quota.
	if s.identity.Guest() {
		s.deps.Limiter.RecordGuestMessage(ctx, s.identity.SessionKey, s.assistant.ID)
	} else {
		s.deps.Limiter.RecordUserMessage(ctx, s.identity.UserID, s.assistant.ID)
	}

	replyText, genErr := s.deps.Generator.Generate(ctx, s.assistant.SystemPrompt, history, text)

	s.mu.Lock()
	if s.epoch != epoch {
		// The session was rebound or reset while the call was in flight.
		s.mu.Unlock()
		return Message{}, ErrSuperseded
	}

	var reply Message
	if genErr != nil {
		log.Printf("[chat] generation failed for assistant %s: %v", s.assistant.ID, genErr)
		reply = errorBubble(genErr.Error(), s.deps.Clock.Now())
	} else {
		reply = newMessage(SenderAssistant, replyText, s.deps.Clock.Now())
	}
	s.messages = append(s.messages, reply)
	s.state = StateReady

	var snapshot []Message
	if !s.identity.Guest() {
		snapshot = make([]Message, len(s.messages))
		copy(snapshot, s.messages)
	}
	s.mu.Unlock()

	if snapshot != nil {
		// Two-phase write: in-memory state is already applied; persistence
		// runs in the background and only warns on failure.
		s.persistWG.Add(1)
		go func() {
			defer s.persistWG.Done()
			if err := s.deps.Transcripts.Upsert(context.Background(), s.identity.UserID, s.assistant.ID, snapshot); err != nil {
				log.Printf("[chat] transcript save failed for user %d assistant %s: %v", s.identity.UserID, s.assistant.ID, err)
				s.mu.Lock()
				s.lastError = "Your conversation could not be saved; it will continue in memory for this session."
				s.mu.Unlock()
			}
		}()
	}

	return reply, nil
}

// Reset deletes the persisted transcript and reinitializes the conversation
// to a single fresh greeting. Authenticated only, and irreversible, so the
// caller must pass an explicit confirmation. Quota counters are unaffected.
func (s *Session) Reset(ctx context.Context, confirmed bool) error {
	if s.identity.Guest() {
		return ErrGuestReset
	}
	if !confirmed {
		return ErrConfirmationRequired
	}

	s.mu.Lock()
	if s.state == StateSending {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.epoch++
	s.mu.Unlock()

	if err := s.deps.Transcripts.Delete(ctx, s.identity.UserID, s.assistant.ID); err != nil {
		s.mu.Lock()
		s.lastError = "Could not reset conversation."
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.messages = []Message{greeting(s.assistant.Name, s.deps.Clock.Now())}
	s.state = StateReady
	s.lastError = ""
	s.mu.Unlock()
	return nil
}

// detach invalidates the session so any in-flight generation result is
// discarded rather than applied to stale state.
func (s *Session) detach() {
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
}

// Remaining reports how many messages the identity may still send: the guest
// per-assistant headroom or the authenticated rolling-window headroom. A
// quota read error reads as full headroom, matching the fail-open Submit
// path.
func (s *Session) Remaining(ctx context.Context) int {
	if s.identity.Guest() {
		n := MaxGuestMessages - s.deps.Limiter.GuestCount(ctx, s.identity.SessionKey, s.assistant.ID)
		if n < 0 {
			n = 0
		}
		return n
	}
	count, err := s.deps.Limiter.UserCount(ctx, s.identity.UserID)
	if err != nil {
		log.Printf("[chat] quota read failed for user %d: %v", s.identity.UserID, err)
		return MaxUserMessagesPerWindow
	}
	n := MaxUserMessagesPerWindow - int(count)
	if n < 0 {
		n = 0
	}
	return n
}

// Snapshot returns a copy of the conversation plus the observable flags.
func (s *Session) Snapshot() ([]Message, State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs, s.state, s.lastError
}

func guestLimitMessage() string {
	return fmt.Sprintf("You've reached the %d message limit for guests with this assistant. Please register or log in to continue chatting.", MaxGuestMessages)
}

func userLimitMessage() string {
	return fmt.Sprintf("You've reached the limit of %d messages in 24 hours. Please try again later.", MaxUserMessagesPerWindow)
}
