package chat

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/RadAdrian/ai-marketplace-app/models"
)

type AuthEventType string

const (
	EventSignedIn  AuthEventType = "SIGNED_IN"
	EventSignedOut AuthEventType = "SIGNED_OUT"
)

// AuthEvent is an identity change. SessionKey is the browser session the
// event originated from (used to clear guest counters on sign-in).
type AuthEvent struct {
	Type       AuthEventType
	UserID     uint
	SessionKey string
}

// Manager owns the live sessions, one per (identity, assistant) pair, and
// consumes identity-change events serially so overlapping auth transitions
// cannot race.
type Manager struct {
	deps   Deps
	events chan AuthEvent

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Manager{
		deps:     deps,
		events:   make(chan AuthEvent, 16),
		sessions: make(map[string]*Session),
	}
}

func sessionKey(identity Identity, assistantID string) string {
	return identity.Key() + "|" + assistantID
}

// Session returns the initialized session for the pair, creating it on first
// use. Initialization (history + quota load) happens at most once.
func (m *Manager) Session(ctx context.Context, identity Identity, assistant models.Assistant) *Session {
	key := sessionKey(identity, assistant.ID)

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(identity, assistant, m.deps)
		m.sessions[key] = s
	}
	m.mu.Unlock()

	s.ensureInit(ctx)
	return s
}

// Notify queues an identity-change event for the Run loop.
func (m *Manager) Notify(ev AuthEvent) {
	m.events <- ev
}

// Run processes identity events one at a time until ctx is cancelled. Meant
// to be started once from main.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev AuthEvent) {
	switch ev.Type {
	case EventSignedIn:
		// Guest usage does not carry over to the account: clear the browser
		// session's counters and drop its guest sessions so any in-flight
		// results are discarded.
		m.deps.Limiter.ClearGuestCounters(ctx, ev.SessionKey)
		m.dropByPrefix("g:" + ev.SessionKey + "|")
	case EventSignedOut:
		m.dropByPrefix(Identity{UserID: ev.UserID}.Key() + "|")
	default:
		log.Printf("[chat] ignoring unknown auth event %q", ev.Type)
	}
}

func (m *Manager) dropByPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if strings.HasPrefix(key, prefix) {
			s.detach()
			delete(m.sessions, key)
		}
	}
}

// Drop removes one session (used when the bound assistant changes mid-send;
// the eventual generation result is discarded, not applied).
func (m *Manager) Drop(identity Identity, assistantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(identity, assistantID)
	if s, ok := m.sessions[key]; ok {
		s.detach()
		delete(m.sessions, key)
	}
}
