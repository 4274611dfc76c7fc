package chat

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"
)

const (
	// MaxGuestMessages is the per-assistant cap for one guest session. The
	// counter is advisory (a UX nudge toward registration), not a security
	// boundary.
	MaxGuestMessages = 3

	// MaxUserMessagesPerWindow is the authenticated cap over the rolling
	// usage window, counted from the persisted message log.
	MaxUserMessagesPerWindow = 50

	usageWindow = 24 * time.Hour
)

// MessageLog is the persisted per-send usage log for authenticated users.
type MessageLog interface {
	Insert(ctx context.Context, userID uint, assistantID string) error
	CountSince(ctx context.Context, userID uint, since time.Time) (int64, error)
}

// Limiter decides whether a new outbound message is permitted and records
// consumption. Guest counters live in the injected KeyValueStore keyed by the
// guest session; authenticated counts are derived from the message log.
type Limiter struct {
	clock Clock
	kv    KeyValueStore
	log   MessageLog
}

func NewLimiter(clock Clock, kv KeyValueStore, messageLog MessageLog) *Limiter {
	return &Limiter{clock: clock, kv: kv, log: messageLog}
}

func guestKey(sessionKey, assistantID string) string {
	return fmt.Sprintf("guest:msgcount:%s:%s", sessionKey, assistantID)
}

// GuestCount returns the number of messages this guest session has sent to
// the assistant. Store errors read as zero; miscounting one guest session is
// preferable to blocking it.
func (l *Limiter) GuestCount(ctx context.Context, sessionKey, assistantID string) int {
	raw, err := l.kv.Get(ctx, guestKey(sessionKey, assistantID))
	if err != nil {
		log.Printf("[limiter] guest counter read failed: %v", err)
		return 0
	}
	n, _ := strconv.Atoi(raw)
	return n
}

// GuestAllowed reports whether the guest may send another message. It does
// not mutate state.
func (l *Limiter) GuestAllowed(ctx context.Context, sessionKey, assistantID string) bool {
	return l.GuestCount(ctx, sessionKey, assistantID) < MaxGuestMessages
}

// RecordGuestMessage increments the session-scoped counter by one.
func (l *Limiter) RecordGuestMessage(ctx context.Context, sessionKey, assistantID string) {
	key := guestKey(sessionKey, assistantID)
	n := l.GuestCount(ctx, sessionKey, assistantID)
	if err := l.kv.Set(ctx, key, strconv.Itoa(n+1)); err != nil {
		log.Printf("[limiter] guest counter write failed: %v", err)
	}
}

// ClearGuestCounters drops every per-assistant counter for the guest session.
// Called on SIGNED_IN; guest usage never carries over to the account.
func (l *Limiter) ClearGuestCounters(ctx context.Context, sessionKey string) {
	if sessionKey == "" {
		return
	}
	if err := l.kv.DeletePrefix(ctx, fmt.Sprintf("guest:msgcount:%s:", sessionKey)); err != nil {
		log.Printf("[limiter] clearing guest counters failed: %v", err)
	}
}

// UserCount returns the authenticated user's message count within the rolling
// window. The persisted log is authoritative; this is never cached across
// calls.
func (l *Limiter) UserCount(ctx context.Context, userID uint) (int64, error) {
	since := l.clock.Now().Add(-usageWindow)
	return l.log.CountSince(ctx, userID, since)
}

// UserAllowed reports whether the user is under the rolling-window cap. It
// does not mutate state.
func (l *Limiter) UserAllowed(ctx context.Context, userID uint) (bool, int64, error) {
	count, err := l.UserCount(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return count < MaxUserMessagesPerWindow, count, nil
}

// RecordUserMessage appends one row to the persisted message log. Fail-open:
// a dropped log entry only risks under-counting, it never blocks the
// conversation.
func (l *Limiter) RecordUserMessage(ctx context.Context, userID uint, assistantID string) {
	if err := l.log.Insert(ctx, userID, assistantID); err != nil {
		log.Printf("[limiter] message log insert failed for user %d: %v", userID, err)
	}
}
