package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type logRow struct {
	userID uint
	sentAt time.Time
}

// memLog is an in-memory MessageLog with a clock so the rolling window can be
// tested without touching a database.
type memLog struct {
	mu        sync.Mutex
	clock     Clock
	rows      []logRow
	insertErr error
	countErr  error
}

func newMemLog(clock Clock) *memLog {
	return &memLog{clock: clock}
}

func (m *memLog) Insert(_ context.Context, userID uint, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, logRow{userID: userID, sentAt: m.clock.Now()})
	return nil
}

func (m *memLog) CountSince(_ context.Context, userID uint, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, row := range m.rows {
		if row.userID == userID && !row.sentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLog) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("kv down")
}
func (failingKV) Set(context.Context, string, string) error  { return errors.New("kv down") }
func (failingKV) DeletePrefix(context.Context, string) error { return errors.New("kv down") }

func newTestLimiter(clock Clock) (*Limiter, *MemoryStore, *memLog) {
	kv := NewMemoryStore()
	log := newMemLog(clock)
	return NewLimiter(clock, kv, log), kv, log
}

func TestGuestCounter_IncrementsPerAssistant(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	limiter, _, _ := newTestLimiter(clock)

	require.True(t, limiter.GuestAllowed(ctx, "sess-1", "asst-a"))
	require.Equal(t, 0, limiter.GuestCount(ctx, "sess-1", "asst-a"))

	for i := 0; i < MaxGuestMessages; i++ {
		limiter.RecordGuestMessage(ctx, "sess-1", "asst-a")
	}

	require.Equal(t, MaxGuestMessages, limiter.GuestCount(ctx, "sess-1", "asst-a"))
	require.False(t, limiter.GuestAllowed(ctx, "sess-1", "asst-a"))

	// other assistants and other sessions are unaffected
	require.True(t, limiter.GuestAllowed(ctx, "sess-1", "asst-b"))
	require.True(t, limiter.GuestAllowed(ctx, "sess-2", "asst-a"))
}

func TestGuestCounter_StoreErrorReadsAsZero(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	limiter := NewLimiter(clock, failingKV{}, newMemLog(clock))

	require.Equal(t, 0, limiter.GuestCount(ctx, "sess-1", "asst-a"))
	require.True(t, limiter.GuestAllowed(ctx, "sess-1", "asst-a"))
	// record must not panic on a write error either
	limiter.RecordGuestMessage(ctx, "sess-1", "asst-a")
}

func TestClearGuestCounters_DropsWholeSession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	limiter, _, _ := newTestLimiter(clock)

	limiter.RecordGuestMessage(ctx, "sess-1", "asst-a")
	limiter.RecordGuestMessage(ctx, "sess-1", "asst-b")
	limiter.RecordGuestMessage(ctx, "sess-2", "asst-a")

	limiter.ClearGuestCounters(ctx, "sess-1")

	require.Equal(t, 0, limiter.GuestCount(ctx, "sess-1", "asst-a"))
	require.Equal(t, 0, limiter.GuestCount(ctx, "sess-1", "asst-b"))
	require.Equal(t, 1, limiter.GuestCount(ctx, "sess-2", "asst-a"))
}

func TestUserQuota_RollingWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	limiter, _, _ := newTestLimiter(clock)

	for i := 0; i < MaxUserMessagesPerWindow; i++ {
		limiter.RecordUserMessage(ctx, 7, "asst-a")
	}

	allowed, count, err := limiter.UserAllowed(ctx, 7)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, int64(MaxUserMessagesPerWindow), count)

	// a different user is unaffected
	allowed, count, err = limiter.UserAllowed(ctx, 8)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, count)

	// once the window rolls past the old sends, capacity frees up
	clock.Advance(24*time.Hour + time.Minute)
	allowed, count, err = limiter.UserAllowed(ctx, 7)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, count)
}

func TestUserQuota_CountErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	limiter, _, log := newTestLimiter(clock)
	log.countErr = errors.New("db down")

	_, _, err := limiter.UserAllowed(ctx, 7)
	require.Error(t, err)
}

func TestRecordUserMessage_InsertErrorDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	limiter, _, log := newTestLimiter(clock)
	log.insertErr = errors.New("db down")

	// fail-open: the call logs and returns
	limiter.RecordUserMessage(ctx, 7, "asst-a")
	require.Equal(t, 0, log.rowCount())
}
