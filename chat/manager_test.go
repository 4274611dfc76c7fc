package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_SessionIsReusedPerIdentityAndAssistant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := f.manager.Session(ctx, guestIdentity(), testAssistant())
	b := f.manager.Session(ctx, guestIdentity(), testAssistant())
	require.Same(t, a, b)

	other := testAssistant()
	other.ID = "asst-2"
	c := f.manager.Session(ctx, guestIdentity(), other)
	require.NotSame(t, a, c)

	d := f.manager.Session(ctx, userIdentity(), testAssistant())
	require.NotSame(t, a, d)
}

func TestManager_SignInClearsGuestCountersAndSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	guest := f.manager.Session(ctx, guestIdentity(), testAssistant())
	_, err := guest.Submit(ctx, "as a guest")
	require.NoError(t, err)
	require.Equal(t, 1, f.limiter.GuestCount(ctx, "guest-sess", "asst-1"))

	f.manager.handle(ctx, AuthEvent{Type: EventSignedIn, UserID: 7, SessionKey: "guest-sess"})

	// counters are gone and the next lookup builds a fresh session
	require.Equal(t, 0, f.limiter.GuestCount(ctx, "guest-sess", "asst-1"))
	fresh := f.manager.Session(ctx, guestIdentity(), testAssistant())
	require.NotSame(t, guest, fresh)

	// a different browser session keeps its counters
	f.limiter.RecordGuestMessage(ctx, "other-sess", "asst-1")
	f.manager.handle(ctx, AuthEvent{Type: EventSignedIn, UserID: 8, SessionKey: "guest-sess"})
	require.Equal(t, 1, f.limiter.GuestCount(ctx, "other-sess", "asst-1"))
}

func TestManager_SignOutDropsUserSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := f.manager.Session(ctx, userIdentity(), testAssistant())
	f.manager.handle(ctx, AuthEvent{Type: EventSignedOut, UserID: 7})

	fresh := f.manager.Session(ctx, userIdentity(), testAssistant())
	require.NotSame(t, s, fresh)
}

func TestManager_RunConsumesNotifiedEvents(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.manager.Run(ctx)

	f.limiter.RecordGuestMessage(ctx, "guest-sess", "asst-1")
	f.manager.Notify(AuthEvent{Type: EventSignedIn, UserID: 7, SessionKey: "guest-sess"})

	require.Eventually(t, func() bool {
		return f.limiter.GuestCount(ctx, "guest-sess", "asst-1") == 0
	}, time.Second, 5*time.Millisecond)
}
