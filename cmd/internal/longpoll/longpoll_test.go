package longpoll

import (
	"context"
	"errors"
	"testing"
	"time"

	"pairgate/cmd/internal/session"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, st *session.MemoryStore) session.Session {
	t.Helper()
	s, err := st.Create(context.Background(), session.CreateRequest{Number: "15551234567"})
	require.NoError(t, err)
	return s
}

func TestAwaitCode_ImmediateWhenCodeExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := session.NewMemoryStore()
	s := newSession(t, st)
	require.NoError(t, st.SetPairingCode(ctx, s.ID, "ABCD1234", time.Now()))

	res, err := New(nil, st).AwaitCode(ctx, s.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", res.Code)
	assert.Equal(t, s.Name, res.SessionName)
	assert.Equal(t, s.ID, res.SessionID)
}

func TestAwaitCode_WakesPromptlyOnCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := session.NewMemoryStore()
	s := newSession(t, st)

	go func() {
		time.Sleep(500 * time.Millisecond)
		_ = st.SetPairingCode(ctx, s.ID, "WXYZ9876", time.Now())
	}()

	start := time.Now()
	res, err := New(nil, st).AwaitCode(ctx, s.ID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "WXYZ9876", res.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwaitCode_TimeoutIsPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := session.NewMemoryStore(session.WithClock(clock))
	s := newSession(t, st)

	co := New(nil, st, WithClock(clock))
	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := co.AwaitCode(ctx, s.ID, 30*time.Second)
		out <- outcome{res, err}
	}()

	bctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 2))
	clock.Advance(30 * time.Second)

	select {
	case o := <-out:
		require.ErrorIs(t, o.err, ErrPending)
		assert.Equal(t, session.StatusWaiting, o.res.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitCode did not return after the timeout")
	}
}

func TestAwaitCode_Outcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(ctx context.Context, st *session.MemoryStore, id string)
		wantErr error
	}{
		{
			name: "expired mid-wait",
			mutate: func(ctx context.Context, st *session.MemoryStore, id string) {
				_ = st.Delete(ctx, id)
			},
			wantErr: ErrExpired,
		},
		{
			name: "code request failed",
			mutate: func(ctx context.Context, st *session.MemoryStore, id string) {
				_ = st.FailCodeRequest(ctx, id, "rate-overlimit")
			},
			wantErr: ErrFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := session.NewMemoryStore()
			s := newSession(t, st)

			go func() {
				time.Sleep(50 * time.Millisecond)
				tc.mutate(ctx, st, s.ID)
			}()

			_, err := New(nil, st).AwaitCode(ctx, s.ID, 10*time.Second)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAwaitCode_UnknownSession(t *testing.T) {
	t.Parallel()

	_, err := New(nil, session.NewMemoryStore()).AwaitCode(context.Background(), "01JNQ5W9ZR8Y3C4D5E6F7G8H9J", time.Second)
	require.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, errors.Is(err, ErrExpired))
}

func TestAwaitCode_ContextCanceled(t *testing.T) {
	t.Parallel()
	st := session.NewMemoryStore()
	s := newSession(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(nil, st).AwaitCode(ctx, s.ID, 10*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
