package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeRepo struct {
	mu     sync.Mutex
	events []domain.Event
	seq    int64
}

func (r *fakeRepo) AppendEvent(_ context.Context, e domain.Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Sequence = r.seq
	r.events = append(r.events, e)
	return r.seq, nil
}

func (r *fakeRepo) ListEvents(_ context.Context, sessionID string) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	l := New(repo, fakeClock{now: time.Now()}, nil)

	s1, err := l.Append(context.Background(), "sess-1", "app-1", domain.EventItemQueued, "", nil)
	require.NoError(t, err)
	s2, err := l.Append(context.Background(), "sess-1", "app-2", domain.EventItemQueued, "", nil)
	require.NoError(t, err)
	require.Greater(t, s2, s1)
}

func TestReplayReturnsOrderedHistory(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	l := New(repo, fakeClock{now: time.Now()}, nil)
	ctx := context.Background()
	_, _ = l.Append(ctx, "sess-1", "app-1", domain.EventItemQueued, "", nil)
	_, _ = l.Append(ctx, "sess-1", "app-1", domain.EventItemStarted, "", nil)
	_, _ = l.Append(ctx, "sess-2", "app-9", domain.EventItemQueued, "", nil)

	events, err := l.Replay(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventItemQueued, events[0].Type)
	require.Equal(t, domain.EventItemStarted, events[1].Type)
}

func TestCallbackAppendsUnderPinnedSession(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	l := New(repo, fakeClock{now: time.Now()}, nil)
	ctx := context.Background()
	cb := l.Callback(ctx, "sess-5")
	cb(domain.EventCaptchaDetected, "app-3", map[string]any{"step": 2})

	events, err := l.Replay(ctx, "sess-5")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventCaptchaDetected, events[0].Type)
	require.Equal(t, "app-3", events[0].ApplicationID)
}
