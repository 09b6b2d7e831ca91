package intervention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func TestRequestResolvedByOperator(t *testing.T) {
	t.Parallel()
	b := New(time.Second, fakeClock{now: time.Now()}, nil, nil)

	done := make(chan map[string]any, 1)
	go func() {
		payload, err := b.Request(context.Background(), "app-1", domain.InterventionCaptcha, nil)
		require.NoError(t, err)
		done <- payload
	}()

	require.Eventually(t, func() bool {
		kind, ok := b.Pending("app-1")
		return ok && kind == domain.InterventionCaptcha
	}, 200*time.Millisecond, 5*time.Millisecond)

	require.True(t, b.Resolve("app-1", map[string]any{"solved": true}))
	result := <-done
	require.Equal(t, true, result["solved"])
}

func TestRequestTimesOut(t *testing.T) {
	t.Parallel()
	b := New(20*time.Millisecond, fakeClock{now: time.Now()}, nil, nil)
	_, err := b.Request(context.Background(), "app-2", domain.InterventionTwoFactor, nil)
	require.ErrorIs(t, err, domain.ErrInterventionTimeout)
	_, ok := b.Pending("app-2")
	require.False(t, ok)
}

func TestResolveUnknownApplicationIsNoop(t *testing.T) {
	t.Parallel()
	b := New(time.Second, fakeClock{now: time.Now()}, nil, nil)
	require.False(t, b.Resolve("never-requested", nil))
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New(time.Second, fakeClock{now: time.Now()}, nil, nil)
	go func() { _, _ = b.Request(context.Background(), "app-3", domain.InterventionSuspicious, nil) }()
	require.Eventually(t, func() bool {
		_, ok := b.Pending("app-3")
		return ok
	}, 200*time.Millisecond, 5*time.Millisecond)

	require.True(t, b.Resolve("app-3", nil))
	require.False(t, b.Resolve("app-3", nil), "second resolve of the same application must be a no-op")
}

func TestDuplicateRequestRejected(t *testing.T) {
	t.Parallel()
	b := New(time.Second, fakeClock{now: time.Now()}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = b.Request(ctx, "app-4", domain.InterventionCaptcha, nil) }()
	require.Eventually(t, func() bool {
		_, ok := b.Pending("app-4")
		return ok
	}, 200*time.Millisecond, 5*time.Millisecond)

	_, err := b.Request(context.Background(), "app-4", domain.InterventionCaptcha, nil)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}
