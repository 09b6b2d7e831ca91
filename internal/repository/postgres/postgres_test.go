package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/orchestrator/internal/domain"
)

func TestCreateSessionInsertsRow(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()
	s := domain.Session{
		ID: "sess-1", UserID: "user-1", Timezone: "America/New_York",
		Limits:   domain.Limits{MaxItems: 50, MaxDuration: time.Hour, MaxConcurrency: 2, BudgetCost: 10},
		Status:   domain.SessionPlanned,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(s.ID, s.UserID, s.Timezone, s.Limits.MaxItems, int64(3600), s.Limits.MaxConcurrency,
			s.Limits.BudgetCost, s.Status, s.CreatedAt, s.EffortRef, s.StealthRef).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.CreateSession(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionStatusNotFound(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithPool(mock)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(domain.SessionRunning, now, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateSessionStatus(context.Background(), "missing", domain.SessionRunning, now)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventReturnsSequence(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithPool(mock)
	now := time.Now().UTC()
	e := domain.Event{SessionID: "sess-1", ApplicationID: "app-1", Type: domain.EventItemQueued, Timestamp: now}

	rows := pgxmock.NewRows([]string{"sequence"}).AddRow(int64(7))
	mock.ExpectQuery("INSERT INTO events").
		WithArgs(e.SessionID, e.ApplicationID, e.Type, e.Detail, []byte("null"), e.Timestamp).
		WillReturnRows(rows)

	seq, err := repo.AppendEvent(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, int64(7), seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainPolicy(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithPool(mock)
	p := domain.DomainPolicy{Domain: "ats.example.com", MaxPerDay: 25, MinIntervalSeconds: 60, MaxConcurrent: 1}

	mock.ExpectExec("INSERT INTO domain_policies").
		WithArgs(p.Domain, p.MaxPerDay, p.MinIntervalSeconds, p.MaxConcurrent, p.Avoid, p.CooldownSeconds, p.BlockedUntil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertDomainPolicy(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}
