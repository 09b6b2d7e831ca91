// Package eventlog implements an append-only event log over an
// EventRepository; each event receives the sequence number the
// repository assigns. The log does not order writes against the state
// changes they describe: callers decide whether an event is appended
// before or after the change.
package eventlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Log records events through an EventRepository.
type Log struct {
	repo   domain.EventRepository
	clock  domain.Clock
	logger *zap.Logger
}

// New constructs an Event Log over a durable EventRepository.
func New(repo domain.EventRepository, clock domain.Clock, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{repo: repo, clock: clock, logger: logger}
}

// Append writes one event and returns the sequence number assigned by
// the repository. The worker and dispatcher apply status changes first
// and append afterwards, logging an append failure without undoing the
// change.
func (l *Log) Append(ctx context.Context, sessionID, applicationID string, kind domain.EventType, detail string, payload map[string]any) (int64, error) {
	e := domain.Event{
		SessionID:     sessionID,
		ApplicationID: applicationID,
		Type:          kind,
		Detail:        detail,
		Payload:       payload,
		Timestamp:     l.clock.Now(),
	}
	seq, err := l.repo.AppendEvent(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append %s for session %s: %w", kind, sessionID, err)
	}
	l.logger.Debug("event appended",
		zap.String("session_id", sessionID),
		zap.String("application_id", applicationID),
		zap.String("type", string(kind)),
		zap.Int64("sequence", seq))
	return seq, nil
}

// Callback adapts the log's Append method to the domain.EventCallback
// shape consumed by Executor implementations, pinned to one session.
func (l *Log) Callback(ctx context.Context, sessionID string) domain.EventCallback {
	return func(kind domain.EventType, applicationID string, payload map[string]any) {
		if _, err := l.Append(ctx, sessionID, applicationID, kind, "", payload); err != nil {
			l.logger.Error("failed to append callback event",
				zap.String("session_id", sessionID), zap.String("type", string(kind)), zap.Error(err))
		}
	}
}

// Replay returns the full ordered event history for a session, used to
// reconstruct session/application state on recovery: state derived by
// folding the events must match what was persisted directly.
func (l *Log) Replay(ctx context.Context, sessionID string) ([]domain.Event, error) {
	events, err := l.repo.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: replay session %s: %w", sessionID, err)
	}
	return events, nil
}
