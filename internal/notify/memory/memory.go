// Package memory provides a logging-only domain.Notifier for default
// deployments and tests where no external notification channel is wired.
package memory

import (
	"context"

	"go.uber.org/zap"
)

// Notifier records notifications via structured logging instead of
// delivering them anywhere; it exists so sessionctl.Controller always has
// a non-nil domain.Notifier to call even when no Pub/Sub topic is
// configured.
type Notifier struct {
	logger *zap.Logger
}

// New constructs a logging Notifier.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger.Named("notify")}
}

// Notify implements domain.Notifier.
func (n *Notifier) Notify(_ context.Context, kind string, payload map[string]any) error {
	n.logger.Info("notification", zap.String("kind", kind), zap.Any("payload", payload))
	return nil
}
