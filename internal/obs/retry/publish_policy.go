package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPublishPolicy covers Kafka publishes of log-created events. Pushes to
// the provider deliberately have no retry policy anywhere; the next scan or
// pending-queue flush is the only retry surface for those.
func DefaultPublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "log_event_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("log event publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("log event publish retries exhausted", zap.Error(err))
			}
		},
	}
}
