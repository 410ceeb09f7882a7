package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/replicate"
)

// Getter fetches the current state of a prediction.
type Getter interface {
	GetPrediction(ctx context.Context, id string) (replicate.Prediction, error)
}

// Poller checks a prediction at a fixed interval until it is terminal or the attempt
// budget runs out. There is no backoff.
type Poller struct {
	Client      Getter
	Interval    time.Duration
	MaxAttempts int

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller returns a Poller with the given budget.
func NewPoller(client Getter, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Poller{Client: client, Interval: interval, MaxAttempts: maxAttempts, Sleep: sleepContext}
}

// Budget is the longest a full poll can take.
func (p *Poller) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Poll watches id. A provider 404 or 5xx stops polling with a Failed outcome; other errors
// are retried on the next tick. When ctx's deadline passes the result is TimedOut; when
// ctx is canceled for any other reason the context error is returned.
func (p *Poller) Poll(ctx context.Context, id string) (Outcome, error) {
	logger := logging.FromContext(ctx).With("prediction_id", id)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last replicate.Prediction
	attempts := 0
	for attempts < p.MaxAttempts {
		attempts++

		pred, err := p.Client.GetPrediction(ctx, id)
		switch {
		case err == nil:
			last = pred
			if pred.Terminal() {
				return OutcomeOf(pred), nil
			}
		case replicate.IsNotFound(err) || replicate.IsServerError(err):
			logger.Warn("provider rejected status check", "attempt", attempts, "error", err)
			return Failed{Prediction: last, Reason: err.Error()}, nil
		case ctx.Err() != nil:
			return p.interrupted(ctx, last, attempts)
		default:
			logger.Warn("status check failed, retrying", "attempt", attempts, "error", err)
		}

		if attempts < p.MaxAttempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return p.interrupted(ctx, last, attempts)
			}
		}
	}

	logger.Warn("poll budget exhausted", "attempts", attempts, "last_status", last.Status)
	return TimedOut{Last: last, Attempts: attempts}, nil
}

// CheckOnce performs a single status check and classifies it.
func (p *Poller) CheckOnce(ctx context.Context, id string) (Outcome, error) {
	pred, err := p.Client.GetPrediction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check prediction %s: %w", id, err)
	}
	return OutcomeOf(pred), nil
}

func (p *Poller) interrupted(ctx context.Context, last replicate.Prediction, attempts int) (Outcome, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimedOut{Last: last, Attempts: attempts}, nil
	}
	return nil, ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
