// Package poll waits for a remote batch to reach a terminal state.
package poll

import (
	"context"
	"time"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/observability"
)

// Observer receives every non-terminal status observation.
type Observer func(status domain.TaskStatus)

// Poller repeatedly queries a batch's status until it finishes, fails or
// the wait deadline passes.
type Poller struct {
	querier domain.StatusQuerier
	logger  *observability.Logger
}

// NewPoller creates a poller over querier.
func NewPoller(querier domain.StatusQuerier, logger *observability.Logger) *Poller {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Poller{
		querier: querier,
		logger:  logger.WithOperation("poll"),
	}
}

// AwaitCompletion blocks until batch is done or failed, or until maxWait
// elapses. A failed query only costs its round; the loop keeps going until
// the deadline. The wait between queries is interruptible through ctx.
func (p *Poller) AwaitCompletion(ctx context.Context, batch domain.BatchHandle, maxWait, interval time.Duration, onProgress Observer) (domain.ResultDescriptor, error) {
	logger := p.logger.WithContext(ctx).WithBatch(batch.String())
	start := time.Now()
	deadline := start.Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ResultDescriptor{}, domain.Cancelled(err)
		}

		status, err := p.querier.QueryStatus(ctx, batch)
		switch {
		case domain.IsKind(err, domain.KindCancelled):
			return domain.ResultDescriptor{}, err

		case err != nil:
			logger.Warn().Err(err).Int("attempt", attempt).Msg("status query failed, retrying next round")

		case status.State == domain.StateDone:
			logger.Info().Int("attempt", attempt).Dur("waited", time.Since(start)).Msg("batch finished")
			if status.Result != nil {
				return *status.Result, nil
			}
			return domain.ResultDescriptor{BatchID: batch, FileName: status.FileName}, nil

		case status.State == domain.StateFailed:
			msg := status.ErrMsg
			if msg == "" {
				msg = "remote processing failed without a message"
			}
			return domain.ResultDescriptor{}, domain.RemoteProcessingFailed(msg)

		default:
			logger.Debug().Str("state", status.State).Int("attempt", attempt).Msg("batch not finished")
			if onProgress != nil {
				onProgress(status)
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.ResultDescriptor{}, domain.PollTimeout(batch.String(), maxWait)
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ResultDescriptor{}, domain.Cancelled(ctx.Err())
		case <-timer.C:
		}
	}
}
