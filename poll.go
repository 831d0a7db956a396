package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/intake/model"
	"github.com/sirupsen/logrus"
)

// WaitForBatch polls the batch status every interval until it is completed
// or error. When timeout passes first it returns the last status seen with
// ErrPollTimeout. Stopping the wait does not stop the processing.
func (i *Intake) WaitForBatch(ctx context.Context, batchID string, interval, timeout time.Duration) (model.BatchStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last model.BatchStatus
	for {
		status, err := i.ledger.GetBatchStatus(pollCtx, batchID)
		switch {
		case err == nil:
			last = status
			if status.Status.Terminal() {
				return status, nil
			}
		case pollCtx.Err() != nil && ctx.Err() == nil:
			return last, pollTimeout(batchID, last, timeout)
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-pollCtx.Done():
			return last, pollTimeout(batchID, last, timeout)
		case <-ticker.C:
		}
	}
}

func pollTimeout(batchID string, last model.BatchStatus, timeout time.Duration) error {
	state := last.Status
	if state == "" {
		state = "unknown"
	}
	return fmt.Errorf("%w: batch %s still %s after %s", ErrPollTimeout, batchID, state, timeout)
}

// StartImport hands a pending batch to the workers when a queue is
// configured, and otherwise processes it on a background goroutine.
func (i *Intake) StartImport(ctx context.Context, batchID string) error {
	if i.queue != nil {
		return i.queue.EnqueueImport(ctx, batchID)
	}

	status, err := i.ledger.GetBatchStatus(ctx, batchID)
	if err != nil {
		return err
	}
	if status.Status != model.StatusPending {
		return fmt.Errorf("%w: batch %s is %s", ErrInvalidTransition, batchID, status.Status)
	}

	go func() {
		bg := context.WithoutCancel(ctx)
		if _, err := i.ProcessImport(bg, batchID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			logrus.WithError(err).WithField("batch_id", batchID).Error("background import failed")
		}
	}()
	return nil
}
