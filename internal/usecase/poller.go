package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breathwork-agent/internal/domain"
)

const (
	defaultPollInterval     = time.Second
	defaultMaxPollAttempts  = 60
	defaultSettleDelay      = 500 * time.Millisecond
	defaultRateLimitBackoff = 2 * time.Second
)

// runStatusGetter is the slice of the assistant client the poller needs.
type runStatusGetter interface {
	GetRun(ctx context.Context, threadID, runID string) (domain.RunState, error)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// runPoller drives a created run to a terminal state with a bounded number
// of fixed-interval status fetches.
type runPoller struct {
	runs             runStatusGetter
	interval         time.Duration
	settleDelay      time.Duration
	rateLimitBackoff time.Duration
	maxAttempts      int
	sleep            sleepFunc
}

func newRunPoller(runs runStatusGetter) *runPoller {
	return &runPoller{
		runs:             runs,
		interval:         defaultPollInterval,
		settleDelay:      defaultSettleDelay,
		rateLimitBackoff: defaultRateLimitBackoff,
		maxAttempts:      defaultMaxPollAttempts,
		sleep:            sleepContext,
	}
}

// wait polls the run until it completes, fails terminally, or the attempt
// ceiling is exhausted. A rate-limited status fetch is retried after a longer
// backoff instead of aborting the run, but still consumes an attempt. On
// completion a short settling delay lets the message list become consistent
// before the caller fetches it.
func (p *runPoller) wait(ctx context.Context, threadID, runID string) error {
	for attempts := 0; attempts < p.maxAttempts; {
		if err := p.sleep(ctx, p.interval); err != nil {
			return newError(ErrorInternal, "poll_interrupted", err)
		}
		attempts++

		run, err := p.runs.GetRun(ctx, threadID, runID)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				if sleepErr := p.sleep(ctx, p.rateLimitBackoff); sleepErr != nil {
					return newError(ErrorInternal, "poll_interrupted", sleepErr)
				}
				continue
			}
			return newError(ErrorUpstream, "run_status_error", err)
		}

		switch run.Status {
		case domain.RunQueued, domain.RunInProgress:
			// keep polling
		case domain.RunCompleted:
			if err := p.sleep(ctx, p.settleDelay); err != nil {
				return newError(ErrorInternal, "poll_interrupted", err)
			}
			return nil
		case domain.RunFailed:
			detail := run.LastError
			if detail == "" {
				detail = "unknown error"
			}
			return newError(ErrorRunFailed, "run_failed", errors.New(detail))
		case domain.RunExpired:
			return newError(ErrorRunExpired, "run_expired", nil)
		case domain.RunCancelled:
			return newError(ErrorRunCancelled, "run_cancelled", nil)
		default:
			return newError(ErrorUpstream, "run_status_unknown", fmt.Errorf("unexpected run status %q", run.Status))
		}
	}
	return newError(ErrorRunTimeout, "run_timed_out", nil)
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
