package investigate

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// ErrPollTimeout is returned when the poll ceiling is exceeded. The
// background runs are not cancelled; the agent does not support cancellation,
// so the loop simply stops polling.
var ErrPollTimeout = eris.New("investigate: poll ceiling exceeded")

// PollFunc performs one non-blocking status poll.
type PollFunc func(ctx context.Context) (*PollOutcome, error)

// Poller is the caller-side poll loop: strictly sequential, at most one poll
// in flight, bounded by a hard ceiling measured from loop start.
type Poller struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// NewPoller builds a Poller from the configured interval and ceiling,
// substituting defaults for non-positive values.
func NewPoller(intervalMS, timeoutSecs int) Poller {
	p := Poller{
		Interval: time.Duration(intervalMS) * time.Millisecond,
		Ceiling:  time.Duration(timeoutSecs) * time.Second,
	}
	if p.Interval <= 0 {
		p.Interval = 3500 * time.Millisecond
	}
	if p.Ceiling <= 0 {
		p.Ceiling = 5 * time.Minute
	}
	return p
}

// Wait repeatedly polls until the investigation completes, the ceiling is
// exceeded, or ctx is cancelled. Each "running" response re-arms the timer
// and reports a progress estimate derived from the count of settled runs.
// For interval T and ceiling C, at most floor(C/T)+1 polls are performed.
func (p Poller) Wait(ctx context.Context, poll PollFunc, onProgress func(done, progress int)) (*PollOutcome, error) {
	deadline := time.Now().Add(p.Ceiling)
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "investigate: poll loop cancelled")
		case <-timer.C:
		}

		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}

		outcome, err := poll(ctx)
		if err != nil {
			return nil, err
		}
		if outcome.Status == PollComplete {
			return outcome, nil
		}

		done := 0
		for _, status := range outcome.Runs {
			if tinyfish.RunStatus(status).Terminal() {
				done++
			}
		}
		if onProgress != nil {
			onProgress(done, pollProgress(done))
		}

		timer.Reset(p.Interval)
	}
}

// pollProgress maps settled-run count to a user-facing percentage.
func pollProgress(done int) int {
	return 20 + int(math.Round(float64(done)/3*60))
}
