package investigate

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_CompletesOnCompleteOutcome(t *testing.T) {
	p := Poller{Interval: time.Millisecond, Ceiling: time.Second}
	polls := 0
	out, err := p.Wait(context.Background(), func(ctx context.Context) (*PollOutcome, error) {
		polls++
		if polls < 3 {
			return &PollOutcome{Status: PollRunning, Runs: map[string]string{"infra": "RUNNING"}}, nil
		}
		return &PollOutcome{Status: PollComplete}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, PollComplete, out.Status)
	assert.Equal(t, 3, polls)
}

func TestPoller_CeilingBoundsPollCount(t *testing.T) {
	interval := 10 * time.Millisecond
	ceiling := 35 * time.Millisecond
	p := Poller{Interval: interval, Ceiling: ceiling}

	polls := 0
	_, err := p.Wait(context.Background(), func(ctx context.Context) (*PollOutcome, error) {
		polls++
		return &PollOutcome{Status: PollRunning}, nil
	}, nil)
	require.ErrorIs(t, err, ErrPollTimeout)

	maxPolls := int(ceiling/interval) + 1
	assert.LessOrEqual(t, polls, maxPolls)
	assert.Greater(t, polls, 0)
}

func TestPoller_PollErrorIsTerminal(t *testing.T) {
	p := Poller{Interval: time.Millisecond, Ceiling: time.Second}
	polls := 0
	_, err := p.Wait(context.Background(), func(ctx context.Context) (*PollOutcome, error) {
		polls++
		return nil, eris.New("poll endpoint 500")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, polls, "any non-success poll fails immediately")
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	p := Poller{Interval: 50 * time.Millisecond, Ceiling: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, func(ctx context.Context) (*PollOutcome, error) {
		t.Fatal("poll must not run after cancellation")
		return nil, nil
	}, nil)
	require.Error(t, err)
}

func TestPoller_ProgressEstimate(t *testing.T) {
	p := Poller{Interval: time.Millisecond, Ceiling: time.Second}

	var reported []int
	polls := 0
	_, err := p.Wait(context.Background(), func(ctx context.Context) (*PollOutcome, error) {
		polls++
		switch polls {
		case 1:
			return &PollOutcome{Status: PollRunning, Runs: map[string]string{
				"infra": "RUNNING", "build": "PENDING", "buyer": "RUNNING",
			}}, nil
		case 2:
			return &PollOutcome{Status: PollRunning, Runs: map[string]string{
				"infra": "COMPLETED", "build": "FAILED", "buyer": "RUNNING",
			}}, nil
		default:
			return &PollOutcome{Status: PollComplete}, nil
		}
	}, func(done, progress int) {
		reported = append(reported, progress)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{20, 60}, reported)
}

func TestPollProgress(t *testing.T) {
	assert.Equal(t, 20, pollProgress(0))
	assert.Equal(t, 40, pollProgress(1))
	assert.Equal(t, 60, pollProgress(2))
	assert.Equal(t, 80, pollProgress(3))
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(0, 0)
	assert.Equal(t, 3500*time.Millisecond, p.Interval)
	assert.Equal(t, 5*time.Minute, p.Ceiling)

	p = NewPoller(1000, 60)
	assert.Equal(t, time.Second, p.Interval)
	assert.Equal(t, time.Minute, p.Ceiling)
}
