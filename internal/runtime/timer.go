package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// ErrInvalidPeriod is returned when a timer period is not positive.
// The period is always an explicit value; it is never derived arithmetically.
var ErrInvalidPeriod = errors.New("timer period must be positive")

// wallTimer is a periodic timer owned by a node. The firing goroutine only
// hands invocations to the node's executor; the callback itself always runs
// on the Spin goroutine.
type wallTimer struct {
	period   time.Duration
	callback rosbus.TimerCallback

	stopOnce sync.Once
	stopped  chan struct{}
}

func newWallTimer(period time.Duration, callback rosbus.TimerCallback) *wallTimer {
	return &wallTimer{
		period:   period,
		callback: callback,
		stopped:  make(chan struct{}),
	}
}

// Period returns the configured firing period.
func (t *wallTimer) Period() time.Duration {
	return t.period
}

// Stop cancels the timer. No callback fires after Stop returns; a firing
// already queued on the executor is discarded by the stopped check.
func (t *wallTimer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
	})
}

// run feeds timer firings into the executor work channel until the spin
// context ends or the timer stops.
func (t *wallTimer) run(ctx context.Context, work chan<- func(context.Context)) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopped:
			return
		case <-ticker.C:
			select {
			case work <- t.invoke:
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			}
		}
	}
}

// invoke runs the callback unless the timer stopped after the firing was
// queued.
func (t *wallTimer) invoke(ctx context.Context) {
	select {
	case <-t.stopped:
		return
	default:
	}
	t.callback(ctx)
}

// Verify that wallTimer implements the Timer interface at compile time
var _ rosbus.Timer = (*wallTimer)(nil)
