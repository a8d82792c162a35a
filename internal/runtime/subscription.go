package runtime

import (
	"context"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// nodeSubscription pairs a transport subscription with the handler that
// consumes it on the node's executor.
type nodeSubscription struct {
	rosbus.Subscription
	handler rosbus.MessageCallback
}

// run forwards delivered messages into the executor work channel until the
// spin context ends or the subscription channel closes.
func (s *nodeSubscription) run(ctx context.Context, work chan<- func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.C():
			if !ok {
				return
			}
			job := func(jobCtx context.Context) {
				s.handler(jobCtx, msg)
			}
			select {
			case work <- job:
			case <-ctx.Done():
				return
			}
		}
	}
}
