package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ordercore/internal/logger"
	"ordercore/internal/types"
)

// Run consumes intents until the channel closes or ctx is cancelled. Each
// worker handles one intent end-to-end; results, when a sink is provided,
// are delivered in completion order, not arrival order. The status poller
// runs alongside the workers.
func (e *Engine) Run(ctx context.Context, intents <-chan types.OrderIntent, results chan<- types.IntentResult) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return e.runPoller(ctx)
	})

	for i := 0; i < e.cfg.Workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case intent, ok := <-intents:
					if !ok {
						return nil
					}
					res := e.HandleIntent(ctx, intent)
					if results != nil {
						select {
						case results <- res:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			}
		})
	}

	err := group.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Infof("engine stopped")
	return nil
}
