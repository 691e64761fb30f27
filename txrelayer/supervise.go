package txrelayer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

type loopFunc func(ctx context.Context) error

// supervise runs loop until ctx is done, restarting it restartDelay after it returns or panics.
func supervise(ctx context.Context, name string, restartDelay time.Duration, logger *zap.SugaredLogger, loop loopFunc) {
	for {
		err := runProtected(ctx, loop)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			logger.Errorf("%s loop failed, restart in %s: %v", name, restartDelay, err)
		} else {
			logger.Warnf("%s loop exited, restart in %s", name, restartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func runProtected(ctx context.Context, loop loopFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return loop(ctx)
}
