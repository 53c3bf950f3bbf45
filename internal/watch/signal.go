package watch

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// Runner is a blocking loop that returns once its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunUntilSignal runs r until ctx is done or one of sigs arrives, then
// calls cleanup on the calling goroutine after r has returned. Signals
// received while cleanup runs are absorbed. The signal that ended the run
// is returned, or nil if ctx ended it.
func RunUntilSignal(ctx context.Context, r Runner, cleanup func(), logger *slog.Logger, sigs ...os.Signal) (os.Signal, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)
	defer signal.Stop(sigCh)

	got := make(chan os.Signal, 1)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down", "signal", sig.String())
			got <- sig
			cancel()
		case <-ctx.Done():
		}
	}()

	err := r.Run(ctx)
	cancel()

	logger.Info("Cleaning up pipeline processes")
	cleanup()

	select {
	case sig := <-got:
		return sig, err
	default:
		return nil, err
	}
}
