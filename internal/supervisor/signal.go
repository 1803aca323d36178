package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalContext returns a context canceled when parent is canceled or the
// process receives SIGINT/SIGTERM/SIGQUIT.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		close(done)
	}()

	stop := func() {
		cancel()
		signal.Stop(sigCh)
		<-done
	}
	return ctx, stop
}
