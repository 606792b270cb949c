// Package shutdown installs the process signal handlers used for graceful
// termination.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pairwire/pkg/logger"
)

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM. The
// cancel function releases the watcher.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	return ctx, cancel
}
