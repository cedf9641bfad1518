package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalContext is canceled on the first interrupt. The second one kills
// the process.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
