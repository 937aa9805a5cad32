package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownBudget bounds every graceful shutdown hook.
const ShutdownBudget = 10 * time.Second

type Runner struct {
	Logger *zap.Logger
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log}
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives, then
// runs each shutdown hook within ShutdownBudget. It returns the exit code.
func (r *Runner) WithSignals(start func(ctx context.Context) error, shutdown ...func(context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			r.Logger.Error("service exited with error", zap.Error(err))
			code = 1
		}
	}

	c, cancel := context.WithTimeout(context.Background(), ShutdownBudget)
	defer cancel()
	for _, fn := range shutdown {
		if err := fn(c); err != nil {
			r.Logger.Warn("shutdown hook failed", zap.Error(err))
		}
	}
	return code
}

func Exit(code int) {
	os.Exit(code)
}
