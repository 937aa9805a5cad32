package storeclient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerBinaries trips after consecutive upload failures so a dead object
// store fails fast instead of stalling every session at the video stage.
type BreakerBinaries struct {
	next Binaries
	cb   *gobreaker.TwoStepCircuitBreaker
}

func NewBreakerBinaries(next Binaries, s BreakerSettings, log *zap.Logger) *BreakerBinaries {
	if log == nil {
		log = zap.NewNop()
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	name := s.Name
	if name == "" {
		name = "object-store"
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &BreakerBinaries{next: next, cb: cb}
}

func (b *BreakerBinaries) State() gobreaker.State { return b.cb.State() }

func (b *BreakerBinaries) UploadBinary(ctx context.Context, path string, src Source, onProgress ProgressFunc) *Transfer {
	done, err := b.cb.Allow()
	if err != nil {
		return FailedTransfer(path, err)
	}
	inner := b.next.UploadBinary(ctx, path, src, onProgress)
	return StartTransfer(ctx, path, func(ctx context.Context) (string, error) {
		select {
		case <-inner.Done():
		case <-ctx.Done():
			inner.Cancel()
		}
		ref, err := inner.Wait()
		// A user cancel says nothing about store health.
		done(err == nil || errors.Is(err, ErrTransferCanceled))
		return ref, err
	})
}

func (b *BreakerBinaries) DownloadReference(ctx context.Context, ref string) (string, error) {
	return b.next.DownloadReference(ctx, ref)
}
