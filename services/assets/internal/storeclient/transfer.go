package storeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Transfer is an in-flight binary upload. It resolves exactly once.
type Transfer struct {
	cancel context.CancelFunc
	done   chan struct{}
	ref    string
	err    error
}

// StartTransfer runs upload on its own goroutine under a cancellable child of
// ctx. Errors are normalised: cancellation becomes ErrTransferCanceled and
// anything else (deadline included) wraps ErrTransferFailed.
func StartTransfer(ctx context.Context, path string, upload func(ctx context.Context) (string, error)) *Transfer {
	tctx, cancel := context.WithCancel(ctx)
	t := &Transfer{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		ref, err := upload(tctx)
		t.ref, t.err = ref, normalizeTransferErr(tctx, path, err)
		if t.err != nil {
			t.ref = ""
		}
	}()
	return t
}

// FailedTransfer returns an already-resolved transfer.
func FailedTransfer(path string, err error) *Transfer {
	t := &Transfer{cancel: func() {}, done: make(chan struct{})}
	t.err = normalizeTransferErr(context.Background(), path, err)
	close(t.done)
	return t
}

func normalizeTransferErr(ctx context.Context, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, ErrTransferCanceled) {
		return fmt.Errorf("%w: %s", ErrTransferCanceled, path)
	}
	if errors.Is(err, ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, path, err)
}

// Cancel aborts the transfer. Safe to call repeatedly and after completion.
func (t *Transfer) Cancel() { t.cancel() }

func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks until the transfer resolves.
func (t *Transfer) Wait() (string, error) {
	<-t.done
	return t.ref, t.err
}

// progressReader reports read progress as a percentage of size. Seeking back
// (SDK retries, checksum passes) never lowers the reported value.
type progressReader struct {
	ctx  context.Context
	r    io.ReadSeeker
	size int64
	fn   ProgressFunc

	mu   sync.Mutex
	pos  int64
	high float64
}

func newProgressReader(ctx context.Context, r io.ReadSeeker, size int64, fn ProgressFunc) *progressReader {
	return &progressReader{ctx: ctx, r: r, size: size, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.pos += int64(n)
		pos := p.pos
		p.mu.Unlock()
		p.report(pos)
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		// high stays put so progress never moves backwards.
		p.mu.Lock()
		p.pos = pos
		p.mu.Unlock()
	}
	return pos, err
}

func (p *progressReader) report(written int64) {
	reportPercent(&p.mu, &p.high, p.fn, written, p.size)
}

// reportPercent forwards written/size as a percentage when it exceeds *high.
func reportPercent(mu *sync.Mutex, high *float64, fn ProgressFunc, written, size int64) {
	if fn == nil || size <= 0 {
		return
	}
	pct := float64(written) / float64(size) * 100
	if pct > 100 {
		pct = 100
	}
	mu.Lock()
	if pct <= *high {
		mu.Unlock()
		return
	}
	*high = pct
	mu.Unlock()
	fn(pct)
}

type progressMutex struct {
	mu   sync.Mutex
	high float64
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256<<10)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
