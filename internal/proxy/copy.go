package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httputil"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional relays bytes between left and right until either
// direction ends. Whichever side finishes first, by EOF or error, closes
// both connections, as does canceling ctx. Errors caused by that teardown
// are not reported.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var g errgroup.Group

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, ensure we close both sides to unblock Copy.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	g.Go(func() error {
		defer closeBoth()
		_, err := copyBuffer(left, right)
		return err
	})

	g.Go(func() error {
		defer closeBoth()
		_, err := copyBuffer(right, left)
		return err
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// bufferPool recycles relay buffers of a fixed size.
type bufferPool struct {
	pool sync.Pool
}

var (
	copyBuffers = newBufferPool(32 * 1024)

	_ httputil.BufferPool = (*bufferPool)(nil)
)

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b []byte) {
	p.pool.Put(&b)
}

func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}
