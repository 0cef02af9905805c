package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultBufSize is the standard buffer size for relayed I/O (32 KiB).
// It also bounds the size of each message a relay emits.
const DefaultBufSize = 32 * 1024

// Transfer counts the bytes moved by [BidirectionalCopy].
type Transfer struct {
	Sent     int64 // r → conn
	Received int64 // conn → w
}

// BidirectionalCopy shuffles data between a network connection and an
// arbitrary reader/writer pair (typically one side of a WebSocket
// session) until one side fails or the context is cancelled.
//
// When r reaches EOF the write half of conn is closed but conn keeps
// draining into w until it reaches EOF too.  On teardown conn is closed
// and, if r has a CloseRead method, it is called to end a pending read.
// Errors from the side interrupted by the teardown are not reported.
func BidirectionalCopy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer) (Transfer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg  sync.WaitGroup
		tr  Transfer
		out = make(chan error, 2)
	)

	// conn → w
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := GetBuf()
		defer PutBuf(buf)

		n, err := io.CopyBuffer(w, conn, *buf)
		tr.Received = n
		out <- interrupted(ctx, err)
		cancel()
	}()

	// r → conn
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := GetBuf()
		defer PutBuf(buf)

		n, err := io.CopyBuffer(conn, r, *buf)
		tr.Sent = n
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite() //nolint:errcheck
		}
		out <- interrupted(ctx, err)
		// A clean EOF from r must not tear conn down before the far
		// side has finished sending.
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	conn.Close() // unblock any pending reads/writes
	if cr, ok := r.(interface{ CloseRead() error }); ok {
		cr.CloseRead() //nolint:errcheck
	}
	wg.Wait()
	close(out)

	for err := range out {
		if err != nil && !IsHarmless(err) {
			return tr, err
		}
	}
	return tr, nil
}

// interrupted drops err if the copy was cut short by teardown.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// IsHarmless reports whether err is expected while a connection is
// being torn down.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
