package util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

// echoServer accepts one connection and echoes it back.
func echoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) //nolint:errcheck
	}()
	return ln
}

func TestBidirectionalCopy(t *testing.T) {
	ln := echoServer(t)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	input := bytes.NewBufferString("hello world\n")
	output := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// input → conn → echo → output.  Exhausting input half-closes the
	// write side; the echo server then closes, ending the copy.
	tr, err := BidirectionalCopy(ctx, conn, input, output)
	if err != nil {
		t.Fatalf("BidirectionalCopy: %v", err)
	}

	if got := output.String(); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
	if tr.Sent != 12 || tr.Received != 12 {
		t.Errorf("transfer = %+v, want 12/12", tr)
	}
}

// blockingReader never returns until closed.
type blockingReader struct{ done chan struct{} }

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.done
	return 0, io.EOF
}

func TestBidirectionalCopy_ContextCancel(t *testing.T) {
	ln := echoServer(t)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	r := &blockingReader{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		_, err := BidirectionalCopy(ctx, conn, r, io.Discard)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(r.done)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not stop after cancel")
	}
}

func TestIsHarmless(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{io.EOF, true},
		{net.ErrClosed, true},
		{fmt.Errorf("wrapped: %w", io.ErrClosedPipe), true},
		{&net.OpError{Op: "read", Err: net.ErrClosed}, true},
		{io.ErrUnexpectedEOF, false},
	}
	for _, tt := range tests {
		if got := IsHarmless(tt.err); got != tt.want {
			t.Errorf("IsHarmless(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
