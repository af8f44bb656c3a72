package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/socksgate/internal/testutil"
)

func TestCopyBidirectional(t *testing.T) {
	clientSide, left := net.Pipe()
	right, serverSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(context.Background(), left, right) }()

	testutil.AssertEcho(t, clientSide, serverSide, []byte("to server"))
	testutil.AssertEcho(t, serverSide, clientSide, []byte("to client"))

	_ = clientSide.Close()

	// The far side sees EOF once either side goes away.
	_ = serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := serverSide.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBidirectional did not return")
	}
}

func TestCopyBidirectionalServerClose(t *testing.T) {
	clientSide, left := net.Pipe()
	right, serverSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(context.Background(), left, right) }()

	_ = serverSide.Close()

	_ = clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientSide.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCopyBidirectionalContextCancel(t *testing.T) {
	_, left := net.Pipe()
	right, _ := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, left, right) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBidirectional did not return after cancel")
	}
}
