package types

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aoi-gallery/provenance/pkg/db/memstore"
)

func TestStartReturnsWhenListenFails(t *testing.T) {
	// Occupy a port so the server's bind fails immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	app := &App{
		Store:  memstore.New(),
		Logger: zap.NewNop(),
		Server: &http.Server{Addr: ln.Addr().String()},
	}

	done := make(chan struct{})
	go func() {
		app.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Start kept running after the listener failed to bind")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	app := &App{
		Store:  memstore.New(),
		Logger: zap.NewNop(),
		Server: &http.Server{Addr: addr},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not shut down after context cancellation")
	}
}
