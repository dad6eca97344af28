package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestServeControlAPI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		addr        string
		wantStarted bool
	}{
		{name: "empty addr disables", addr: "", wantStarted: false},
		{name: "loopback", addr: "127.0.0.1:0", wantStarted: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(context.Background())
			g, gctx := errgroup.WithContext(ctx)

			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
			started := serveControlAPI(gctx, g, tc.addr, handler)
			assert.Equal(t, tc.wantStarted, started)

			cancel()
			done := make(chan error, 1)
			go func() { done <- g.Wait() }()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("control API did not shut down")
			}
		})
	}
}
