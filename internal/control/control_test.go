package control

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/odacrun/odac/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *config.Store) {
	t.Helper()
	store, err := config.NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	store.Server(func(server *config.ServerModule) {
		server.AuthToken = "test-token"
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store, logger)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))
	return s, store
}

func call(t *testing.T, addr string, req Request) (Response, []Progress) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	reader := bufio.NewReader(conn)
	var progress []Progress
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			var resp Response
			if len(line) > 0 {
				require.NoError(t, json.Unmarshal(line, &resp))
			}
			return resp, progress
		}
		var p Progress
		require.NoError(t, json.Unmarshal(line, &p))
		progress = append(progress, p)
	}
}

func TestServerUnknownAction(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	defer cancel()

	resp, _ := call(t, s.tcpListener.Addr().String(), Request{
		Auth:   "test-token",
		Action: "nonexistent.action",
	})
	require.False(t, resp.Result)
	require.Equal(t, "unknown_action", resp.Message)
}

func TestServerUnauthorized(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	defer cancel()

	resp, _ := call(t, s.tcpListener.Addr().String(), Request{
		Auth:   "wrong-token",
		Action: "server.stop",
	})
	require.False(t, resp.Result)
	require.Equal(t, "unauthorized", resp.Message)
}

func TestServerDispatchesProgressAndResult(t *testing.T) {
	s, _ := newTestServer(t)
	s.Register("echo.progress", func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		progress("stage1", "ok", "first")
		progress("stage2", "ok", "second")
		return "done", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	defer cancel()

	resp, progress := call(t, s.tcpListener.Addr().String(), Request{
		Auth:   "test-token",
		Action: "echo.progress",
	})
	require.True(t, resp.Result)
	require.Equal(t, "done", resp.Message)
	require.Len(t, progress, 2)
	require.Equal(t, "stage1", progress[0].Process)
	require.Equal(t, "stage2", progress[1].Process)
}

func TestAllowedDefaultsToLoopback(t *testing.T) {
	s, _ := newTestServer(t)
	require.True(t, s.allowed("127.0.0.1"))
	require.True(t, s.allowed("::1"))
	require.False(t, s.allowed("203.0.113.5"))
	s.AddAllowed("203.0.113.5")
	require.True(t, s.allowed("203.0.113.5"))
}
