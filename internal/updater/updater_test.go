package updater

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripUpdateEnv(t *testing.T) {
	in := []string{
		"PATH=/usr/bin",
		"ODAC_UPDATE_MODE=true",
		"ODAC_INSTANCE_ID=abc",
		"ODAC_PREVIOUS_INSTANCE_ID=def",
		"ODAC_UPDATE_SOCKET_PATH=/tmp/update.sock",
		"ODAC_CHANNEL=stable",
	}
	out := stripUpdateEnv(in)
	require.Equal(t, []string{"PATH=/usr/bin", "ODAC_CHANNEL=stable"}, out)
}

func TestHasEnvKey(t *testing.T) {
	require.True(t, hasEnvKey("ODAC_CHANNEL=stable", "ODAC_CHANNEL"))
	require.False(t, hasEnvKey("ODAC_CHANNELS=stable", "ODAC_CHANNEL"))
	require.False(t, hasEnvKey("ODAC_CHANNEL", "ODAC_CHANNEL"))
}

func TestHandshakeConnRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := newHandshakeConn(serverConn)
	client := newHandshakeConn(clientConn)

	done := make(chan error, 1)
	go func() {
		done <- client.send(lineHandshakeReady)
	}()

	require.NoError(t, server.expect(lineHandshakeReady))
	require.NoError(t, <-done)
}

func TestHandshakeConnUnexpectedLine(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := newHandshakeConn(serverConn)
	client := newHandshakeConn(clientConn)

	go func() { _ = client.send(lineHandshakeAck) }()

	err := server.expect(lineHandshakeReady)
	require.Error(t, err)
}
