package audit

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := testLog(t)

	require.NoError(t, l.Record("web", "example.com", "create", "created website"))
	require.NoError(t, l.Record("service", "redis", "start", ""))

	events, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "service", events[0].Module)
	require.Equal(t, "web", events[1].Module)
}

func TestRecentRespectsLimit(t *testing.T) {
	l := testLog(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record("web", "example.com", "check", ""))
	}

	events, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestForSubjectFiltersByModuleAndSubject(t *testing.T) {
	l := testLog(t)

	require.NoError(t, l.Record("web", "example.com", "create", ""))
	require.NoError(t, l.Record("web", "other.com", "create", ""))
	require.NoError(t, l.Record("service", "example.com", "install", ""))

	events, err := l.ForSubject("web", "example.com", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "create", events[0].Action)
}
