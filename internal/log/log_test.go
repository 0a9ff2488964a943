package log_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/diagnostiq/tracker/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrsReachRecords(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.WithJob(t.Context(), "job-42")
	logger.InfoContext(ctx, "poll tick")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "poll tick", line["msg"])
	require.Equal(t, "job-42", line["job"])
}

func TestVerboseEnablesDebug(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	log.New(&buf, false).Debug("hidden")
	require.Zero(t, buf.Len())

	log.New(&buf, true).Debug("visible")
	require.NotZero(t, buf.Len())
}

func TestOutput(t *testing.T) {
	t.Parallel()

	w, closer, err := log.Output("discard")
	require.NoError(t, err)
	require.Nil(t, closer)
	require.Equal(t, io.Discard, w)

	w, closer, err = log.Output("stderr")
	require.NoError(t, err)
	require.Nil(t, closer)
	require.Equal(t, os.Stderr, w)

	path := filepath.Join(t.TempDir(), "tracker.log")
	w, closer, err = log.Output(path)
	require.NoError(t, err)
	require.NotNil(t, closer)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}
