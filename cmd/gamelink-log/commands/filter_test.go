package commands

import (
	"errors"
	"flag"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamelink-protocol/gamelink-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	r, err := log.NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var events []log.Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func TestFilterByConnectionID(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.glog")

	n, err := RunFilter(path, out, FilterOptions{ConnID: "abc12345-0000"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := readAll(t, out)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "abc12345-0000", e.ConnectionID)
	}
}

func TestFilterByDirectionAndCategory(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.glog")

	n, err := RunFilter(path, out, FilterOptions{Direction: "in", Category: "data"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, log.LayerMulticast, readAll(t, out)[0].Layer)
}

func TestFilterByTimeAndRemote(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.glog")

	n, err := RunFilter(path, out, FilterOptions{
		TimeStart:  "2026-01-28T10:15:00Z",
		TimeEnd:    "2026-01-28T10:16:00Z",
		RemoteAddr: "10.0.0.5:8443",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out2 := filepath.Join(t.TempDir(), "none.glog")
	n, err = RunFilter(path, out2, FilterOptions{TimeStart: "2027-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.glog")

	for _, opts := range []FilterOptions{
		{TimeStart: "yesterday"},
		{TimeEnd: "tomorrow"},
		{Layer: "service"},
		{Direction: "up"},
		{Category: "control"},
		{Entity: "zone"},
	} {
		_, err := RunFilter(path, out, opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestFilterOptionsRegister(t *testing.T) {
	var opts FilterOptions
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.Register(fs)

	require.NoError(t, fs.Parse([]string{"-conn-id", "x", "-layer", "stream", "-direction", "out"}))
	assert.Equal(t, "x", opts.ConnID)
	assert.Equal(t, "stream", opts.Layer)

	filter, err := opts.Build()
	require.NoError(t, err)
	require.NotNil(t, filter.Layer)
	assert.Equal(t, log.LayerStream, *filter.Layer)
	require.NotNil(t, filter.Direction)
	assert.Equal(t, log.DirectionOut, *filter.Direction)
	assert.Nil(t, filter.Category)
}

func groupEvents() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: "sock-1", Layer: log.LayerDatagram, Category: log.CategoryState,
			Group:       "239.1.2.3",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityGroup, OldState: "LEFT", NewState: "JOINED"},
		},
		{
			Timestamp: ts.Add(time.Second), ConnectionID: "sock-1", Layer: log.LayerMulticast, Category: log.CategoryState,
			RemoteAddr: "239.1.2.3:5000", Group: "239.1.2.3",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityListener, OldState: "CONNECTING", NewState: "CONNECTED"},
		},
		{
			Timestamp: ts.Add(2 * time.Second), ConnectionID: "sock-1", Layer: log.LayerDatagram, Category: log.CategoryData,
			RemoteAddr: "10.0.0.9:40000", Group: "239.1.2.3", Direction: log.DirectionIn,
			Payload: log.NewPayloadEvent([]byte("draw")),
		},
		{
			Timestamp: ts.Add(3 * time.Second), ConnectionID: "sock-2", Layer: log.LayerDatagram, Category: log.CategoryData,
			RemoteAddr: "10.0.0.9:40001", Group: "239.9.9.9", Direction: log.DirectionIn,
			Payload: log.NewPayloadEvent([]byte("other")),
		},
	}
}

func TestFilterByGroupAndEntity(t *testing.T) {
	path := createTestLogFile(t, groupEvents())
	dir := t.TempDir()

	n, err := RunFilter(path, filepath.Join(dir, "group.glog"), FilterOptions{Group: "239.1.2.3:5000"})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "port is ignored when matching a group")

	out := filepath.Join(dir, "listener.glog")
	n, err = RunFilter(path, out, FilterOptions{Entity: "listener"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "CONNECTED", readAll(t, out)[0].StateChange.NewState)

	n, err = RunFilter(path, filepath.Join(dir, "host.glog"), FilterOptions{RemoteAddr: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "bare host matches any port")
}
