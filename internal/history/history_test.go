package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/webpconv/internal/convert"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := &convert.Report{
		RunID: "run-1", Source: "/in/a.jpg", Destination: "/out/a.webp",
		Winner: "vips", Size: 1234, Hash: "abcd", Started: base, Elapsed: 40 * time.Millisecond,
		Attempts: []convert.Attempt{
			{Converter: "cwebp", Stage: convert.StageProbe, Kind: convert.KindNotOperational,
				Reason: convert.ReasonToolNotInstalled, Err: convert.NotOperational(convert.ReasonToolNotInstalled, "cwebp not found")},
			{Converter: "vips", Stage: convert.StageExecute},
		},
	}
	require.NoError(t, s.Record(ctx, ok, nil))

	failed := &convert.Report{
		RunID: "run-2", Source: "/in/b.jpg", Destination: "/out/b.webp",
		Started: base.Add(time.Minute),
		Attempts: []convert.Attempt{
			{Converter: "cwebp", Stage: convert.StageExecute, Kind: convert.KindExecution,
				Err: convert.CommandFailed("cwebp b.jpg -o b.webp", 255, "bad input", nil)},
		},
	}
	require.NoError(t, s.Record(ctx, failed, &convert.ExhaustedError{Report: failed}))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "run-2", entries[0].RunID)
	assert.Equal(t, "all-converters-exhausted", entries[0].Status)
	assert.Equal(t, 255, entries[0].Attempts[0].ExitCode)
	assert.Contains(t, entries[0].Error, "all 1 converters failed")

	assert.Equal(t, "succeeded", entries[1].Status)
	assert.Equal(t, "vips", entries[1].Converter)
	assert.Equal(t, int64(40), entries[1].ElapsedMS)
	assert.True(t, base.Equal(entries[1].StartedAt))
	require.Len(t, entries[1].Attempts, 2)
	assert.Equal(t, "tool-not-installed", entries[1].Attempts[0].Reason)

	stats, err := s.ConverterStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"vips": 1}, stats)
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	for i, id := range []string{"a", "b", "c"} {
		r := &convert.Report{RunID: id, Source: "s", Destination: "d", Started: time.Unix(int64(i), 0)}
		require.NoError(t, s.Record(ctx, r, &convert.ExhaustedError{Report: r}))
	}
	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].RunID)
}

func TestStatus(t *testing.T) {
	r := &convert.Report{Winner: "cwebp"}
	assert.Equal(t, "succeeded", Status(r, nil))
	assert.Equal(t, "invalid-request", Status(&convert.Report{}, &convert.Failure{Kind: convert.KindInvalidRequest}))
}
