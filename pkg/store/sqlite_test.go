package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	hb := 12.7
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, Record{
		ID:          "scan-1",
		CreatedAt:   created,
		Status:      "complete",
		QualityPass: true,
		Hb:          &hb,
		Stage:       "normal",
		Uncertainty: 0.05,
		Payload:     json.RawMessage(`{"scan_id":"scan-1"}`),
	}))

	got, err := s.Get(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.True(t, got.QualityPass)
	require.NotNil(t, got.Hb)
	assert.Equal(t, 12.7, *got.Hb)
	assert.Equal(t, "normal", got.Stage)
	assert.JSONEq(t, `{"scan_id":"scan-1"}`, string(got.Payload))
}

func TestInconclusiveHasNoHb(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Record{ID: "scan-2", CreatedAt: time.Now(), Status: "inconclusive", Uncertainty: 0.9, Payload: json.RawMessage(`{}`)}))

	got, err := s.Get(ctx, "scan-2")
	require.NoError(t, err)
	assert.Nil(t, got.Hb)
	assert.Empty(t, got.Stage)
}

func TestGetMissing(t *testing.T) {
	_, err := openTemp(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOrder(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, Record{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), Status: "complete", Payload: json.RawMessage(`{}`)}))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
}
