package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(payload string, ids ...string) Batch {
	b := Batch{
		LicenseKey: "key-1",
		Version:    "bel.7",
		Payload:    payload,
		ReceivedAt: time.UnixMilli(1_700_000_000_000),
	}
	for i, id := range ids {
		b.Records = append(b.Records, Record{
			InteractionID: id,
			Trigger:       "click",
			Category:      "Route change",
			Start:         int64(i * 10),
			Duration:      5,
			Body:          "1,0," + id,
		})
	}
	return b
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestWriteBatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.WriteBatch(ctx, testBatch("bel.7;a;b", "ixn-1", "ixn-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	batches, err := s.ReadBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, BatchSummary{
		ID:          1,
		LicenseKey:  "key-1",
		Version:     "bel.7",
		RecordCount: 2,
		ReceivedAt:  time.UnixMilli(1_700_000_000_000).UTC(),
	}, batches[0])

	records, err := s.ReadRecords(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ixn-1", records[0].InteractionID)
	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, "ixn-2", records[1].InteractionID)
	assert.Equal(t, int64(10), records[1].Start)
	assert.Equal(t, id, records[1].BatchID)

	payload, err := s.ReadPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bel.7;a;b", payload)
}

func TestWriteBatch_DuplicatePayloadIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.WriteBatch(ctx, testBatch("bel.7;a", "ixn-1"))
	require.NoError(t, err)
	second, err := s.WriteBatch(ctx, testBatch("bel.7;a", "ixn-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := s.CountBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := s.ReadInteraction(ctx, "ixn-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReadInteraction_AcrossBatches(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, testBatch("bel.7;a", "ixn-1"))
	require.NoError(t, err)
	_, err = s.WriteBatch(ctx, testBatch("bel.7;a;b", "ixn-1", "ixn-2"))
	require.NoError(t, err)

	records, err := s.ReadInteraction(ctx, "ixn-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].BatchID)
	assert.Equal(t, int64(2), records[1].BatchID)
}

func TestReadBatches_LimitAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"bel.7;1", "bel.7;2", "bel.7;3"} {
		_, err := s.WriteBatch(ctx, testBatch(p))
		require.NoError(t, err)
	}

	batches, err := s.ReadBatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, int64(1), batches[0].ID)
	assert.Equal(t, int64(2), batches[1].ID)
}

func TestRead_Empty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	batches, err := s.ReadBatches(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, batches)
	assert.Empty(t, batches)

	records, err := s.ReadRecords(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, records)

	_, err = s.ReadPayload(ctx, 42)
	assert.Error(t, err)
}
