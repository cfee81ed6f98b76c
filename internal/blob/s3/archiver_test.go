package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/store/memory"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart int
	lists     int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.lists++
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

type snapshotList []domain.SettlementSnapshot

func (s snapshotList) Snapshots(_ context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error) {
	var out []domain.SettlementSnapshot
	for _, snap := range s {
		if opts.Until == nil || snap.SettledAt.Before(*opts.Until) {
			out = append(out, snap)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type failingLedger struct{}

func (failingLedger) Ledger(context.Context, domain.ListOpts) ([]domain.LedgerEntry, error) {
	return nil, errors.New("db down")
}

func lines(t *testing.T, b []byte) []domain.SettlementSnapshot {
	t.Helper()
	var out []domain.SettlementSnapshot
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var s domain.SettlementSnapshot
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		out = append(out, s)
	}
	return out
}

func TestArchiveSnapshots_CompleteMonthsOnce(t *testing.T) {
	at := func(month time.Month, day int) time.Time { return time.Date(2026, month, day, 12, 0, 0, 0, time.UTC) }
	src := snapshotList{
		{PostID: "a", Currency: "base", SettledAt: at(time.April, 3)},
		{PostID: "b", Currency: "base", SettledAt: at(time.April, 28)},
		{PostID: "c", Currency: "base", SettledAt: at(time.May, 2)},
		{PostID: "d", Currency: "base", SettledAt: at(time.June, 1)},
	}
	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewArchiver(blobs, blobs, src, failingLedger{}, audit, nil)

	n, err := a.ArchiveSnapshots(t.Context(), at(time.June, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, blobs.objects, 2)

	april := lines(t, blobs.objects["archive/snapshots/2026-04.jsonl"])
	require.Len(t, april, 2)
	assert.Equal(t, "a", april[0].PostID)
	assert.Len(t, lines(t, blobs.objects["archive/snapshots/2026-05.jsonl"]), 1)
	assert.NotContains(t, blobs.objects, "archive/snapshots/2026-06.jsonl", "the running month is not exported")

	// A second run finds every complete month already exported.
	n, err = a.ArchiveSnapshots(t.Context(), at(time.June, 20))
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := audit.List(t.Context(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.snapshots", entries[0].Event)
}

func TestArchiveSnapshots_KeepsExportedMonths(t *testing.T) {
	at := func(month time.Month) time.Time { return time.Date(2026, month, 5, 0, 0, 0, 0, time.UTC) }
	src := snapshotList{
		{PostID: "a", Currency: "base", SettledAt: at(time.February)},
		{PostID: "b", Currency: "base", SettledAt: at(time.March)},
	}
	blobs := newMemBlobs()
	blobs.objects["archive/snapshots/2026-02.jsonl"] = []byte("earlier\n")
	blobs.objects["archive/ledger/2026-03.jsonl"] = []byte("other kind\n")
	a := NewArchiver(blobs, blobs, src, failingLedger{}, nil, nil)

	n, err := a.ArchiveSnapshots(t.Context(), at(time.April))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, blobs.lists, "one listing per run")
	assert.Equal(t, []byte("earlier\n"), blobs.objects["archive/snapshots/2026-02.jsonl"])
	assert.Len(t, lines(t, blobs.objects["archive/snapshots/2026-03.jsonl"]), 1)
}

func TestArchiveSnapshots_Pages(t *testing.T) {
	var src snapshotList
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range pageSize + 5 {
		src = append(src, domain.SettlementSnapshot{PostID: "p", Currency: "base", SettledAt: base.Add(time.Duration(i) * time.Minute)})
	}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, src, failingLedger{}, nil, nil)

	n, err := a.ArchiveSnapshots(t.Context(), base.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(pageSize+5), n)
	assert.Len(t, lines(t, blobs.objects["archive/snapshots/2026-01.jsonl"]), pageSize+5)
	assert.Zero(t, blobs.multipart)
}

func TestArchiveLedger_QueryError(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, snapshotList{}, failingLedger{}, nil, nil)
	_, err := a.ArchiveLedger(t.Context(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive ledger query")
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com", false))
}
