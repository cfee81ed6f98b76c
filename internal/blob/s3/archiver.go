package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// pageSize bounds each history query.
	pageSize = 1000
)

// SnapshotSource lists settlement snapshots by settlement time.
type SnapshotSource interface {
	Snapshots(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error)
}

// LedgerSource lists vault ledger entries by creation time.
type LedgerSource interface {
	Ledger(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// Archiver copies settled history into month-partitioned JSONL objects:
//
//	archive/snapshots/2026-05.jsonl
//	archive/ledger/2026-05.jsonl
//
// Only calendar months that ended before the cutoff are written, and a month
// whose object already exists is skipped, so each file is written once and
// never changes. One listing per kind finds the exported months. Records are not removed from the primary store.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots SnapshotSource
	ledger    LedgerSource
	audit     domain.AuditStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	snapshots SnapshotSource,
	ledger LedgerSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		ledger:    ledger,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots exports settlement snapshots from complete months before
// the cutoff and returns the number of records written.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, "snapshots", before,
		func(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error) {
			return a.snapshots.Snapshots(ctx, opts)
		},
		func(s domain.SettlementSnapshot) time.Time { return s.SettledAt },
	)
}

// ArchiveLedger exports ledger entries from complete months before the
// cutoff and returns the number of records written.
func (a *Archiver) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, "ledger", before,
		func(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
			return a.ledger.Ledger(ctx, opts)
		},
		func(e domain.LedgerEntry) time.Time { return e.CreatedAt },
	)
}

func archiveKind[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(context.Context, domain.ListOpts) ([]T, error),
	stamp func(T) time.Time,
) (int64, error) {
	until := monthStart(before)
	months := make(map[string][]T)

	for offset := 0; ; offset += pageSize {
		page, err := list(ctx, domain.ListOpts{Until: &until, Limit: pageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		for _, rec := range page {
			month := stamp(rec).UTC().Format("2006-01")
			months[month] = append(months[month], rec)
		}
		if len(page) < pageSize {
			break
		}
	}

	if len(months) == 0 {
		return 0, nil
	}
	objects, err := a.reader.List(ctx, archivePath(kind, ""))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	exported := make(map[string]bool, len(objects))
	for _, obj := range objects {
		exported[obj.Path] = true
	}
	var written int64
	for _, month := range slices.Sorted(maps.Keys(months)) {
		path := archivePath(kind, month) + ".jsonl"
		if exported[path] {
			continue
		}

		records := months[month]
		buf, err := marshalJSONL(records)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.upload(ctx, path, buf); err != nil {
			return written, err
		}
		written += int64(len(records))

		a.logger.InfoContext(ctx, "archiver: month exported",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.Int("count", len(records)),
		)
		if a.audit != nil {
			err := a.audit.Log(ctx, "archive."+kind, map[string]any{
				"path":  path,
				"count": len(records),
				"month": month,
			})
			if err != nil {
				return written, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
			}
		}
	}
	return written, nil
}

// upload switches to a multipart upload once the payload is large enough to
// need more than one part.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// archivePath is the object prefix for kind, or its month file stem.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s", kind, month)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
