package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// ArchiveCursorKey is the sync_state stream that records the highest trade
// id already copied to object storage.
const ArchiveCursorKey = "archive:trades"

// multipartThreshold switches uploads to the multipart path.
const multipartThreshold = 16 * 1024 * 1024

// TradeSource pages through committed trades by id.
type TradeSource interface {
	ListAfterID(ctx context.Context, afterID int64, limit int) ([]domain.Trade, error)
}

// ArchiveConfig controls the trade archive layout.
type ArchiveConfig struct {
	// Dir is the logical directory for archive files, e.g. "archive/trades".
	Dir string
	// BatchSize is the maximum number of trades per file.
	BatchSize int
	// Gzip compresses each file and adds a .gz suffix.
	Gzip bool
}

// TradeArchiver copies committed trades to object storage as JSONL files
// named by the id range they hold. Progress is tracked in a sync_state
// cursor so each trade is archived once; rows are never deleted from
// Postgres.
type TradeArchiver struct {
	cfg    ArchiveConfig
	trades TradeSource
	cursor domain.SyncStore
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver.
func NewTradeArchiver(cfg ArchiveConfig, trades TradeSource, cursor domain.SyncStore, writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *TradeArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.Dir == "" {
		cfg.Dir = "archive/trades"
	}
	return &TradeArchiver{
		cfg:    cfg,
		trades: trades,
		cursor: cursor,
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade past the cursor and returns how many
// were archived in this call.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context) (int64, error) {
	var after int64
	wm, err := a.cursor.Get(ctx, ArchiveCursorKey)
	switch {
	case err == nil:
		after = int64(wm.LastBlock)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return 0, fmt.Errorf("s3blob: read archive cursor: %w", err)
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := a.trades.ListAfterID(ctx, after, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		first, last := batch[0].ID, batch[len(batch)-1].ID
		path := archivePath(a.cfg.Dir, first, last, a.cfg.Gzip)

		// A crash between upload and cursor update leaves the file in place.
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, err
		}
		if !exists {
			if err := a.upload(ctx, path, batch); err != nil {
				return total, err
			}
		}

		if err := a.cursor.Advance(ctx, ArchiveCursorKey, uint64(last)); err != nil {
			return total, fmt.Errorf("s3blob: advance archive cursor: %w", err)
		}
		total += int64(len(batch))
		after = last

		a.logger.Info("trades archived",
			slog.String("path", path),
			slog.Int("count", len(batch)),
			slog.Bool("reused", exists),
		)
	}
}

func (a *TradeArchiver) upload(ctx context.Context, path string, trades []domain.Trade) error {
	buf, err := marshalJSONL(trades)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	contentType := "application/x-ndjson"
	if a.cfg.Gzip {
		if buf, err = gzipBytes(buf); err != nil {
			return fmt.Errorf("s3blob: archive trades compress: %w", err)
		}
		contentType = "application/gzip"
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return nil
}

// archivePath names a file by its inclusive trade id range, zero padded so
// that lexical order matches id order:
//
//	archive/trades/000000000001-000000010000.jsonl
func archivePath(dir string, firstID, lastID int64, gz bool) string {
	p := fmt.Sprintf("%s/%012d-%012d.jsonl", dir, firstID, lastID)
	if gz {
		p += ".gz"
	}
	return p
}

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

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ domain.TradeArchiver = (*TradeArchiver)(nil)
