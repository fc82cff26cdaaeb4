package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/wattcode/plant-monitor/internal/db"
	"github.com/wattcode/plant-monitor/internal/db/migrate"
)

//go:embed sql/insert-document.sql
var insertDocumentSQL string

//go:embed sql/count-documents.sql
var countDocumentsSQL string

// SQLite keeps pushed documents in a local table. It stands in for the
// remote store on a bench setup or when the device has no uplink.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

func OpenSQLite(ctx context.Context, path string, logger *slog.Logger, logSQL bool) (*SQLite, error) {
	conn, err := db.Open(path, logger, logSQL)
	if err != nil {
		return nil, err
	}
	if err := migrate.Run(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: conn, logger: logger}, nil
}

func (s *SQLite) Push(ctx context.Context, path string, body []byte) (PushResult, error) {
	name, err := newName()
	if err != nil {
		return PushResult{}, pushError("generate name: %v", err)
	}
	tag := etag(body)
	if _, err := s.db.ExecContext(ctx, insertDocumentSQL, name, path, string(body), tag); err != nil {
		return PushResult{}, pushError("insert: %v", err)
	}
	return PushResult{Path: path, Name: name, ETag: tag}, nil
}

// Count returns the number of documents stored under path.
func (s *SQLite) Count(ctx context.Context, path string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countDocumentsSQL, path).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
