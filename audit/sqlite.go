// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gatehouse-project/gatehouse/lib/codec"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT    NOT NULL UNIQUE,
	timestamp INTEGER NOT NULL,
	session   TEXT    NOT NULL,
	operation TEXT    NOT NULL,
	category  TEXT    NOT NULL DEFAULT '',
	score     REAL    NOT NULL DEFAULT 0,
	action    TEXT    NOT NULL,
	requester TEXT    NOT NULL DEFAULT '',
	detail    BLOB
);

CREATE INDEX IF NOT EXISTS audit_records_session
	ON audit_records (session, seq);
`

// StoreConfig holds the parameters for opening the SQLite audit store.
type StoreConfig struct {
	// Path is the database file. The parent directory must exist; the
	// file is created on first open.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	// Audit writes serialize in SQLite anyway; extra connections only
	// help concurrent session queries.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store is a persistent audit sink backed by SQLite. Within a session
// the autoincrement sequence preserves decision order; queries return
// records in that order.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenStore opens (creating if needed) the audit database and applies
// the schema.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: store path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", cfg.Path, err)
	}

	store := &Store{pool: pool, logger: logger, path: cfg.Path}
	if err := store.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("audit store opened", "path", cfg.Path, "pool_size", poolSize)
	return store, nil
}

// prepareConnection applies the standard pragmas to each pooled
// connection: WAL for concurrent readers, NORMAL sync (the audit trail
// tolerates losing the final transaction on power loss, not
// corruption), a busy timeout so writers queue instead of failing.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit: take: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("audit: creating schema: %w", err)
	}
	return nil
}

// Emit persists one record. Detail is stored as deterministic CBOR so
// identical records produce identical rows.
func (s *Store) Emit(ctx context.Context, record Record) error {
	var detail []byte
	if len(record.Detail) > 0 {
		encoded, err := codec.Marshal(record.Detail)
		if err != nil {
			return fmt.Errorf("audit: encoding detail: %w", err)
		}
		detail = encoded
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO audit_records
			(id, timestamp, session, operation, category, score, action, requester, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID,
				record.Timestamp.UnixMicro(),
				record.Session,
				record.Operation,
				record.Category,
				record.Score,
				string(record.Action),
				record.Requester,
				detail,
			},
		})
	if err != nil {
		return fmt.Errorf("audit: inserting record %s: %w", record.ID, err)
	}
	return nil
}

// BySession returns the session's records in decision order.
func (s *Store) BySession(ctx context.Context, session string) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: take: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT id, timestamp, session, operation, category, score, action, requester, detail
			FROM audit_records WHERE session = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{session},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: querying session %s: %w", session, err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		ID:        stmt.ColumnText(0),
		Timestamp: time.UnixMicro(stmt.ColumnInt64(1)).UTC(),
		Session:   stmt.ColumnText(2),
		Operation: stmt.ColumnText(3),
		Category:  stmt.ColumnText(4),
		Score:     stmt.ColumnFloat(5),
		Action:    Action(stmt.ColumnText(6)),
		Requester: stmt.ColumnText(7),
	}
	if stmt.ColumnLen(8) > 0 {
		detail := make([]byte, stmt.ColumnLen(8))
		stmt.ColumnBytes(8, detail)
		if err := codec.Unmarshal(detail, &record.Detail); err != nil {
			return Record{}, fmt.Errorf("audit: decoding detail for %s: %w", record.ID, err)
		}
	}
	return record, nil
}

// Close closes the connection pool, blocking until borrowed
// connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("audit: closing %s: %w", s.path, err)
	}
	s.logger.Info("audit store closed", "path", s.path)
	return nil
}
