package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite" // pure Go sqlite driver (no CGO required)

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

var _ protocol.BlockCursorStore = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db   *sql.DB
	lggr logger.Logger
}

func NewSQLiteStore(dbPath string, lggr logger.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := RunSQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		lggr: logger.With(lggr, "component", "SQLiteCursorStore"),
	}
	store.lggr.Infow("SQLite cursor store initialized", "dbPath", dbPath)
	return store, nil
}

func (s *SQLiteStore) WriteCursor(ctx context.Context, chainID, blockNumber uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_cursors (chain_id, block_number)
		VALUES (?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			block_number = excluded.block_number,
			updated_at = strftime('%s', 'now')
	`, strconv.FormatUint(chainID, 10), strconv.FormatUint(blockNumber, 10))
	if err != nil {
		return fmt.Errorf("failed to upsert cursor for chain %d: %w", chainID, err)
	}
	return nil
}

func (s *SQLiteStore) ReadCursor(ctx context.Context, chainID uint64) (uint64, error) {
	var blockStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT block_number FROM block_cursors WHERE chain_id = ?`,
		strconv.FormatUint(chainID, 10),
	).Scan(&blockStr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, protocol.ErrCursorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cursor for chain %d: %w", chainID, err)
	}

	block, err := strconv.ParseUint(blockStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number %s: %w", blockStr, err)
	}
	return block, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
