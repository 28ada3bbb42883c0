package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/sqlutil"
)

var _ protocol.BlockCursorStore = (*PostgresStore)(nil)

type PostgresStore struct {
	ds   sqlutil.DataSource
	lggr logger.Logger
}

func NewPostgresStore(ds sqlutil.DataSource, lggr logger.Logger) *PostgresStore {
	return &PostgresStore{
		ds:   ds,
		lggr: logger.With(lggr, "component", "PostgresCursorStore"),
	}
}

func (s *PostgresStore) WriteCursor(ctx context.Context, chainID, blockNumber uint64) error {
	if blockNumber > 1<<63-1 {
		return fmt.Errorf("block number %d out of range", blockNumber)
	}
	stmt := `INSERT INTO monitor_block_cursors (chain_id, block_number)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			updated_at = NOW()`
	if _, err := s.ds.ExecContext(ctx, stmt, strconv.FormatUint(chainID, 10), int64(blockNumber)); err != nil {
		return fmt.Errorf("failed to upsert cursor for chain %d: %w", chainID, err)
	}
	return nil
}

func (s *PostgresStore) ReadCursor(ctx context.Context, chainID uint64) (uint64, error) {
	var block int64
	err := s.ds.GetContext(ctx, &block,
		`SELECT block_number FROM monitor_block_cursors WHERE chain_id = $1`,
		strconv.FormatUint(chainID, 10))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, protocol.ErrCursorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cursor for chain %d: %w", chainID, err)
	}
	return uint64(block), nil
}
