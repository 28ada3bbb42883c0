package cursor

import (
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	// Import postgres driver for database/sql.
	_ "github.com/lib/pq"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config selects and configures the cursor backend.
type Config struct {
	Type string `toml:"Type"`
	// Path is the SQLite database file.
	Path string `toml:"Path"`
	// URL is the Postgres connection string.
	URL string `toml:"URL"`
}

// Store is a BlockCursorStore owning resources that must be released.
type Store interface {
	protocol.BlockCursorStore
	io.Closer
}

type postgresCloser struct {
	*PostgresStore
	db *sqlx.DB
}

func (p postgresCloser) Close() error {
	return p.db.Close()
}

// Open creates the backend described by cfg.
func Open(cfg Config, lggr logger.Logger) (Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewInMemoryStore(), nil
	case TypeSQLite:
		return NewSQLiteStore(cfg.Path, lggr)
	case TypePostgres:
		db, err := sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping postgres database: %w", err)
		}
		if err := RunPostgresMigrations(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgresCloser{PostgresStore: NewPostgresStore(db, lggr), db: db}, nil
	default:
		return nil, fmt.Errorf("unknown cursor store type %q", cfg.Type)
	}
}
