// -----------------------------------------------------------------------
// PostgreSQL + Apache AGE connection management
// -----------------------------------------------------------------------

package age

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
)

// Store is the graph store adapter. It is stateless apart from the pool;
// all application state lives in the database.
type Store struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewStore opens a pooled connection to PostgreSQL and prepares every
// session for AGE use (extension loaded, ag_catalog on the search path).
func NewStore(ctx context.Context, logger arbor.ILogger, config *common.PostgresConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	if config.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = config.ConnectTimeout
	}

	// Every pooled session needs AGE loaded before the first cypher call.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LOAD 'age'"); err != nil {
			return fmt.Errorf("failed to load age extension: %w", err)
		}
		if _, err := conn.Exec(ctx, `SET search_path = ag_catalog, "$user", public`); err != nil {
			return fmt.Errorf("failed to set search path: %w", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if config.EnsureExtension {
		if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS age"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure age extension: %w", err)
		}
	}

	logger.Info().
		Str("graph", config.GraphName).
		Int("max_conns", config.MaxConns).
		Msg("Graph store connected")

	return s, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for the jobs storage that shares it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
