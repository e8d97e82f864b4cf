package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/config"
)

// DefaultConnectTimeout bounds dialing and the initial ping
const DefaultConnectTimeout = 10 * time.Second

// Connect opens the single connection the sync uses for its whole run and
// checks it is alive. The caller owns the connection and must Close it.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgx.Conn, error) {
	connCfg, err := pgx.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse connection config for %s@%s:%d/%s",
			cfg.User, cfg.Host, cfg.Port, cfg.DBName)
	}
	if connCfg.ConnectTimeout == 0 {
		connCfg.ConnectTimeout = DefaultConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, connCfg.ConnectTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close(context.Background())
		return nil, errors.Wrapf(err, "failed to ping %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	}

	return conn, nil
}
