package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cocina-api/internal/config"
)

// NewPool construye y devuelve un pool de conexiones dimensionado según
// la configuración.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func poolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 {
		poolCfg.MinConns = int32(cfg.DBMinConns)
	}
	if cfg.DBMaxConnLifetimeMin > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.DBMaxConnLifetimeMin) * time.Minute
	}
	if cfg.DBMaxConnIdleMin > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.DBMaxConnIdleMin) * time.Minute
	}
	if cfg.DBConnectTimeoutSeconds > 0 {
		poolCfg.ConnConfig.ConnectTimeout = time.Duration(cfg.DBConnectTimeoutSeconds) * time.Second
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	return poolCfg, nil
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}
