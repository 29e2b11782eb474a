package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/telemetry"
)

const applicationName = "genstudio-auth"

// DSN renders a postgres:// URL for cfg. Credentials are escaped.
func DSN(cfg config.PostgresSettings) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	q.Set("application_name", applicationName)
	u.RawQuery = q.Encode()
	return u.String()
}

// PoolConfig parses cfg into a pgxpool configuration, applying only the
// tuning knobs that are set.
func PoolConfig(cfg config.PostgresSettings) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = min(cfg.MinConns, poolConfig.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	return poolConfig, nil
}

// NewPostgresPool connects the principal and ledger store.
func NewPostgresPool(ctx context.Context, cfg config.PostgresSettings, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return pool, nil
}

// RegisterPoolMetrics exports pgxpool statistics under genstudio_postgres_pool.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	_, err := telemetry.Register(reg, &poolCollector{pool: pool})
	return err
}

var (
	acquiredConnsDesc = poolDesc("acquired_connections", "Connections currently checked out of the pool.")
	idleConnsDesc     = poolDesc("idle_connections", "Idle connections in the pool.")
	totalConnsDesc    = poolDesc("connections", "Connections currently held by the pool.")
	acquireWaitDesc   = poolDesc("empty_acquire_total", "Acquires that had to wait for a connection.")
)

func poolDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(telemetry.Namespace, "postgres_pool", name), help, nil, nil)
}

type poolCollector struct {
	pool *pgxpool.Pool
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- acquiredConnsDesc
	ch <- idleConnsDesc
	ch <- totalConnsDesc
	ch <- acquireWaitDesc
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := p.pool.Stat()
	ch <- prometheus.MustNewConstMetric(acquiredConnsDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(idleConnsDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(totalConnsDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(acquireWaitDesc, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}
