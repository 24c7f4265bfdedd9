package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Prober wraps a pool with a bounded health probe. The health report
// treats the database as down when the probe returns an error.
type Prober struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewProber returns a Prober with a 5 second probe timeout.
func NewProber(pool *pgxpool.Pool) *Prober {
	return &Prober{pool: pool, timeout: 5 * time.Second}
}

// CheckHealth pings the database within the probe timeout.
func (p *Prober) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Stats returns current pool statistics.
func (p *Prober) Stats() *PoolStats {
	return GetPoolStats(p.pool)
}
