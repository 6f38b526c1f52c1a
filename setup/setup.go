// Setup helps initialize applications.
package setup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/db"
	"github.com/arkstead/keepsake/models/events"
	"github.com/arkstead/keepsake/models/exports"
	"github.com/arkstead/keepsake/models/jobs"
)

var mu sync.Mutex

var activeQueriesStmt *sql.Stmt
var statusCountsStmt *sql.Stmt

func prepare() (err error) {
	if !db.Connected() {
		return errors.New("setup: no DB connection was established, can't query")
	}

	activeQueriesStmt, err = db.Conn.Prepare(`-- setup.GetActiveQueries
SELECT count(*) FROM pg_stat_activity
WHERE state='active'
	`)
	if err != nil {
		return err
	}

	statusCountsStmt, err = db.Conn.Prepare(`-- setup.GetJobCountsByStatus
SELECT status, count(*) FROM deposit_jobs GROUP BY status
	`)
	return
}

// DB connects to Postgres using cfg.DatabaseURL, stores the shared
// connection, and prepares queries on all models.
func DB(cfg config.Config) error {
	mu.Lock()
	defer mu.Unlock()
	if db.Connected() {
		if err := db.Conn.Ping(); err == nil {
			// Already connected.
			return nil
		}
	}
	conn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "setup: could not establish a database connection")
	}
	conn.SetMaxOpenConns(cfg.DBPoolSize)
	if cfg.DBPoolSize > 100 {
		conn.SetMaxIdleConns(cfg.DBPoolSize - 20)
	} else if cfg.DBPoolSize > 50 {
		conn.SetMaxIdleConns(cfg.DBPoolSize - 10)
	} else if cfg.DBPoolSize > 10 {
		conn.SetMaxIdleConns(cfg.DBPoolSize - 3)
	} else if cfg.DBPoolSize > 5 {
		conn.SetMaxIdleConns(cfg.DBPoolSize - 2)
	}
	if err := conn.Ping(); err != nil {
		return errors.Wrap(err, "setup: could not establish a database connection")
	}
	db.SetConn(conn)
	return PrepareAll()
}

// Migrate applies any pending schema migrations from cfg.MigrationsDir.
func Migrate(cfg config.Config) error {
	if !db.Connected() {
		return errors.New("setup: no DB connection was established, can't migrate")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db.Conn, cfg.MigrationsDir)
}

func PrepareAll() error {
	if err := jobs.Setup(); err != nil {
		return err
	}
	if err := events.Setup(); err != nil {
		return err
	}
	if err := exports.Setup(); err != nil {
		return err
	}
	return prepare()
}

func GetActiveQueries() (count int64, err error) {
	err = activeQueriesStmt.QueryRow().Scan(&count)
	return
}

// GetJobCountsByStatus returns the number of deposit job rows per status.
func GetJobCountsByStatus() (map[models.JobStatus]int64, error) {
	rows, err := statusCountsStmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	m := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status models.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m[status] = count
	}
	return m, rows.Err()
}

// DepthReporter reports how many messages are waiting on a queue.
type DepthReporter interface {
	Depth(ctx context.Context, kind models.JobKind) (int64, error)
}

// MeasureActiveQueries samples the number of active Postgres queries on
// every tick until ctx is canceled.
func MeasureActiveQueries(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			count, err := GetActiveQueries()
			if err == nil {
				go metrics.Measure("active_queries.count", count)
			} else {
				logger.Warn("could not count active queries", zap.Error(err))
				go metrics.Increment("active_queries.error")
			}
		}
	}
}

// MeasureJobStatusCounts samples the number of job rows in each status on
// every tick until ctx is canceled.
func MeasureJobStatusCounts(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m, err := GetJobCountsByStatus()
			if err != nil {
				logger.Warn("could not count jobs by status", zap.Error(err))
				go metrics.Increment("deposit_jobs.counts.error")
				continue
			}
			for status, count := range m {
				go metrics.Measure(fmt.Sprintf("deposit_jobs.%s.count", status), count)
			}
		}
	}
}

// MeasureQueueDepth samples the waiting message count for every job kind on
// every tick until ctx is canceled.
func MeasureQueueDepth(ctx context.Context, q DepthReporter, interval time.Duration, logger *zap.Logger) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, kind := range models.Kinds {
				depth, err := q.Depth(ctx, kind)
				if err != nil {
					logger.Warn("could not measure queue depth",
						zap.String("kind", string(kind)), zap.Error(err))
					go metrics.Increment("queue_depth.error")
					continue
				}
				go metrics.Measure(fmt.Sprintf("queue_depth.%s", kind), depth)
			}
		}
	}
}
