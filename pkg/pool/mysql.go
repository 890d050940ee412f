package pool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/util"
)

// Store is the persistence surface the write pipeline and the fill-loop
// depend on. The MySQL implementation below is the production one; tests
// substitute an in-memory fake.
type Store interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, rows []Row) error
	CountShard(ctx context.Context, shard int) (int64, error)
	Count(ctx context.Context) (int64, error)
	Evict(ctx context.Context, shard, n int) (int64, error)
	Close() error
}

// upsertChunk caps the rows per multi-row INSERT so a large flush does not
// exceed the server's packet limit.
const upsertChunk = 200

// MySQL is the device-pool table backed by database/sql.
type MySQL struct {
	db    *sql.DB
	table string
}

var _ Store = (*MySQL)(nil)

// Open connects to MySQL using the configured DSN and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DB) (*MySQL, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	m := &MySQL{db: db, table: cfg.Table}
	if m.table == "" {
		m.table = config.DefaultDeviceTable
	}
	if err := m.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	util.WithFields(map[string]interface{}{
		"host":  cfg.Host,
		"db":    cfg.Name,
		"table": m.table,
	}).Info("connected to device pool database")
	return m, nil
}

// Ping checks the connection.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// EnsureSchema creates the device pool table when it does not exist.
func (m *MySQL) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, schemaSQL(m.table))
	if err != nil {
		return fmt.Errorf("ensuring schema for %s: %w", m.table, err)
	}
	return nil
}

// Upsert inserts rows, replacing device_json for device ids already present.
// Rows are written in chunks; a failed chunk fails the whole call so the
// pipeline retries the batch.
func (m *MySQL) Upsert(ctx context.Context, rows []Row) error {
	for len(rows) > 0 {
		n := len(rows)
		if n > upsertChunk {
			n = upsertChunk
		}
		if err := m.upsertChunk(ctx, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func (m *MySQL) upsertChunk(ctx context.Context, rows []Row) error {
	args := make([]interface{}, 0, len(rows)*3)
	for _, r := range rows {
		args = append(args, r.ShardID, r.DeviceID, string(r.JSON))
	}
	_, err := m.db.ExecContext(ctx, upsertSQL(m.table, len(rows)), args...)
	if err != nil {
		return fmt.Errorf("upserting %d rows into %s: %w", len(rows), m.table, err)
	}
	return nil
}

// CountShard returns the number of devices currently stored on a shard.
func (m *MySQL) CountShard(ctx context.Context, shard int) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE shard_id = ?", m.table)
	if err := m.db.QueryRowContext(ctx, q, shard).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting shard %d: %w", shard, err)
	}
	return n, nil
}

// Count returns the total number of devices in the pool.
func (m *MySQL) Count(ctx context.Context) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", m.table)
	if err := m.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pool: %w", err)
	}
	return n, nil
}

// Evict deletes up to n of the most-used devices from a shard and returns
// how many rows went away.
func (m *MySQL) Evict(ctx context.Context, shard, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	q := fmt.Sprintf("DELETE FROM `%s` WHERE shard_id = ? ORDER BY use_count DESC, updated_at ASC LIMIT %d", m.table, n)
	res, err := m.db.ExecContext(ctx, q, shard)
	if err != nil {
		return 0, fmt.Errorf("evicting from shard %d: %w", shard, err)
	}
	return res.RowsAffected()
}

// Close releases the connection pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

func upsertSQL(table string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO `%s` (shard_id, device_id, device_json) VALUES ", table)
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE device_json = VALUES(device_json), updated_at = CURRENT_TIMESTAMP")
	return b.String()
}

func schemaSQL(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT, "+
		"shard_id INT NOT NULL, "+
		"device_id VARCHAR(128) NOT NULL, "+
		"device_json MEDIUMTEXT NOT NULL, "+
		"use_count INT NOT NULL DEFAULT 0, "+
		"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, "+
		"updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP, "+
		"PRIMARY KEY (id), "+
		"UNIQUE KEY uq_device_id (device_id), "+
		"KEY idx_shard (shard_id)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", table)
}
