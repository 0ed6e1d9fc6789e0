// Package ch wraps clickhouse-go for batched inserts into the events table
package ch

import (
	"context"
	"errors"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config configures the native clickhouse connection
type Config struct {
	URL         string
	Database    string
	DialTimeout time.Duration
	ClientInfo  clickhouse.ClientInfo
	Debug       bool
	Debugf      func(format string, v ...any)
}

// CH is a thin client over a clickhouse driver.Conn
type CH struct {
	conn driver.Conn
}

var openConn = clickhouse.Open

// Open parses the DSN and opens a pooled native connection
// clickhouse-go dials lazily, so reachability is reported by Ping
func Open(_ context.Context, cfg Config) (*CH, error) {
	if cfg.URL == "" {
		return nil, errors.New("ch: empty url")
	}
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if len(cfg.ClientInfo.Products) > 0 {
		opts.ClientInfo = cfg.ClientInfo
	}
	opts.Debug = cfg.Debug
	if cfg.Debugf != nil {
		opts.Debugf = cfg.Debugf
	}

	conn, err := openConn(opts)
	if err != nil {
		return nil, err
	}
	return &CH{conn: conn}, nil
}

// PrepareBatch starts an INSERT batch; query is "INSERT INTO db.table"
func (c *CH) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("ch: nil client")
	}
	return c.conn.PrepareBatch(ctx, query)
}

// Exec runs a statement that returns no rows
func (c *CH) Exec(ctx context.Context, query string, args ...any) error {
	if c == nil || c.conn == nil {
		return errors.New("ch: nil client")
	}
	return c.conn.Exec(ctx, query, args...)
}

// Query runs a select
func (c *CH) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("ch: nil client")
	}
	return c.conn.Query(ctx, query, args...)
}

// Ping checks the server round trip
func (c *CH) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errors.New("ch: nil client")
	}
	return c.conn.Ping(ctx)
}

// Close releases the pool; safe on nil
func (c *CH) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
