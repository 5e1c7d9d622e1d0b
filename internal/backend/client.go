package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Client is the MySQL-backed implementation of Store. One Client wraps one
// backend (primary or cloud).
type Client struct {
	DB           *sql.DB
	Config       config.BackendConnection
	registry     *Registry
	probeTimeout time.Duration
}

func NewClient(cfg config.BackendConnection, registry *Registry, probeTimeout time.Duration) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend connection: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	logger.Log.Info("Backend client created",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Bool("local", cfg.Local),
	)

	return &Client{
		DB:           db,
		Config:       cfg,
		registry:     registry,
		probeTimeout: probeTimeout,
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Reachable pings the backend with a short timeout. The connection is not
// established eagerly, so this is also the startup liveness check.
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.DB.PingContext(ctx) == nil
}

func (c *Client) Select(ctx context.Context, table string, since *time.Time) ([]Row, error) {
	spec, ok := c.registry.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	query := fmt.Sprintf("SELECT * FROM `%s`", spec.Name)
	var args []any
	if since != nil {
		query += fmt.Sprintf(" WHERE `%s` >= ?", spec.TimestampColumn)
		args = append(args, since.UTC())
	}

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", spec.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", spec.Name, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select %s: %w", spec.Name, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *Client) Insert(ctx context.Context, table string, row Row) error {
	spec, ok := c.registry.Lookup(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if err := spec.Validate(row); err != nil {
		return err
	}

	cols := sortedColumns(row)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		spec.Name, backquoted(cols), placeholders)

	_, err := c.DB.ExecContext(ctx, query, columnValues(row, cols)...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", spec.Name, err)
	}
	return nil
}

// Upsert writes rows inside one transaction using
// INSERT ... ON DUPLICATE KEY UPDATE, so repeated syncs of the same ids are
// idempotent.
func (c *Client) Upsert(ctx context.Context, table string, records []Row) error {
	if len(records) == 0 {
		return nil
	}
	spec, ok := c.registry.Lookup(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	for _, row := range records {
		if err := spec.Validate(row); err != nil {
			return err
		}
	}

	return c.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, row := range records {
			cols := sortedColumns(row)
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

			var updates []string
			for _, col := range cols {
				if col == spec.PrimaryKey {
					continue
				}
				updates = append(updates, fmt.Sprintf("`%s` = VALUES(`%s`)", col, col))
			}

			query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
				spec.Name, backquoted(cols), placeholders, strings.Join(updates, ", "))

			if _, err := tx.ExecContext(ctx, query, columnValues(row, cols)...); err != nil {
				return fmt.Errorf("upsert %s: %w", spec.Name, err)
			}
		}
		return nil
	})
}

func (c *Client) Delete(ctx context.Context, table string, id string) error {
	spec, ok := c.registry.Lookup(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = ?", spec.Name, spec.PrimaryKey)
	if _, err := c.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete %s: %w", spec.Name, err)
	}
	return nil
}

// ExecTx executes a function within a transaction
func (c *Client) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func columnValues(row Row, cols []string) []any {
	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = row[col]
	}
	return vals
}

func backquoted(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = "`" + col + "`"
	}
	return strings.Join(quoted, ", ")
}
