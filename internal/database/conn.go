package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dbvault/internal/errors"
	"dbvault/internal/logging"
)

// Conn is the capability surface a backup run needs from one database session
type Conn interface {
	Database() string
	ListTables(ctx context.Context) ([]string, error)
	// OpenCursor streams every row of table; the caller must close the rows
	OpenCursor(ctx context.Context, table string) (*sql.Rows, error)
	CreateStatement(ctx context.Context, table string) (string, error)
	RowCount(ctx context.Context, table string) (int64, error)
	// ApproxRowCount reads catalog statistics; 0 when the server has none
	ApproxRowCount(ctx context.Context, table string) (int64, error)
	SessionVariables(ctx context.Context) (map[string]string, error)
	Close() error
}

// SessionVariableNames are the server variables recorded in the dump header
var SessionVariableNames = []string{
	"hostname",
	"version",
	"version_comment",
	"character_set_database",
	"collation_database",
	"time_zone",
}

type mysqlConn struct {
	db       *sql.DB
	session  *sql.Conn
	database string
	logger   *logging.Logger
}

// NewConn pins a session from db for database
func NewConn(ctx context.Context, db *sql.DB, database string, logger *logging.Logger) (Conn, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	session, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.WrapError(err, "failed to acquire database session")
	}
	return &mysqlConn{db: db, session: session, database: database, logger: logger}, nil
}

// QuoteIdentifier wraps name in backticks, doubling embedded backticks
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *mysqlConn) Database() string {
	return c.database
}

func (c *mysqlConn) ListTables(ctx context.Context) ([]string, error) {
	query := `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	start := time.Now()
	rows, err := c.session.QueryContext(ctx, query, c.database)
	if err != nil {
		c.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, errors.WrapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WrapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to list tables")
	}
	c.logger.LogSQLExecution(query, time.Since(start), int64(len(tables)), nil)
	return tables, nil
}

func (c *mysqlConn) OpenCursor(ctx context.Context, table string) (*sql.Rows, error) {
	query := "SELECT * FROM " + QuoteIdentifier(table)
	rows, err := c.session.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to open cursor on %s", table))
	}
	return rows, nil
}

func (c *mysqlConn) CreateStatement(ctx context.Context, table string) (string, error) {
	query := "SHOW CREATE TABLE " + QuoteIdentifier(table)

	var name, create string
	start := time.Now()
	err := c.session.QueryRowContext(ctx, query).Scan(&name, &create)
	c.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return "", errors.WrapError(err, fmt.Sprintf("failed to read definition of %s", table))
	}
	return create, nil
}

func (c *mysqlConn) RowCount(ctx context.Context, table string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + QuoteIdentifier(table)

	var count int64
	start := time.Now()
	err := c.session.QueryRowContext(ctx, query).Scan(&count)
	c.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to count rows of %s", table))
	}
	return count, nil
}

func (c *mysqlConn) ApproxRowCount(ctx context.Context, table string) (int64, error) {
	query := "SELECT TABLE_ROWS FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?"

	var count sql.NullInt64
	start := time.Now()
	err := c.session.QueryRowContext(ctx, query, c.database, table).Scan(&count)
	c.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to read statistics of %s", table))
	}
	if !count.Valid || count.Int64 < 0 {
		return 0, nil
	}
	return count.Int64, nil
}

func (c *mysqlConn) SessionVariables(ctx context.Context) (map[string]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(SessionVariableNames)), ",")
	query := "SHOW VARIABLES WHERE Variable_name IN (" + placeholders + ")"
	args := make([]interface{}, len(SessionVariableNames))
	for i, name := range SessionVariableNames {
		args[i] = name
	}

	start := time.Now()
	rows, err := c.session.QueryContext(ctx, query, args...)
	if err != nil {
		c.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, errors.WrapError(err, "failed to read session variables")
	}
	defer rows.Close()

	vars := make(map[string]string, len(SessionVariableNames))
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.WrapError(err, "failed to scan session variable")
		}
		vars[name] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to read session variables")
	}
	c.logger.LogSQLExecution(query, time.Since(start), int64(len(vars)), nil)
	return vars, nil
}

func (c *mysqlConn) Close() error {
	var firstErr error
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errors.WrapError(firstErr, "failed to close database connection")
	}
	return nil
}
