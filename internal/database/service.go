package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"dbvault/internal/errors"
	"dbvault/internal/logging"
)

// Connector opens the connection a backup run works on
type Connector interface {
	Connect(ctx context.Context, config DatabaseConfig) (Conn, error)
}

// Service is the MySQL Connector
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              func(driver, dsn string) (*sql.DB, error)
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: DefaultTimeout,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              sql.Open,
	}
}

// NewServiceWithOptions creates a new database service with custom retry settings
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, retry errors.RetryConfig) *Service {
	s := NewServiceWithLogger(logger)
	s.connectionTimeout = timeout
	s.retryHandler = errors.NewRetryHandler(retry)
	return s
}

// Connect pins one session on the target database, retrying recoverable failures.
// A missing database name fails before any network traffic.
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (Conn, error) {
	if config.Database == "" {
		return nil, errors.NewPreconditionError("no target database name for connection " + config.Label())
	}
	config.SetDefaults()

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Info("Attempting database connection")

	var conn *mysqlConn
	err := s.retryHandler.Retry(ctx, func() error {
		db, openErr := s.open("mysql", config.DumpDSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		pingCtx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
		defer cancel()

		session, connErr := db.Conn(pingCtx)
		if connErr == nil {
			connErr = session.PingContext(pingCtx)
		}
		if connErr != nil {
			if session != nil {
				session.Close()
			}
			db.Close()
			return errors.WrapError(connErr, "failed to reach database server")
		}

		conn = &mysqlConn{db: db, session: session, database: config.Database, logger: s.logger}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)

	if err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		return nil, errors.NewConnectionError("failed to connect to "+config.Label(), err)
	}
	return conn, nil
}
