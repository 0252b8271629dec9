package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"shopentry/internal/config"
	"shopentry/pkg/logger"
)

const installLockName = "shopentry_install"

// ErrAuthFailed distinguishes bad credentials from an unreachable store;
// the two produce different diagnostics in the container log.
var ErrAuthFailed = errors.New("store authentication failed")

// ErrNotReady is returned once the bounded readiness retries are exhausted.
var ErrNotReady = errors.New("store not reachable")

// Store wraps the relational database the application depends on.
type Store struct {
	cfg config.StoreConfig
	db  *sql.DB

	// connect is overridable in tests so readiness polling can be
	// exercised without a running server.
	connect func(ctx context.Context) error
}

func New(cfg config.StoreConfig) (*Store, error) {
	s := &Store{cfg: cfg}

	db, err := sql.Open("mysql", s.serverDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open store connection: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute)
	db.SetMaxOpenConns(2)

	s.db = db
	s.connect = s.ping
	return s, nil
}

// serverDSN targets the server without a schema so readiness polling and
// schema creation work before the schema exists.
func (s *Store) serverDSN() string {
	dsn := mysql.NewConfig()
	dsn.User = s.cfg.User
	dsn.Passwd = s.cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dsn.Timeout = 5 * time.Second
	return dsn.FormatDSN()
}

// SchemaDSN targets the configured schema, for callers that need real data
// access after EnsureSchema ran.
func (s *Store) SchemaDSN() string {
	dsn := mysql.NewConfig()
	dsn.User = s.cfg.User
	dsn.Passwd = s.cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dsn.DBName = s.cfg.Name
	dsn.Timeout = 5 * time.Second
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}

func (s *Store) ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WaitReady blocks until the store answers, retrying up to the configured
// attempt count with a fixed interval. Authentication failures abort
// immediately since retrying cannot fix them.
func (s *Store) WaitReady(ctx context.Context) error {
	retries := s.cfg.ConnectRetries
	var lastErr error

	for attempt := 1; attempt <= retries; attempt++ {
		err := s.connect(ctx)
		if err == nil {
			logger.Info("store is ready", "host", s.cfg.Host, "attempt", attempt)
			return nil
		}
		if isAuthError(err) {
			return fmt.Errorf("%w for user %q: %v", ErrAuthFailed, s.cfg.User, err)
		}
		lastErr = err
		logger.Debug("store not ready yet", "attempt", attempt, "of", retries, "error", err)

		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ConnectInterval):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrNotReady, retries, lastErr)
}

// EnsureSchema creates the target schema if it does not exist yet. Safe to
// call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		s.cfg.Name)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("unable to create schema %s: %w", s.cfg.Name, err)
	}
	return nil
}

// Ping is the trivial authenticated query used by the health probe.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// AcquireInstallLock takes a server-side advisory lock guarding the one-time
// installation sequence against concurrent fresh starts. The returned
// release function must be called once installation finished.
func (s *Store) AcquireInstallLock(ctx context.Context, timeout time.Duration) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain lock connection: %w", err)
	}

	var got sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)",
		installLockName, int(timeout.Seconds())).Scan(&got)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to acquire install lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("install lock %q is held by another instance", installLockName)
	}

	release := func() {
		if _, err := conn.ExecContext(context.Background(),
			"SELECT RELEASE_LOCK(?)", installLockName); err != nil {
			logger.Warn("unable to release install lock", "error", err)
		}
		conn.Close()
	}
	return release, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isAuthError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1045
}
