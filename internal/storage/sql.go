// Package storage appends normalized readings to the SQL store and, when
// configured, mirrors them to InfluxDB and a Redis latest-value cache.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// ErrStoreUnavailable is returned without touching the database while a
// destination's circuit breaker is open after repeated failures.
var ErrStoreUnavailable = errors.New("store unavailable")

// Config is the SQL connection configuration.
type Config struct {
	Driver   string // mysql | postgres
	Host     string
	Port     int // 0 = driver default
	User     string
	Password string
	Database string
	PoolSize int

	BreakerFailures uint32        // consecutive failures before fail-fast
	BreakerOpenFor  time.Duration // fail-fast window
}

// DSN renders the driver specific connection string.
func (c Config) DSN() (string, error) {
	d, err := dialectFor(c.Driver)
	if err != nil {
		return "", err
	}
	switch d.name {
	case DriverMySQL:
		port := c.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	default:
		port := c.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
			Path:   "/" + c.Database,
		}
		return u.String(), nil
	}
}

// SQLStore owns the bounded connection pool. Safe for concurrent use.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     zerolog.Logger

	// one breaker per destination: a broken table must not stop the others
	mu       sync.Mutex
	breakers map[model.Destination]*gobreaker.CircuitBreaker
	settings gobreaker.Settings
}

// Open creates the pool and checks connectivity, retrying a few times. An
// error here is fatal for the bridge: there is nowhere to put readings.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", d.name, err)
	}
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 10
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s, err := New(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(func() error {
		return s.Ping(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("store ping failed")
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	log.Info().Str("driver", d.name).Str("database", cfg.Database).Int("pool_size", pool).Msg("connected to store")
	return s, nil
}

// New wraps an existing pool. Open is the normal entry point; New lets tests
// hand in a mocked *sql.DB.
func New(db *sql.DB, cfg Config, log zerolog.Logger) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 5 * time.Second
	}

	s := &SQLStore{
		db:       db,
		dialect:  d,
		log:      log,
		breakers: make(map[model.Destination]*gobreaker.CircuitBreaker),
	}
	s.settings = gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the store's health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker changed state")
		},
	}
	return s, nil
}

// Ping acquires one pooled connection, pings and releases it.
func (s *SQLStore) Ping(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.PingContext(ctx)
}

// Append inserts one row into dest and returns the id the store assigned.
// It never retries; a failure belongs to this reading only.
func (s *SQLStore) Append(ctx context.Context, dest model.Destination, r model.Reading) (int64, error) {
	if dest.IsZero() {
		return 0, errors.New("append: no destination")
	}
	res, err := s.breaker(dest).Execute(func() (interface{}, error) {
		return s.insert(ctx, dest, r)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return 0, err
	}
	return res.(int64), nil
}

func (s *SQLStore) breaker(dest model.Destination) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[dest]
	if !ok {
		st := s.settings
		st.Name = "store:" + dest.String()
		cb = gobreaker.NewCircuitBreaker(st)
		s.breakers[dest] = cb
	}
	return cb
}

func (s *SQLStore) insert(ctx context.Context, dest model.Destination, r model.Reading) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	query, args := s.dialect.insert(dest, r)
	if s.dialect.returning {
		var id int64
		if err := conn.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", dest, err)
		}
		return id, nil
	}

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", dest, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: read id: %w", dest, err)
	}
	return id, nil
}

// Stats exposes the pool statistics.
func (s *SQLStore) Stats() sql.DBStats { return s.db.Stats() }

// Close releases every pooled connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
