package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-eventbus/backoff"
	constant "github.com/LerianStudio/lib-eventbus/constants"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	"github.com/LerianStudio/lib-eventbus/log"
	"github.com/LerianStudio/lib-eventbus/opentelemetry/metrics"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
)

var (
	// ErrInvalidConfig marks a configuration missing required fields.
	ErrInvalidConfig = errors.New("invalid postgres configuration")
	// ErrNilContext is returned when a nil context reaches a client operation.
	ErrNilContext = errors.New("context is required")
	// ErrNilClient is returned when a method is called on a nil *Client.
	ErrNilClient = errors.New("postgres client is nil")
	// ErrNotConnected is returned when the primary handle is requested before Connect.
	ErrNotConnected = errors.New("postgres client is not connected")
	// ErrInvalidDatabaseName marks a database name outside the allowed identifier form.
	ErrInvalidDatabaseName = errors.New("invalid database name")
	// ErrNilMigrator is returned when a method is called on a nil *Migrator.
	ErrNilMigrator = errors.New("postgres migrator is nil")
	// ErrMigrationDirty marks a migration aborted on a dirty schema version.
	ErrMigrationDirty = errors.New("migration failed: dirty database version")
)

// SanitizedError carries a credential-free rendering of a database error.
// Unwrap deliberately returns nil: the original error may embed a DSN, and
// chain traversal must not be able to reach it.
type SanitizedError struct {
	message string
}

// Error returns the sanitized message.
func (e *SanitizedError) Error() string { return e.message }

// Unwrap returns nil so the credential-bearing cause never leaks through
// errors.Is / errors.As traversal.
func (e *SanitizedError) Unwrap() error { return nil }

// newSanitizedError wraps cause under prefix with all credentials masked.
// A nil cause yields nil.
func newSanitizedError(cause error, prefix string) *SanitizedError {
	if cause == nil {
		return nil
	}

	return &SanitizedError{message: prefix + ": " + sanitizeSensitiveString(cause.Error())}
}

// Config configures a primary/replica postgres Client.
type Config struct {
	PrimaryDSN         string
	ReplicaDSN         string
	Logger             log.Logger
	MetricsFactory     *metrics.MetricsFactory
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
}

func (cfg Config) withDefaults() Config {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = defaultMaxOpenConns
	}

	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = defaultMaxIdleConns
	}

	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return cfg
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary DSN is required", ErrInvalidConfig)
	}

	if strings.TrimSpace(cfg.ReplicaDSN) == "" {
		return fmt.Errorf("%w: replica DSN is required", ErrInvalidConfig)
	}

	if err := validateDSN(cfg.PrimaryDSN); err != nil {
		return err
	}

	return validateDSN(cfg.ReplicaDSN)
}

// validateDSN accepts postgres URL DSNs and key-value DSNs. Emptiness is the
// caller's concern.
func validateDSN(dsn string) error {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil
	}

	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		scheme := strings.ToLower(trimmed[:idx])
		if scheme != "postgres" && scheme != "postgresql" {
			return fmt.Errorf("%w: unsupported DSN scheme %q", ErrInvalidConfig, scheme)
		}
	}

	return nil
}

// warnInsecureDSN logs when a DSN explicitly disables TLS. Nil loggers are
// tolerated.
func warnInsecureDSN(ctx context.Context, logger log.Logger, dsn, role string) {
	if nilcheck.Interface(logger) {
		return
	}

	if strings.Contains(dsn, "sslmode=disable") {
		logger.Log(ctx, log.LevelWarn, "postgres DSN disables TLS", log.String("role", role))
	}
}

func closeDB(db *sql.DB) error {
	if db == nil {
		return nil
	}

	return db.Close()
}

// Client manages a primary/replica postgres pair behind a dbresolver. It
// connects eagerly via Connect or lazily via Resolver, and swaps resolvers
// atomically: a failed reconnect keeps the previous resolver serving.
type Client struct {
	cfg Config

	mu       sync.RWMutex
	primary  *sql.DB
	replica  *sql.DB
	resolver dbresolver.DB

	// Lazy-reconnect rate limiting: consecutive failures back off
	// exponentially so a dead database is not hammered by every caller.
	connectAttempts    int
	lastConnectAttempt time.Time
}

// reconnectBackoffCap bounds the delay between lazy reconnect attempts.
const reconnectBackoffCap = 30 * time.Second

// New validates cfg and returns an unconnected client.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{cfg: cfg.withDefaults()}, nil
}

// Connect (re)builds the primary/replica pair and resolver, verifying the
// resolver with a ping before swapping it in. On failure the previous
// resolver keeps serving.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	c.connectAttempts = 0

	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	primary, replica, resolver, err := c.buildConnection(ctx)
	if err != nil {
		c.recordConnectionFailure(ctx, "connect")

		return err
	}

	if err := resolver.PingContext(ctx); err != nil {
		c.recordConnectionFailure(ctx, "ping")
		closeErr := resolver.Close()
		if closeErr != nil {
			c.logAtLevel(ctx, log.LevelWarn, "failed to close unhealthy resolver", log.Err(closeErr))
		}

		_ = closeDB(primary)
		_ = closeDB(replica)

		return fmt.Errorf("failed to ping database: %w", err)
	}

	if c.resolver != nil {
		if closeErr := c.resolver.Close(); closeErr != nil {
			c.logAtLevel(ctx, log.LevelWarn, "failed to close previous resolver", log.Err(closeErr))
		}
	}

	c.primary = primary
	c.replica = replica
	c.resolver = resolver

	c.logAtLevel(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) buildConnection(ctx context.Context) (*sql.DB, *sql.DB, dbresolver.DB, error) {
	warnInsecureDSN(ctx, c.cfg.Logger, c.cfg.PrimaryDSN, "primary")
	warnInsecureDSN(ctx, c.cfg.Logger, c.cfg.ReplicaDSN, "replica")

	primary, err := dbOpenFn("pgx", c.cfg.PrimaryDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w", newSanitizedError(err, "failed to open database"))
	}

	c.applyPoolSettings(primary)

	replica, err := dbOpenFn("pgx", c.cfg.ReplicaDSN)
	if err != nil {
		_ = closeDB(primary)

		return nil, nil, nil, fmt.Errorf("%w", newSanitizedError(err, "failed to open database"))
	}

	c.applyPoolSettings(replica)

	resolver, err := createResolverFn(primary, replica, c.cfg.Logger)
	if err != nil {
		_ = closeDB(primary)
		_ = closeDB(replica)

		return nil, nil, nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	if resolver == nil {
		_ = closeDB(primary)
		_ = closeDB(replica)

		return nil, nil, nil, errors.New("failed to create resolver: resolver is nil")
	}

	return primary, replica, resolver, nil
}

func (c *Client) applyPoolSettings(db *sql.DB) {
	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.cfg.ConnMaxIdleTime)
}

// Resolver returns the resolver, connecting lazily on first use.
//
//nolint:ireturn
func (c *Client) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	c.mu.RLock()

	if c.resolver != nil {
		resolver := c.resolver
		c.mu.RUnlock()

		return resolver, nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		return c.resolver, nil
	}

	if c.connectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(time.Second, c.connectAttempts)
		if delay > reconnectBackoffCap {
			delay = reconnectBackoffCap
		}

		if elapsed := time.Since(c.lastConnectAttempt); elapsed < delay {
			return nil, fmt.Errorf("postgres reconnect rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	c.lastConnectAttempt = time.Now()

	if err := c.connectLocked(ctx); err != nil {
		c.connectAttempts++

		return nil, err
	}

	c.connectAttempts = 0

	return c.resolver, nil
}

// Primary returns the raw primary handle for transaction-scoped work.
func (c *Client) Primary() (*sql.DB, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.primary == nil {
		return nil, ErrNotConnected
	}

	return c.primary, nil
}

// IsConnected reports whether a resolver is live.
func (c *Client) IsConnected() (bool, error) {
	if c == nil {
		return false, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver != nil, nil
}

// Close releases the resolver and both database handles. Idempotent.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.resolver != nil {
		if err := c.resolver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing resolver: %w", err))
		}

		c.resolver = nil
	}

	if err := closeDB(c.primary); err != nil {
		errs = append(errs, fmt.Errorf("closing primary: %w", err))
	}

	c.primary = nil

	if err := closeDB(c.replica); err != nil {
		errs = append(errs, fmt.Errorf("closing replica: %w", err))
	}

	c.replica = nil

	return errors.Join(errs...)
}

func (c *Client) logAtLevel(ctx context.Context, level log.Level, msg string, fields ...log.Field) {
	if c == nil || nilcheck.Interface(c.cfg.Logger) {
		return
	}

	c.cfg.Logger.Log(ctx, level, msg, fields...)
}

// connectionFailuresMetric counts failed postgres connection attempts.
var connectionFailuresMetric = metrics.Metric{
	Name:        "postgres_connection_failures_total",
	Unit:        "1",
	Description: "Total number of postgres connection failures",
}

func (c *Client) recordConnectionFailure(ctx context.Context, operation string) {
	if c == nil || c.cfg.MetricsFactory == nil {
		return
	}

	counter, err := c.cfg.MetricsFactory.Counter(connectionFailuresMetric)
	if err != nil {
		c.logAtLevel(ctx, log.LevelWarn, "failed to create postgres metric counter", log.Err(err))

		return
	}

	if err := counter.
		WithLabels(map[string]string{"operation": constant.SanitizeMetricLabel(operation)}).
		AddOne(ctx); err != nil {
		c.logAtLevel(ctx, log.LevelWarn, "failed to record postgres metric", log.Err(err))
	}
}

// MigrationConfig configures an explicit migration run.
type MigrationConfig struct {
	PrimaryDSN           string
	DatabaseName         string
	MigrationsPath       string
	Component            string
	AllowMultiStatements bool
	Logger               log.Logger
}

func (cfg MigrationConfig) withDefaults() MigrationConfig {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	return cfg
}

func (cfg MigrationConfig) validate() error {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary DSN is required", ErrInvalidConfig)
	}

	if err := validateDBName(cfg.DatabaseName); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.MigrationsPath) == "" && strings.TrimSpace(cfg.Component) == "" {
		return fmt.Errorf("%w: migrations path or component is required", ErrInvalidConfig)
	}

	return nil
}

// Migrator runs database migrations as an explicit step, decoupled from
// connection establishment.
type Migrator struct {
	cfg MigrationConfig
}

// NewMigrator validates cfg and returns a migrator.
func NewMigrator(cfg MigrationConfig) (*Migrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Migrator{cfg: cfg.withDefaults()}, nil
}

// Up applies all pending migrations on the primary database.
func (m *Migrator) Up(ctx context.Context) error {
	if m == nil {
		return ErrNilMigrator
	}

	if ctx == nil {
		return ErrNilContext
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migrations aborted: %w", err)
	}

	migrationsPath, err := resolveMigrationsPath(m.cfg.MigrationsPath, m.cfg.Component)
	if err != nil {
		return err
	}

	db, err := dbOpenFn("pgx", m.cfg.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("%w", newSanitizedError(err, "failed to open database for migrations"))
	}

	defer func() {
		if closeErr := closeDB(db); closeErr != nil {
			m.logAtLevel(ctx, log.LevelWarn, "failed to close migration connection", log.Err(closeErr))
		}
	}()

	outcome := classifyMigrationError(
		runMigrationsFn(ctx, db, migrationsPath, m.cfg.DatabaseName, m.cfg.AllowMultiStatements, m.cfg.Logger),
	)

	if outcome.message != "" {
		m.logAtLevel(ctx, outcome.level, outcome.message, outcome.fields...)
	}

	return outcome.err
}

func (m *Migrator) logAtLevel(ctx context.Context, level log.Level, msg string, fields ...log.Field) {
	if m == nil || nilcheck.Interface(m.cfg.Logger) {
		return
	}

	m.cfg.Logger.Log(ctx, level, msg, fields...)
}

// migrationOutcome is the classified result of a migration run: an error to
// surface (or nil) plus how to log it.
type migrationOutcome struct {
	err     error
	level   log.Level
	message string
	fields  []log.Field
}

// classifyMigrationError maps the migration library's sentinel errors onto
// surface behavior: no-change and missing-files are benign, dirty schemas
// and everything else fail the run.
func classifyMigrationError(err error) migrationOutcome {
	if err == nil {
		return migrationOutcome{}
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return migrationOutcome{
			level:   log.LevelInfo,
			message: "no new migrations found, skipping",
		}
	}

	if errors.Is(err, os.ErrNotExist) {
		return migrationOutcome{
			level:   log.LevelWarn,
			message: "no migration files found, skipping migration step",
		}
	}

	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return migrationOutcome{
			err:     fmt.Errorf("%w %d", ErrMigrationDirty, dirtyErr.Version),
			level:   log.LevelError,
			message: "migration aborted on dirty database version",
			fields:  []log.Field{log.Int("version", dirtyErr.Version)},
		}
	}

	return migrationOutcome{
		err:     fmt.Errorf("running migrations: %w", err),
		level:   log.LevelError,
		message: "migration failed",
		fields:  []log.Field{log.Err(err)},
	}
}
