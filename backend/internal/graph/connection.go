package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// ConnectionConfig describes how to reach the graph database
type ConnectionConfig struct {
	URI            string
	User           string
	Password       string
	Database       string
	MaxTxRetryTime time.Duration
}

type dialFunc func(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error)

// Connection owns the single process-wide driver. The driver is created on
// first use; concurrent early callers block on the same initialization and
// observe the same result, including a failure.
type Connection struct {
	cfg    ConnectionConfig
	dial   dialFunc
	logger *zap.Logger

	once   sync.Once
	driver neo4j.DriverWithContext
	err    error
}

var errConnectionClosed = errors.New("connection closed")

// NewConnection creates a connection manager without dialing
func NewConnection(cfg ConnectionConfig) *Connection {
	return &Connection{
		cfg:    cfg,
		dial:   dialNeo4j,
		logger: logger.Get(),
	}
}

func dialNeo4j(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxTransactionRetryTime = cfg.MaxTxRetryTime
		},
	)
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

// Driver returns the shared driver, creating it on the first call
func (c *Connection) Driver(ctx context.Context) (neo4j.DriverWithContext, error) {
	c.once.Do(func() {
		c.logger.Info("Connecting to graph database", zap.String("uri", c.cfg.URI))
		driver, err := c.dial(ctx, c.cfg)
		if err != nil {
			c.err = apperrors.NewGraphConnectionFailed(c.cfg.URI, err)
			return
		}
		c.driver = driver
	})
	return c.driver, c.err
}

// Close releases the driver if it was ever created. It waits for a dial in
// progress, and a connection closed before its first use never dials.
func (c *Connection) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.err = apperrors.NewGraphConnectionFailed(c.cfg.URI, errConnectionClosed)
	})
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

// TxFunc is the unit of work run inside a managed transaction
type TxFunc[T any] func(tx neo4j.ManagedTransaction) (T, error)

// ReadTx runs fn in a read transaction. The session is closed on every exit path.
func ReadTx[T any](ctx context.Context, c *Connection, op string, fn TxFunc[T]) (T, error) {
	return runTx(ctx, c, neo4j.AccessModeRead, op, fn)
}

// WriteTx runs fn in a write transaction. All statements issued by fn commit
// together or not at all.
func WriteTx[T any](ctx context.Context, c *Connection, op string, fn TxFunc[T]) (T, error) {
	return runTx(ctx, c, neo4j.AccessModeWrite, op, fn)
}

func runTx[T any](ctx context.Context, c *Connection, mode neo4j.AccessMode, op string, fn TxFunc[T]) (T, error) {
	var zero T

	driver, err := c.Driver(ctx)
	if err != nil {
		return zero, err
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.cfg.Database})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(tx)
	}

	start := time.Now()
	var out any
	if mode == neo4j.AccessModeRead {
		out, err = session.ExecuteRead(ctx, work)
	} else {
		out, err = session.ExecuteWrite(ctx, work)
	}
	observeTx(mode, op, time.Since(start), err)

	if err != nil {
		return zero, wrapTxError(op, err)
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

// wrapTxError leaves domain errors raised inside the transaction untouched
// and turns anything else into an opaque query failure.
func wrapTxError(op string, err error) error {
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.NewGraphQueryFailed(op, err)
}

// EnsureIndexes creates the lookup indexes and constraints used by the repositories
func (c *Connection) EnsureIndexes(ctx context.Context) error {
	statements := []string{
		"CREATE INDEX person_id IF NOT EXISTS FOR (p:Person) ON (p.id)",
		"CREATE INDEX person_name IF NOT EXISTS FOR (p:Person) ON (p.name)",
		"CREATE INDEX photo_id IF NOT EXISTS FOR (ph:Photo) ON (ph.id)",
		"CREATE INDEX user_id IF NOT EXISTS FOR (u:User) ON (u.id)",
		"CREATE CONSTRAINT user_username_key IF NOT EXISTS FOR (u:User) REQUIRE u.usernameKey IS UNIQUE",
		"CREATE INDEX session_id IF NOT EXISTS FOR (s:DatabaseSession) ON (s.id)",
		"CREATE INDEX session_user IF NOT EXISTS FOR (s:DatabaseSession) ON (s.userId)",
	}

	driver, err := c.Driver(ctx)
	if err != nil {
		return err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: c.cfg.Database})
	defer session.Close(ctx)

	// Schema statements cannot share a transaction with each other, so each
	// runs as its own auto-commit query.
	for _, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	c.logger.Info("Graph indexes ensured", zap.Int("count", len(statements)))
	return nil
}
