package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

func TestConnection_DialsOnceAndMemoizesFailure(t *testing.T) {
	var dials int32
	conn := NewConnection(ConnectionConfig{URI: "bolt://unreachable:7687"})
	conn.dial = func(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("connection refused")
	}

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = conn.Driver(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	for _, err := range errs {
		assert.Equal(t, apperrors.CodeGraphConnectionFailed, apperrors.CodeOf(err))
	}

	_, err := ReadTx(context.Background(), conn, "noop", func(tx neo4j.ManagedTransaction) (int, error) {
		t.Fatal("transaction body must not run without a driver")
		return 0, nil
	})
	assert.Equal(t, apperrors.CodeGraphConnectionFailed, apperrors.CodeOf(err))
	assert.NoError(t, conn.Close(context.Background()))
}

func TestWrapTxError(t *testing.T) {
	domain := apperrors.NewMissingParticipant("a", "b")
	assert.Same(t, domain, wrapTxError("op", domain).(*apperrors.ErrMissingParticipant))

	err := wrapTxError("find person", errors.New("syntax error"))
	assert.Equal(t, apperrors.CodeGraphQueryFailed, apperrors.CodeOf(err))
}

type stubDriver struct {
	neo4j.DriverWithContext
	closed atomic.Bool
}

func (d *stubDriver) NewSession(ctx context.Context, cfg neo4j.SessionConfig) neo4j.SessionWithContext {
	return stubSession{}
}

func (d *stubDriver) Close(ctx context.Context) error {
	d.closed.Store(true)
	return nil
}

// stubSession runs the unit of work without a transaction
type stubSession struct {
	neo4j.SessionWithContext
}

func (stubSession) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork, _ ...func(*neo4j.TransactionConfig)) (any, error) {
	return work(nil)
}

func (stubSession) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, _ ...func(*neo4j.TransactionConfig)) (any, error) {
	return work(nil)
}

func (stubSession) Close(ctx context.Context) error { return nil }

func stubConnection(driver *stubDriver) *Connection {
	conn := NewConnection(ConnectionConfig{URI: "bolt://stub:7687"})
	conn.dial = func(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error) {
		return driver, nil
	}
	return conn
}

func TestConnection_CloseBeforeFirstUseNeverDials(t *testing.T) {
	conn := NewConnection(ConnectionConfig{URI: "bolt://unused:7687"})
	conn.dial = func(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error) {
		t.Fatal("closed connection must not dial")
		return nil, nil
	}

	assert.NoError(t, conn.Close(context.Background()))
	_, err := conn.Driver(context.Background())
	assert.Equal(t, apperrors.CodeGraphConnectionFailed, apperrors.CodeOf(err))
}

func TestConnection_CloseWaitsForDial(t *testing.T) {
	driver := &stubDriver{}
	started := make(chan struct{})
	release := make(chan struct{})
	conn := NewConnection(ConnectionConfig{URI: "bolt://slow:7687"})
	conn.dial = func(ctx context.Context, cfg ConnectionConfig) (neo4j.DriverWithContext, error) {
		close(started)
		<-release
		return driver, nil
	}

	go func() { _, _ = conn.Driver(context.Background()) }()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- conn.Close(context.Background()) }()

	close(release)
	require.NoError(t, <-closed)
	assert.True(t, driver.closed.Load(), "driver created by the pending dial is released")
}

func TestRunTx_CountsErrorsByCode(t *testing.T) {
	conn := stubConnection(&stubDriver{})
	ctx := context.Background()
	op := "metrics " + uuidSuffix()

	notFound := txErrors.WithLabelValues("read", op, string(apperrors.CodeNotFound))
	driverFailure := txErrors.WithLabelValues("write", op, "driver")

	_, err := ReadTx(ctx, conn, op, func(tx neo4j.ManagedTransaction) (*Person, error) {
		return nil, apperrors.NewNotFound("person", "zeus")
	})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(notFound))

	_, err = WriteTx(ctx, conn, op, func(tx neo4j.ManagedTransaction) (int, error) {
		return 0, errors.New("socket closed")
	})
	assert.Equal(t, apperrors.CodeGraphQueryFailed, apperrors.CodeOf(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(driverFailure))

	got, err := ReadTx(ctx, conn, op, func(tx neo4j.ManagedTransaction) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, float64(1), testutil.ToFloat64(notFound), "successful transactions are not counted")
}
