package graph

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// newTestConnection connects to the integration database or skips the test.
// Set NEO4J_TEST_URI, NEO4J_USER, NEO4J_PASSWORD to point at a disposable instance.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	conn := NewConnection(ConnectionConfig{
		URI:      envOr("NEO4J_TEST_URI", "bolt://localhost:7687"),
		User:     envOr("NEO4J_USER", "neo4j"),
		Password: envOr("NEO4J_PASSWORD", "password"),
	})
	ctx := context.Background()
	if _, err := conn.Driver(ctx); err != nil {
		t.Skipf("Neo4j not reachable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(ctx) })
	return conn
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cleanupPeople removes people (and photos attached only to them) after the test
func cleanupPeople(t *testing.T, conn *Connection, ids *[]string) {
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = WriteTx(ctx, conn, "test cleanup", func(tx neo4j.ManagedTransaction) (any, error) {
			w := NewPersonWriter(tx)
			for _, id := range *ids {
				if _, err := w.DeletePerson(ctx, id); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
	})
}

func mustAddPeople(t *testing.T, conn *Connection, ids *[]string, names ...string) []*Person {
	t.Helper()
	ctx := context.Background()
	people, err := WriteTx(ctx, conn, "test add people", func(tx neo4j.ManagedTransaction) ([]*Person, error) {
		w := NewPersonWriter(tx)
		out := make([]*Person, 0, len(names))
		for _, name := range names {
			p, err := w.AddPerson(ctx, PersonData{Name: name})
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("AddPerson failed: %v", err)
	}
	for _, p := range people {
		*ids = append(*ids, p.ID)
	}
	return people
}

func mustWrite(t *testing.T, conn *Connection, fn func(ctx context.Context, w *PersonWriter) error) {
	t.Helper()
	ctx := context.Background()
	_, err := WriteTx(ctx, conn, "test write", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, NewPersonWriter(tx))
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func uuidSuffix() string {
	return uuid.NewString()[:8]
}

func upper(s string) string {
	return strings.ToUpper(s)
}

func timeAfterHours(h int) time.Time {
	return time.Now().Add(time.Duration(h) * time.Hour)
}
