package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

const (
	// MaxPageSize caps GetPage and FindByName results
	MaxPageSize = 100
	// MaxPersonPhotos caps GetPersonPhotos
	MaxPersonPhotos = 25
)

// PersonReader runs the read side of the person repository inside one transaction
type PersonReader struct {
	tx     neo4j.ManagedTransaction
	logger *zap.Logger
}

// NewPersonReader binds a reader to tx
func NewPersonReader(tx neo4j.ManagedTransaction) *PersonReader {
	return &PersonReader{tx: tx, logger: logger.Get()}
}

func (r *PersonReader) collectPeople(ctx context.Context, query string, params map[string]any) ([]Person, error) {
	result, err := r.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect records: %w", err)
	}
	people := make([]Person, 0, len(records))
	for _, record := range records {
		if node, ok := getNodeFromRecord(record, "p"); ok {
			people = append(people, personFromNode(node))
		}
	}
	return people, nil
}

// FindByID returns the person with id, or nil when there is none
func (r *PersonReader) FindByID(ctx context.Context, id string) (*Person, error) {
	people, err := r.collectPeople(ctx, `
		MATCH (p:Person {id: $id})
		RETURN p
		LIMIT 2
	`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	switch len(people) {
	case 0:
		return nil, nil
	case 1:
		return &people[0], nil
	}
	return nil, apperrors.NewAmbiguousMatch("find person", len(people))
}

// FindByName searches names case-insensitively, by substring unless exact is set
func (r *PersonReader) FindByName(ctx context.Context, name string, exact bool) ([]Person, error) {
	query := `
		MATCH (p:Person)
		WHERE toLower(p.name) CONTAINS toLower($name)
		RETURN p
		ORDER BY p.name, p.id
		LIMIT $limit
	`
	if exact {
		query = `
			MATCH (p:Person)
			WHERE toLower(p.name) = toLower($name)
			RETURN p
			ORDER BY p.name, p.id
			LIMIT $limit
		`
	}
	return r.collectPeople(ctx, query, map[string]any{"name": name, "limit": MaxPageSize})
}

// GetPage lists people ordered by name, ties broken by id
func (r *PersonReader) GetPage(ctx context.Context, limit, skip int) ([]Person, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, apperrors.NewInvalidArgument("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	if skip < 0 {
		return nil, apperrors.NewInvalidArgument("skip", "must not be negative")
	}
	return r.collectPeople(ctx, `
		MATCH (p:Person)
		RETURN p
		ORDER BY p.name, p.id
		SKIP $skip
		LIMIT $limit
	`, map[string]any{"skip": skip, "limit": limit})
}

// CountAll returns the number of people
func (r *PersonReader) CountAll(ctx context.Context) (int64, error) {
	result, err := r.tx.Run(ctx, `MATCH (p:Person) RETURN count(p) AS total`, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	return getInt64FromRecord(record, "total"), nil
}

// FindMainPartner returns one partner of id, or nil. With several partners
// the lowest by name then id wins.
func (r *PersonReader) FindMainPartner(ctx context.Context, id string) (*Person, error) {
	people, err := r.collectPeople(ctx, `
		MATCH (:Person {id: $id})-[:PARTNER]-(p:Person)
		RETURN DISTINCT p
		ORDER BY p.name, p.id
		LIMIT 1
	`, map[string]any{"id": id})
	if err != nil || len(people) == 0 {
		return nil, err
	}
	return &people[0], nil
}

// FindPersonWithRelations returns everyone within maxHops of id together
// with every relationship among them. The origin is always included when it
// exists; an unknown id yields empty results.
func (r *PersonReader) FindPersonWithRelations(ctx context.Context, id string, maxHops int) ([]Person, []Relationship, error) {
	return r.FindFamily(ctx, []string{id}, maxHops)
}

// FindFamily is FindPersonWithRelations seeded by several people at once
func (r *PersonReader) FindFamily(ctx context.Context, focusIDs []string, maxHops int) ([]Person, []Relationship, error) {
	if err := ValidateHops(maxHops); err != nil {
		return nil, nil, err
	}
	if len(focusIDs) == 0 {
		return []Person{}, []Relationship{}, nil
	}

	result, err := r.tx.Run(ctx, closureQuery(maxHops), map[string]any{"ids": focusIDs})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute traversal: %w", err)
	}

	var rows []closureRow
	for result.Next(ctx) {
		if row, ok := closureRowFromRecord(result.Record()); ok {
			rows = append(rows, row)
		}
	}
	if err := result.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read traversal: %w", err)
	}

	people, rels := collectClosure(rows)
	r.logger.Debug("Traversed family closure",
		zap.Strings("focus_ids", focusIDs),
		zap.Int("hops", maxHops),
		zap.Int("people", len(people)),
		zap.Int("relationships", len(rels)),
	)
	return people, rels, nil
}

// GetPersonPhotos lists photos attached to id, oldest first, capped at MaxPersonPhotos
func (r *PersonReader) GetPersonPhotos(ctx context.Context, id string) ([]Photo, error) {
	result, err := r.tx.Run(ctx, `
		MATCH (:Person {id: $id})-[:IN_PHOTO]->(ph:Photo)
		RETURN DISTINCT ph
		ORDER BY ph.created, ph.id
		LIMIT $limit
	`, map[string]any{"id": id, "limit": MaxPersonPhotos})
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	photos := make([]Photo, 0, len(records))
	for _, record := range records {
		if node, ok := getNodeFromRecord(record, "ph"); ok {
			photos = append(photos, photoFromProps(node.Props))
		}
	}
	return photos, nil
}
