package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// MaxHops bounds every variable-length traversal
const MaxHops = 25

// ValidateHops rejects hop counts outside 0..MaxHops
func ValidateHops(hops int) error {
	if hops < 0 || hops > MaxHops {
		return apperrors.NewInvalidArgument("hops", fmt.Sprintf("must be between 0 and %d, got %d", MaxHops, hops))
	}
	return nil
}

// ParseHops parses caller input such as a query parameter. Non-integers
// ("2.5", "two") are rejected the same way as out-of-range values.
func ParseHops(s string) (int, error) {
	hops, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperrors.NewInvalidArgument("hops", fmt.Sprintf("%q is not an integer", s))
	}
	if err := ValidateHops(hops); err != nil {
		return 0, err
	}
	return hops, nil
}

// closureRow is one traversal result row: a closure member and every
// person-to-person edge touching it.
type closureRow struct {
	Node  neo4j.Node
	Edges []rawEdge
}

// collectClosure deduplicates the traversal rows. A person reached along
// several paths is emitted once; an edge seen from both of its endpoints is
// emitted once; edges leading out of the closure are dropped.
func collectClosure(rows []closureRow) ([]Person, []Relationship) {
	lookup := make(map[string]string, len(rows))
	people := make([]Person, 0, len(rows))
	for _, row := range rows {
		if _, seen := lookup[row.Node.ElementId]; seen {
			continue
		}
		p := personFromNode(row.Node)
		lookup[row.Node.ElementId] = p.ID
		people = append(people, p)
	}

	emitted := make(map[string]struct{})
	relationships := make([]Relationship, 0)
	for _, row := range rows {
		for _, edge := range row.Edges {
			if _, seen := emitted[edge.ElementID]; seen {
				continue
			}
			emitted[edge.ElementID] = struct{}{}
			if rel, ok := fromEdge(edge, lookup); ok {
				relationships = append(relationships, rel)
			}
		}
	}
	return people, relationships
}

func closureRowFromRecord(record *neo4j.Record) (closureRow, bool) {
	node, ok := getNodeFromRecord(record, "person")
	if !ok {
		return closureRow{}, false
	}
	row := closureRow{Node: node}
	if val, ok := record.Get("rels"); ok {
		if list, ok := val.([]interface{}); ok {
			for _, item := range list {
				if rel, ok := item.(neo4j.Relationship); ok {
					row.Edges = append(row.Edges, edgeFromDriver(rel))
				}
			}
		}
	}
	return row, true
}

// closureQuery builds the traversal for an already validated hop count.
// The hop count and the closed edge label set are the only formatted parts.
func closureQuery(hops int) string {
	if hops == 0 {
		return `
			MATCH (t:Person)
			WHERE t.id IN $ids
			RETURN t AS person, [] AS rels
		`
	}
	types := cypherRelTypes(personRelTypes...)
	return fmt.Sprintf(`
		MATCH (origin:Person)
		WHERE origin.id IN $ids
		OPTIONAL MATCH (origin)-[:%[1]s*1..%[2]d]-(reached:Person)
		WITH origin, collect(DISTINCT reached) AS reachedNodes
		UNWIND [origin] + reachedNodes AS t
		WITH DISTINCT t
		OPTIONAL MATCH (t)-[r:%[1]s]-(:Person)
		RETURN t AS person, collect(DISTINCT r) AS rels
	`, types, hops)
}
