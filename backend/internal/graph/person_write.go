package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// PersonWriter runs the write side of the person repository inside one
// write transaction. It embeds the reader so a handler can mix both.
type PersonWriter struct {
	*PersonReader
}

// NewPersonWriter binds a writer to tx
func NewPersonWriter(tx neo4j.ManagedTransaction) *PersonWriter {
	return &PersonWriter{PersonReader: NewPersonReader(tx)}
}

func (w *PersonWriter) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := w.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect records: %w", err)
	}
	return records, nil
}

// exactlyOne returns the only person in records, NotFound for none and
// AmbiguousMatch for several
func exactlyOne(op, id string, records []*neo4j.Record) (*Person, error) {
	switch len(records) {
	case 0:
		return nil, apperrors.NewNotFound("person", id)
	case 1:
		node, ok := getNodeFromRecord(records[0], "p")
		if !ok {
			return nil, fmt.Errorf("%s: record has no person", op)
		}
		p := personFromNode(node)
		return &p, nil
	}
	return nil, apperrors.NewAmbiguousMatch(op, len(records))
}

// ============================================================================
// People
// ============================================================================

// AddPerson creates a person and assigns its id
func (w *PersonWriter) AddPerson(ctx context.Context, data PersonData) (*Person, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	records, err := w.run(ctx, `
		CREATE (p:Person)
		SET p = $props
		RETURN p
	`, map[string]any{"props": data.props(id)})
	if err != nil {
		return nil, err
	}
	p, err := exactlyOne("add person", id, records)
	if err != nil {
		return nil, err
	}
	w.logger.Info("Person created", zap.String("person_id", p.ID))
	return p, nil
}

// UpdatePerson changes an existing person. With partial set only the fields
// present in update change (null removes); otherwise the stored properties
// are replaced wholesale.
func (w *PersonWriter) UpdatePerson(ctx context.Context, update PersonUpdate, partial bool) (*Person, error) {
	if err := update.validate(); err != nil {
		return nil, err
	}

	var (
		records []*neo4j.Record
		err     error
	)
	if partial {
		records, err = w.run(ctx, `
			MATCH (p:Person {id: $id})
			SET p += $changes
			RETURN p
		`, map[string]any{"id": update.ID, "changes": update.Changes()})
	} else {
		data := update.Data()
		if err := data.validate(); err != nil {
			return nil, err
		}
		records, err = w.run(ctx, `
			MATCH (p:Person {id: $id})
			SET p = $props
			RETURN p
		`, map[string]any{"id": update.ID, "props": data.props(update.ID)})
	}
	if err != nil {
		return nil, err
	}
	return exactlyOne("update person", update.ID, records)
}

// DeletePerson detaches and removes the person. Photos it was the last
// reference to are removed as well. It returns nil when id does not exist.
func (w *PersonWriter) DeletePerson(ctx context.Context, id string) (*DeletedPerson, error) {
	snapshot, err := w.FindByID(ctx, id)
	if err != nil || snapshot == nil {
		return nil, err
	}

	photos, err := w.DeletePhotos(ctx, id, AllPhotos())
	if err != nil {
		return nil, err
	}

	if _, err := w.run(ctx, `
		MATCH (p:Person {id: $id})
		DETACH DELETE p
	`, map[string]any{"id": id}); err != nil {
		return nil, err
	}

	w.logger.Info("Person deleted",
		zap.String("person_id", id),
		zap.Int("orphaned_photos", len(photos.OrphanedFiles)),
	)
	return &DeletedPerson{Person: *snapshot, OrphanedFiles: photos.OrphanedFiles}, nil
}

// ============================================================================
// Relationships
// ============================================================================

// pairRows checks the row count of a statement that matched both endpoints
func pairRows(op, fromID, toID string, records []*neo4j.Record) error {
	switch {
	case len(records) == 0:
		return apperrors.NewMissingParticipant(fromID, toID)
	case len(records) > 1:
		return apperrors.NewAmbiguousMatch(op, len(records))
	}
	return nil
}

// AddRelation creates an edge of relType from fromID to toID. PARENT edges
// point from parent to child and are merged, so repeating the call is a no-op.
func (w *PersonWriter) AddRelation(ctx context.Context, fromID, toID string, relType RelType) error {
	if fromID == "" || toID == "" {
		return apperrors.NewMissingParticipant(fromID, toID)
	}
	if fromID == toID {
		return apperrors.NewCircularRelation(fromID)
	}

	switch relType {
	case RelParent:
		records, err := w.run(ctx, `
			MATCH (a:Person {id: $from}), (b:Person {id: $to})
			MERGE (a)-[:PARENT]->(b)
			RETURN a.id AS from
		`, map[string]any{"from": fromID, "to": toID})
		if err != nil {
			return err
		}
		return pairRows("add parent relation", fromID, toID, records)
	case RelPartner:
		_, err := w.AddPartnerRelation(ctx, fromID, toID)
		return err
	}
	return apperrors.NewInvalidArgument("relationship type", fmt.Sprintf("%s cannot be written", relType))
}

// DelRelation removes edges between fromID and toID. A nil relType removes
// every person-to-person edge between the pair in either direction.
func (w *PersonWriter) DelRelation(ctx context.Context, fromID, toID string, relType *RelType) (int64, error) {
	pattern := fmt.Sprintf("(a)-[r:%s]-(b)", cypherRelTypes(personRelTypes...))
	if relType != nil {
		switch *relType {
		case RelParent:
			pattern = "(a)-[r:PARENT]->(b)"
		case RelPartner:
			pattern = "(a)-[r:PARTNER]-(b)"
		default:
			return 0, apperrors.NewInvalidArgument("relationship type", fmt.Sprintf("%s cannot be removed", *relType))
		}
	}

	records, err := w.run(ctx, fmt.Sprintf(`
		MATCH (a:Person {id: $from}), (b:Person {id: $to})
		OPTIONAL MATCH %s
		WITH a, b, collect(DISTINCT r) AS found
		FOREACH (r IN found | DELETE r)
		RETURN size(found) AS removed
	`, pattern), map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return 0, err
	}
	if err := pairRows("remove relation", fromID, toID, records); err != nil {
		return 0, err
	}
	return getInt64FromRecord(records[0], "removed"), nil
}

// AddPartnerRelation links a and b as partners unless a PARTNER edge already
// exists between them in either direction. The check and the create are one
// statement. It returns nil when nothing was created.
func (w *PersonWriter) AddPartnerRelation(ctx context.Context, a, b string) (*PartnerRelationship, error) {
	if a == "" || b == "" {
		return nil, apperrors.NewMissingParticipant(a, b)
	}
	if a == b {
		return nil, apperrors.NewCircularRelation(a)
	}

	records, err := w.run(ctx, `
		MATCH (a:Person {id: $a}), (b:Person {id: $b})
		WITH a, b, EXISTS { (a)-[:PARTNER]-(b) } AS existed
		MERGE (a)-[:PARTNER]-(b)
		RETURN existed
	`, map[string]any{"a": a, "b": b})
	if err != nil {
		return nil, err
	}
	if err := pairRows("add partner relation", a, b, records); err != nil {
		return nil, err
	}
	if getBoolFromRecord(records[0], "existed") {
		return nil, nil
	}
	rel := ToPartnerRelationship(a, b)
	return &rel, nil
}

// DelPartnerRelation removes the PARTNER edge between a and b and returns how many were removed
func (w *PersonWriter) DelPartnerRelation(ctx context.Context, a, b string) (int64, error) {
	rt := RelPartner
	return w.DelRelation(ctx, a, b, &rt)
}

// ============================================================================
// Photos
// ============================================================================

// AddPhotos creates one Photo node and IN_PHOTO edge per item
func (w *PersonWriter) AddPhotos(ctx context.Context, personID string, items []PhotoData) ([]Photo, error) {
	if len(items) == 0 {
		return []Photo{}, nil
	}

	created := nowMillis()
	batch := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if !ValidFilename(item.Filename) {
			return nil, apperrors.NewInvalidArgument("filename", fmt.Sprintf("%q is not a valid file key", item.Filename))
		}
		props := map[string]any{
			"id":       uuid.NewString(),
			"hash":     item.Hash,
			"filename": item.Filename,
			"created":  created,
		}
		if item.Taken != nil {
			props["taken"] = item.Taken.UnixMilli()
		}
		batch = append(batch, props)
	}

	records, err := w.run(ctx, `
		MATCH (p:Person {id: $personId})
		UNWIND $photos AS item
		CREATE (p)-[:IN_PHOTO]->(ph:Photo)
		SET ph = item
		RETURN ph
	`, map[string]any{"personId": personID, "photos": batch})
	if err != nil {
		return nil, err
	}
	switch {
	case len(records) == 0:
		return nil, apperrors.NewNotFound("person", personID)
	case len(records) > len(items):
		return nil, apperrors.NewAmbiguousMatch("add photos", len(records)/len(items))
	}

	photos := make([]Photo, 0, len(records))
	for _, record := range records {
		if node, ok := getNodeFromRecord(record, "ph"); ok {
			photos = append(photos, photoFromProps(node.Props))
		}
	}
	return photos, nil
}

// LinkPhoto attaches an existing photo to another person
func (w *PersonWriter) LinkPhoto(ctx context.Context, personID, photoID string) error {
	records, err := w.run(ctx, `
		MATCH (p:Person {id: $personId}), (ph:Photo {id: $photoId})
		MERGE (p)-[:IN_PHOTO]->(ph)
		RETURN p.id AS personId
	`, map[string]any{"personId": personID, "photoId": photoID})
	if err != nil {
		return err
	}
	return pairRows("link photo", personID, photoID, records)
}

// DeletePhotos detaches the selected photos from personID. A photo node is
// removed in the same statement once no IN_PHOTO edge references it.
func (w *PersonWriter) DeletePhotos(ctx context.Context, personID string, sel PhotoSelection) (*DeletedPhotos, error) {
	ids := sel.IDs
	if ids == nil {
		ids = []string{}
	}
	records, err := w.run(ctx, `
		MATCH (:Person {id: $personId})-[e:IN_PHOTO]->(ph:Photo)
		WHERE $all OR ph.id IN $ids
		DELETE e
		WITH DISTINCT ph
		WITH ph, ph.id AS photoId, ph.filename AS filename,
			EXISTS { (ph)<-[:IN_PHOTO]-(:Person) } AS referenced
		FOREACH (_ IN CASE WHEN referenced THEN [] ELSE [1] END | DELETE ph)
		RETURN photoId, CASE WHEN referenced THEN null ELSE filename END AS orphanedFile
	`, map[string]any{"personId": personID, "all": sel.All, "ids": ids})
	if err != nil {
		return nil, err
	}

	deleted := &DeletedPhotos{IDs: []string{}, OrphanedFiles: []string{}}
	for _, record := range records {
		deleted.IDs = append(deleted.IDs, getStringFromRecord(record, "photoId"))
		if file := getStringFromRecord(record, "orphanedFile"); file != "" {
			deleted.OrphanedFiles = append(deleted.OrphanedFiles, file)
		}
	}
	return deleted, nil
}
