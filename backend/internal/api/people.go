package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seimmuc/family-tree/backend/internal/constants"
	"github.com/seimmuc/family-tree/backend/internal/family"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// personIDParam returns the :id path parameter. Anything that is not a
// UUID cannot name a person, so it is reported as not found.
func personIDParam(c *gin.Context, name string) (string, error) {
	id := c.Param(name)
	if validate.Var(id, "uuid4") != nil {
		return "", apperrors.NewNotFound("person", id)
	}
	return id, nil
}

func hopsQuery(c *gin.Context, def int) (int, error) {
	raw, ok := c.GetQuery("hops")
	if !ok {
		return def, nil
	}
	return graph.ParseHops(raw)
}

// applyRelatives links and unlinks relatives of personID inside the caller's transaction
func applyRelatives(ctx context.Context, w *graph.PersonWriter, personID string, rc RelativesChange) error {
	parent := graph.RelParent
	if rc.Parents != nil {
		for _, id := range rc.Parents.Added {
			if err := w.AddRelation(ctx, id, personID, graph.RelParent); err != nil {
				return err
			}
		}
		for _, id := range rc.Parents.Removed {
			if _, err := w.DelRelation(ctx, id, personID, &parent); err != nil {
				return err
			}
		}
	}
	if rc.Children != nil {
		for _, id := range rc.Children.Added {
			if err := w.AddRelation(ctx, personID, id, graph.RelParent); err != nil {
				return err
			}
		}
		for _, id := range rc.Children.Removed {
			if _, err := w.DelRelation(ctx, personID, id, &parent); err != nil {
				return err
			}
		}
	}
	if rc.Partners != nil {
		for _, id := range rc.Partners.Added {
			if _, err := w.AddPartnerRelation(ctx, personID, id); err != nil {
				return err
			}
		}
		for _, id := range rc.Partners.Removed {
			if _, err := w.DelPartnerRelation(ctx, personID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// GET /api/people?limit&skip
func (s *Server) listPeople(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, apperrors.NewInvalidArgument("query", err.Error()))
		return
	}
	if err := validate.Struct(q); err != nil {
		s.respondError(c, validationError(err))
		return
	}

	var (
		people []graph.Person
		total  int64
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		people, err = graph.ReadTx(ctx, s.conn, "list people", func(tx neo4j.ManagedTransaction) ([]graph.Person, error) {
			return graph.NewPersonReader(tx).GetPage(ctx, q.Limit, q.Skip)
		})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = graph.ReadTx(ctx, s.conn, "count people", func(tx neo4j.ManagedTransaction) (int64, error) {
			return graph.NewPersonReader(tx).CountAll(ctx)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"people": people, "totalCount": total})
}

// POST /api/search
func (s *Server) searchPeople(c *gin.Context) {
	var req searchRequest
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		badRequest(c, err)
		return
	}
	req.normalize()
	if err := validate.Struct(req); err != nil {
		s.respondError(c, validationError(err))
		return
	}

	ctx := c.Request.Context()
	people, err := graph.ReadTx(ctx, s.conn, "search people", func(tx neo4j.ManagedTransaction) ([]graph.Person, error) {
		return graph.NewPersonReader(tx).FindByName(ctx, req.NameQuery, req.NameComplete)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": people})
}

// POST /api/people
func (s *Server) createPerson(c *gin.Context) {
	payload, err := parsePersonPayload(c.Request.Body, "", true)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	person, err := graph.WriteTx(ctx, s.conn, "create person", func(tx neo4j.ManagedTransaction) (*graph.Person, error) {
		w := graph.NewPersonWriter(tx)
		p, err := w.AddPerson(ctx, payload.Person.data())
		if err != nil {
			return nil, err
		}
		if err := applyRelatives(ctx, w, p.ID, payload.Relatives); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Info("Person created", zap.String("person_id", person.ID))
	c.JSON(http.StatusCreated, gin.H{"person": person})
}

// GET /api/people/:id
func (s *Server) getPerson(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	type details struct {
		person *graph.Person
		photos []graph.Photo
	}
	ctx := c.Request.Context()
	res, err := graph.ReadTx(ctx, s.conn, "get person", func(tx neo4j.ManagedTransaction) (details, error) {
		r := graph.NewPersonReader(tx)
		p, err := r.FindByID(ctx, id)
		if err != nil || p == nil {
			return details{}, err
		}
		photos, err := r.GetPersonPhotos(ctx, id)
		return details{person: p, photos: photos}, err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if res.person == nil {
		s.respondError(c, apperrors.NewNotFound("person", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"person": res.person, "photos": res.photos})
}

// PATCH /api/people/:id
func (s *Server) patchPerson(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	payload, err := parsePersonPayload(c.Request.Body, id, false)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	person, err := graph.WriteTx(ctx, s.conn, "update person", func(tx neo4j.ManagedTransaction) (*graph.Person, error) {
		w := graph.NewPersonWriter(tx)
		p, err := w.UpdatePerson(ctx, payload.Person.update(id), true)
		if err != nil {
			return nil, err
		}
		if err := applyRelatives(ctx, w, id, payload.Relatives); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"person": person})
}

// PUT /api/people/:id replaces every editable field; the portrait is kept
func (s *Server) replacePerson(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	payload, err := parsePersonPayload(c.Request.Body, id, true)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	person, err := graph.WriteTx(ctx, s.conn, "replace person", func(tx neo4j.ManagedTransaction) (*graph.Person, error) {
		w := graph.NewPersonWriter(tx)
		existing, err := w.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperrors.NewNotFound("person", id)
		}
		update := payload.Person.update(id)
		update.Portrait = graph.Set(existing.Portrait)
		p, err := w.UpdatePerson(ctx, update, false)
		if err != nil {
			return nil, err
		}
		if err := applyRelatives(ctx, w, id, payload.Relatives); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"person": person})
}

// DELETE /api/people/:id
func (s *Server) deletePerson(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	deleted, err := graph.WriteTx(ctx, s.conn, "delete person", func(tx neo4j.ManagedTransaction) (*graph.DeletedPerson, error) {
		return graph.NewPersonWriter(tx).DeletePerson(ctx, id)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if deleted == nil {
		s.respondError(c, apperrors.NewNotFound("person", id))
		return
	}

	s.media.DeleteBestEffort(append([]string{deleted.Person.Portrait}, deleted.OrphanedFiles...)...)
	s.logger.Info("Person deleted",
		zap.String("person_id", id),
		zap.Int("orphaned_files", len(deleted.OrphanedFiles)),
	)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted.Person})
}

// GET /api/people/:id/relations?hops
func (s *Server) personRelations(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	hops, err := hopsQuery(c, constants.DefaultRelationHops)
	if err != nil {
		s.respondError(c, err)
		return
	}

	type closure struct {
		people []graph.Person
		rels   []graph.Relationship
	}
	ctx := c.Request.Context()
	res, err := graph.ReadTx(ctx, s.conn, "person relations", func(tx neo4j.ManagedTransaction) (closure, error) {
		people, rels, err := graph.NewPersonReader(tx).FindPersonWithRelations(ctx, id, hops)
		return closure{people: people, rels: rels}, err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(res.people) == 0 {
		s.respondError(c, apperrors.NewNotFound("person", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"people":        res.people,
		"relationships": wireRelationships(res.rels),
		"hops":          hops,
	})
}

// GET /api/tree/:id?hops shows a person, their main partner and the family
// around both of them
func (s *Server) tree(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	hops, err := hopsQuery(c, constants.DefaultTreeHops)
	if err != nil {
		s.respondError(c, err)
		return
	}

	type treeData struct {
		focusIDs []string
		people   []graph.Person
		rels     []graph.Relationship
	}
	ctx := c.Request.Context()
	res, err := graph.ReadTx(ctx, s.conn, "family tree", func(tx neo4j.ManagedTransaction) (treeData, error) {
		r := graph.NewPersonReader(tx)
		focus, err := r.FindByID(ctx, id)
		if err != nil {
			return treeData{}, err
		}
		if focus == nil {
			return treeData{}, apperrors.NewNotFound("person", id)
		}
		focusIDs := []string{focus.ID}
		partner, err := r.FindMainPartner(ctx, focus.ID)
		if err != nil {
			return treeData{}, err
		}
		if partner != nil {
			focusIDs = append(focusIDs, partner.ID)
		}
		people, rels, err := r.FindFamily(ctx, focusIDs, hops)
		return treeData{focusIDs: focusIDs, people: people, rels: rels}, err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"focusPeopleIds": res.focusIDs,
		"family":         family.Derive(res.people, res.rels, res.focusIDs),
		"parentsOf":      family.ParentsOf(res.rels),
		"people":         res.people,
		"relationships":  wireRelationships(res.rels),
	})
}

func wireRelationships(rels []graph.Relationship) []graph.WireRelationship {
	out := make([]graph.WireRelationship, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.Wire())
	}
	return out
}

// relationshipBody reads one relationship in its wire form
func relationshipBody(c *gin.Context) (graph.Relationship, error) {
	var wire graph.WireRelationship
	if err := decodeStrict(c.Request.Body, &wire); err != nil {
		return nil, err
	}
	rel, err := graph.FromWire(wire)
	if err != nil {
		return nil, err
	}
	for _, ids := range wire.Participants {
		for _, id := range ids {
			if validate.Var(id, "uuid4") != nil {
				return nil, apperrors.NewInvalidArgument("participants", fmt.Sprintf("%q is not a person id", id))
			}
		}
	}
	if r, ok := rel.(graph.ParentRelationship); ok && r.Parent == r.Child {
		return nil, apperrors.NewCircularRelation(r.Parent)
	}
	return rel, nil
}

// POST /api/relationships links two existing people
func (s *Server) addRelationship(c *gin.Context) {
	rel, err := relationshipBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	created, err := graph.WriteTx(ctx, s.conn, "add relationship", func(tx neo4j.ManagedTransaction) (bool, error) {
		w := graph.NewPersonWriter(tx)
		switch r := rel.(type) {
		case graph.ParentRelationship:
			return true, w.AddRelation(ctx, r.Parent, r.Child, graph.RelParent)
		case graph.PartnerRelationship:
			p, err := w.AddPartnerRelation(ctx, r.Partners[0], r.Partners[1])
			return p != nil, err
		}
		return false, apperrors.NewInvalidArgument("relationship", "unsupported relationship")
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel, "created": created})
}

// DELETE /api/relationships unlinks two people
func (s *Server) removeRelationship(c *gin.Context) {
	rel, err := relationshipBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	removed, err := graph.WriteTx(ctx, s.conn, "remove relationship", func(tx neo4j.ManagedTransaction) (int64, error) {
		w := graph.NewPersonWriter(tx)
		switch r := rel.(type) {
		case graph.ParentRelationship:
			parent := graph.RelParent
			return w.DelRelation(ctx, r.Parent, r.Child, &parent)
		case graph.PartnerRelationship:
			return w.DelPartnerRelation(ctx, r.Partners[0], r.Partners[1])
		}
		return 0, apperrors.NewInvalidArgument("relationship", "unsupported relationship")
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
