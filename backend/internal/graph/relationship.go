package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// RelType is the closed set of edge labels allowed between two Person nodes.
// Only these constants are ever formatted into query text.
type RelType string

const (
	RelParent  RelType = "PARENT"
	RelPartner RelType = "PARTNER"
	// RelSibling is reserved. No write path creates it and nothing derives from it.
	RelSibling RelType = "SIBLING"
)

// personRelTypes is every label a closure traversal may walk. SIBLING has no
// derivation, so it is left out.
var personRelTypes = []RelType{RelParent, RelPartner}

// ParseRelType maps caller input onto the closed set
func ParseRelType(s string) (RelType, error) {
	switch RelType(strings.ToUpper(strings.TrimSpace(s))) {
	case RelParent:
		return RelParent, nil
	case RelPartner:
		return RelPartner, nil
	case RelSibling:
		return RelSibling, nil
	}
	return "", apperrors.NewInvalidArgument("relationship type", fmt.Sprintf("unknown type %q", s))
}

func cypherRelTypes(types ...RelType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

// Wire kinds and participant roles
const (
	KindParent  = "parent"
	KindPartner = "partner"

	RoleParent  = "parent"
	RoleChild   = "child"
	RolePartner = "partner"
)

// WireRelationship is the participant-based representation sent to clients
type WireRelationship struct {
	RelType      string              `json:"relType"`
	Participants map[string][]string `json:"participants"`
}

// Relationship is a domain relationship between people. The set of
// implementations is closed: ParentRelationship and PartnerRelationship.
type Relationship interface {
	Wire() WireRelationship
	isRelationship()
}

// ParentRelationship is a directed PARENT edge
type ParentRelationship struct {
	Parent string
	Child  string
}

// PartnerRelationship is an undirected PARTNER edge between exactly two people
type PartnerRelationship struct {
	Partners []string
}

func (ParentRelationship) isRelationship()  {}
func (PartnerRelationship) isRelationship() {}

// ToParentRelationship builds the relationship where parentID is the parent of childID
func ToParentRelationship(parentID, childID string) ParentRelationship {
	return ParentRelationship{Parent: parentID, Child: childID}
}

// ToPartnerRelationship builds a partnership between ids
func ToPartnerRelationship(ids ...string) PartnerRelationship {
	return PartnerRelationship{Partners: append([]string(nil), ids...)}
}

func (r ParentRelationship) Wire() WireRelationship {
	return WireRelationship{
		RelType: KindParent,
		Participants: map[string][]string{
			RoleParent: {r.Parent},
			RoleChild:  {r.Child},
		},
	}
}

func (r PartnerRelationship) Wire() WireRelationship {
	return WireRelationship{
		RelType:      KindPartner,
		Participants: map[string][]string{RolePartner: append([]string(nil), r.Partners...)},
	}
}

func (r ParentRelationship) MarshalJSON() ([]byte, error)  { return json.Marshal(r.Wire()) }
func (r PartnerRelationship) MarshalJSON() ([]byte, error) { return json.Marshal(r.Wire()) }

// FromWire parses a wire relationship back into its domain form
func FromWire(w WireRelationship) (Relationship, error) {
	switch w.RelType {
	case KindParent:
		parents, children := w.Participants[RoleParent], w.Participants[RoleChild]
		if len(parents) != 1 || len(children) != 1 {
			return nil, apperrors.NewInvalidArgument("relationship", "parent relationship needs one parent and one child")
		}
		return ToParentRelationship(parents[0], children[0]), nil
	case KindPartner:
		partners := w.Participants[RolePartner]
		if len(partners) != 2 || partners[0] == partners[1] {
			return nil, apperrors.NewInvalidArgument("relationship", "partner relationship needs two distinct partners")
		}
		return ToPartnerRelationship(partners...), nil
	}
	return nil, apperrors.NewInvalidArgument("relationship", fmt.Sprintf("unknown relType %q", w.RelType))
}

// rawEdge is a relationship as the driver returned it, keyed by element ids.
// Element ids are only stable within one query and never leave this package.
type rawEdge struct {
	ElementID string
	Type      string
	StartID   string
	EndID     string
}

func edgeFromDriver(r neo4j.Relationship) rawEdge {
	return rawEdge{
		ElementID: r.ElementId,
		Type:      r.Type,
		StartID:   r.StartElementId,
		EndID:     r.EndElementId,
	}
}

// fromEdge converts e using lookup (element id to person id). It returns false
// when an endpoint lies outside lookup or the edge type has no derivation.
func fromEdge(e rawEdge, lookup map[string]string) (Relationship, bool) {
	start, ok := lookup[e.StartID]
	if !ok {
		return nil, false
	}
	end, ok := lookup[e.EndID]
	if !ok {
		return nil, false
	}
	switch RelType(e.Type) {
	case RelParent:
		return ToParentRelationship(start, end), true
	case RelPartner:
		return ToPartnerRelationship(start, end), true
	}
	return nil, false
}
