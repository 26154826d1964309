// Package family derives display-ready family structures from a traversal
// result. Everything here is pure: the same input always yields the same
// output and nothing is cached between calls.
package family

import (
	"sort"

	"github.com/facette/natsort"

	"github.com/seimmuc/family-tree/backend/internal/graph"
)

// View is the family around one or two focus people
type View struct {
	Focus    []graph.Person `json:"focus"`
	Partners []graph.Person `json:"partners"`
	// Parents is keyed by focus id
	Parents map[string][]graph.Person `json:"parents"`
	// SharedChildren have every focus person as a parent
	SharedChildren []graph.Person `json:"sharedChildren"`
	// IndividualChildren is keyed by the focus id that is the child's parent
	IndividualChildren map[string][]graph.Person `json:"individualChildren"`
}

// Derive builds the View for focusIDs from people and relationships.
// Relationships naming people outside the people list are ignored.
func Derive(people []graph.Person, relationships []graph.Relationship, focusIDs []string) View {
	byID := make(map[string]graph.Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	focus := make(map[string]struct{}, len(focusIDs))
	for _, id := range focusIDs {
		focus[id] = struct{}{}
	}

	view := View{
		Focus:              []graph.Person{},
		Partners:           []graph.Person{},
		Parents:            map[string][]graph.Person{},
		SharedChildren:     []graph.Person{},
		IndividualChildren: map[string][]graph.Person{},
	}
	for _, id := range focusIDs {
		if p, ok := byID[id]; ok {
			view.Focus = appendUnique(view.Focus, p)
		}
	}

	partners := map[string]struct{}{}
	// focusParentsOf maps each child of a focus person to its focus parents
	focusParentsOf := map[string]map[string]struct{}{}

	for _, rel := range relationships {
		switch r := rel.(type) {
		case graph.ParentRelationship:
			if _, ok := byID[r.Parent]; !ok {
				continue
			}
			if _, ok := byID[r.Child]; !ok {
				continue
			}
			if _, ok := focus[r.Child]; ok {
				view.Parents[r.Child] = appendUnique(view.Parents[r.Child], byID[r.Parent])
			}
			if _, ok := focus[r.Parent]; ok {
				if focusParentsOf[r.Child] == nil {
					focusParentsOf[r.Child] = map[string]struct{}{}
				}
				focusParentsOf[r.Child][r.Parent] = struct{}{}
			}
		case graph.PartnerRelationship:
			if !anyIn(r.Partners, focus) {
				continue
			}
			for _, id := range r.Partners {
				if _, isFocus := focus[id]; isFocus {
					continue
				}
				if _, ok := byID[id]; ok {
					partners[id] = struct{}{}
				}
			}
		}
	}

	for id := range partners {
		view.Partners = append(view.Partners, byID[id])
	}
	for childID, parents := range focusParentsOf {
		child := byID[childID]
		if len(parents) == len(focus) {
			view.SharedChildren = append(view.SharedChildren, child)
			continue
		}
		for parentID := range parents {
			view.IndividualChildren[parentID] = append(view.IndividualChildren[parentID], child)
		}
	}

	SortPeople(view.Partners)
	SortPeople(view.SharedChildren)
	for _, list := range view.Parents {
		SortPeople(list)
	}
	for _, list := range view.IndividualChildren {
		SortPeople(list)
	}
	return view
}

// ParentsOf maps every child in relationships to its parent ids, in a stable order
func ParentsOf(relationships []graph.Relationship) map[string][]string {
	out := map[string][]string{}
	for _, rel := range relationships {
		if r, ok := rel.(graph.ParentRelationship); ok {
			out[r.Child] = appendUniqueID(out[r.Child], r.Parent)
		}
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// SortPeople orders people by natural name order ("Louis 9" before
// "Louis 14"), then by id
func SortPeople(people []graph.Person) {
	sort.SliceStable(people, func(i, j int) bool {
		a, b := people[i], people[j]
		if a.Name != b.Name {
			return natsort.Compare(a.Name, b.Name)
		}
		return a.ID < b.ID
	})
}

func anyIn(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func appendUnique(list []graph.Person, p graph.Person) []graph.Person {
	for _, existing := range list {
		if existing.ID == p.ID {
			return list
		}
	}
	return append(list, p)
}

func appendUniqueID(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
