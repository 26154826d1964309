package family

import (
	"context"

	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// DemoMember is one person of the demo family. Parents and Partners name
// members listed earlier.
type DemoMember struct {
	Name     string
	Gender   string
	Parents  []string
	Partners []string
}

// Gods is the demo family used to try out the tree views
var Gods = []DemoMember{
	{Name: "Hades", Gender: "male"},
	{Name: "Cronus", Gender: "male"},
	{Name: "Rhea", Gender: "female", Partners: []string{"Cronus"}},
	{Name: "Hera", Gender: "female", Parents: []string{"Rhea", "Cronus"}},
	{Name: "Poseidon", Gender: "male", Parents: []string{"Rhea", "Cronus"}},
	{Name: "Zeus", Gender: "male", Parents: []string{"Rhea", "Cronus"}},
	{Name: "Persephone", Gender: "female", Parents: []string{"Zeus"}},
	{Name: "Ares", Gender: "male", Parents: []string{"Hera", "Zeus"}},
	{Name: "Aphrodite", Gender: "female", Parents: []string{"Zeus"}, Partners: []string{"Ares"}},
	{Name: "Eros", Gender: "male", Parents: []string{"Ares", "Aphrodite"}},
	{Name: "Phobos", Gender: "male", Parents: []string{"Ares", "Aphrodite"}},
	{Name: "Maia", Gender: "female"},
	{Name: "Hermes", Gender: "male", Parents: []string{"Maia", "Zeus"}},
	{Name: "Rhodos", Gender: "female", Parents: []string{"Poseidon", "Aphrodite"}},
	{Name: "Hermaphroditus", Gender: "nb", Parents: []string{"Hermes", "Aphrodite"}},
	{Name: "Helios", Gender: "male"},
	{Name: "Ochimus", Gender: "male", Parents: []string{"Rhodos", "Helios"}},
}

// SeedResult reports what SeedDemo changed
type SeedResult struct {
	Deleted int
	Added   int
	// IDs maps member names to their new person ids
	IDs map[string]string
	// OrphanedFiles are blob keys of deleted people and photos
	OrphanedFiles []string
}

// SeedDemo replaces every person named like a member of members with a
// fresh copy of the demo family. Run it inside one write transaction.
func SeedDemo(ctx context.Context, w *graph.PersonWriter, members []DemoMember) (*SeedResult, error) {
	log := logger.Get()
	res := &SeedResult{IDs: make(map[string]string, len(members)), OrphanedFiles: []string{}}

	for _, m := range members {
		existing, err := w.FindByName(ctx, m.Name, true)
		if err != nil {
			return nil, err
		}
		for _, p := range existing {
			deleted, err := w.DeletePerson(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			if deleted == nil {
				continue
			}
			res.Deleted++
			if deleted.Person.Portrait != "" {
				res.OrphanedFiles = append(res.OrphanedFiles, deleted.Person.Portrait)
			}
			res.OrphanedFiles = append(res.OrphanedFiles, deleted.OrphanedFiles...)
		}
	}

	for _, m := range members {
		p, err := w.AddPerson(ctx, graph.PersonData{Name: m.Name, Gender: m.Gender})
		if err != nil {
			return nil, err
		}
		res.IDs[m.Name] = p.ID
		res.Added++

		for _, parent := range m.Parents {
			if err := w.AddRelation(ctx, res.IDs[parent], p.ID, graph.RelParent); err != nil {
				return nil, err
			}
		}
		for _, partner := range m.Partners {
			if _, err := w.AddPartnerRelation(ctx, p.ID, res.IDs[partner]); err != nil {
				return nil, err
			}
		}
	}

	log.Info("Demo family seeded", zap.Int("deleted", res.Deleted), zap.Int("added", res.Added))
	return res, nil
}
