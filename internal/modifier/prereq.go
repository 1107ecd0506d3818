// Prerequisite validation: a pure check of a definition's demands against a
// settlement's existing structures.
package modifier

import "github.com/havenworlds/haven-server/internal/settlement"

// MissingPrereq describes one unsatisfied prerequisite.
type MissingPrereq struct {
	RequiredSubtype settlement.Subtype `json:"requiredSubtype"`
	RequiredLevel   int                `json:"requiredLevel"`
	CurrentLevel    int                `json:"currentLevel"` // 0 when absent
}

// CheckPrerequisites returns the unsatisfied prerequisites of def given the
// settlement's structures. Empty result means the build may proceed.
func CheckPrerequisites(def settlement.Definition, structures []*settlement.Structure) []MissingPrereq {
	var missing []MissingPrereq

	for _, p := range def.Prerequisites {
		best := 0
		for _, s := range structures {
			if s.Subtype == p.RequiredSubtype && s.Level > best {
				best = s.Level
			}
		}
		if best < p.RequiredLevel {
			missing = append(missing, MissingPrereq{
				RequiredSubtype: p.RequiredSubtype,
				RequiredLevel:   p.RequiredLevel,
				CurrentLevel:    best,
			})
		}
	}

	return missing
}

// TownHallLevel returns the settlement's town hall level, 0 when unbuilt.
func TownHallLevel(structures []*settlement.Structure) int {
	best := 0
	for _, s := range structures {
		if s.Subtype == settlement.SubtypeTownHall && s.Level > best {
			best = s.Level
		}
	}
	return best
}
