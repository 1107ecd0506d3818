// Package modifier computes per-structure modifier values from a single
// config-driven rule table and aggregates them into settlement-level
// modifiers with per-structure contribution records. Values are functions of
// level, never stored per level.
package modifier

import (
	"math"

	"github.com/havenworlds/haven-server/internal/settlement"
)

// FormulaKind selects how a rule scales over structure level.
type FormulaKind string

const (
	FormulaLinear      FormulaKind = "linear"      // base · level
	FormulaExponential FormulaKind = "exponential" // base · growth^(level-1)
	FormulaDiminishing FormulaKind = "diminishing" // base · (1 − decay^level) / (1 − decay)
)

// Rule binds a structure subtype to one modifier dimension.
type Rule struct {
	Subtype  settlement.Subtype
	Modifier settlement.ModifierType
	Kind     FormulaKind
	Base     float64
	Growth   float64 // Exponential only
	Decay    float64 // Diminishing only
}

// Value evaluates the rule at a level.
func (r Rule) Value(level int) float64 {
	if level < 1 {
		level = 1
	}
	switch r.Kind {
	case FormulaExponential:
		return r.Base * math.Pow(r.Growth, float64(level-1))
	case FormulaDiminishing:
		return r.Base * (1 - math.Pow(r.Decay, float64(level))) / (1 - r.Decay)
	default:
		return r.Base * float64(level)
	}
}

// rules is the versioned modifier table. One row per (subtype, modifier).
var rules = []Rule{
	{settlement.SubtypeHouse, settlement.ModPopulationCapacity, FormulaLinear, 5, 0, 0},
	{settlement.SubtypeTownHall, settlement.ModHappinessBonus, FormulaLinear, 2, 0, 0},
	{settlement.SubtypeTownHall, settlement.ModStorageCapacity, FormulaExponential, 50, 1.25, 0},
	{settlement.SubtypeStorehouse, settlement.ModStorageCapacity, FormulaLinear, 250, 0, 0},
	{settlement.SubtypeWorkshop, settlement.ModConstructionSpeed, FormulaLinear, 10, 0, 0},
	{settlement.SubtypeShelter, settlement.ModDisasterResistance, FormulaDiminishing, 10, 0, 0.7},
	{settlement.SubtypeWatchtower, settlement.ModDisasterResistance, FormulaLinear, 3, 0, 0},
	{settlement.SubtypeTavern, settlement.ModHappinessBonus, FormulaDiminishing, 6, 0, 0.6},
	{settlement.SubtypeWell, settlement.ModWaterProduction, FormulaLinear, 2, 0, 0},
	{settlement.SubtypeFarm, settlement.ModFoodProduction, FormulaLinear, 2, 0, 0},
}

// RulesFor returns the rules applying to a subtype.
func RulesFor(sub settlement.Subtype) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Subtype == sub {
			out = append(out, r)
		}
	}
	return out
}

// AllRules returns the whole table.
func AllRules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
