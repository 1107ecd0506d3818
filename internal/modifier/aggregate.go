// Settlement-level aggregation. Recompute rebuilds every modifier aggregate
// for a settlement from its current structures; the result replaces the
// cached SettlementModifier rows in one write.
package modifier

import (
	"sort"
	"time"

	"github.com/havenworlds/haven-server/internal/settlement"
)

// healthActive is the threshold under which a structure stops contributing
// its modifiers. Matches the bottom effectiveness breakpoint: a structure at
// <1 health is out of service.
const healthActive = 1.0

// Aggregate computes all settlement modifiers from the given structures.
// Structures below the health threshold contribute nothing. Output is sorted
// by modifier type for deterministic persistence and events.
func Aggregate(settlementID string, structures []*settlement.Structure, now time.Time) []*settlement.Modifier {
	byType := make(map[settlement.ModifierType]*settlement.Modifier)

	for _, s := range structures {
		if s.Health < healthActive {
			continue
		}
		for _, rule := range RulesFor(s.Subtype) {
			agg, ok := byType[rule.Modifier]
			if !ok {
				agg = &settlement.Modifier{
					SettlementID:     settlementID,
					Type:             rule.Modifier,
					LastCalculatedAt: now,
				}
				byType[rule.Modifier] = agg
			}
			value := rule.Value(s.Level)
			agg.TotalValue += value
			agg.SourceCount++
			agg.Contributions = append(agg.Contributions, settlement.Contribution{
				StructureID: s.ID,
				Subtype:     s.Subtype,
				Level:       s.Level,
				Value:       value,
			})
		}
	}

	out := make([]*settlement.Modifier, 0, len(byType))
	for _, m := range byType {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Value returns the aggregate for one type from a recomputed set, or 0.
func Value(mods []*settlement.Modifier, t settlement.ModifierType) float64 {
	for _, m := range mods {
		if m.Type == t {
			return m.TotalValue
		}
	}
	return 0
}
