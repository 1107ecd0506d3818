// Pure impact math: per-tick structure damage and casualty fractions.
// The engine spreads a disaster's total damage evenly over its impact
// duration, so one tick applies tickFraction = tickSeconds / durationSeconds
// of the total.
package disaster

// Total health damage a disaster deals to an unprotected structure over the
// whole impact, at severity 100.
const fullImpactDamage = 40.0

// StructureDamage returns the health loss for one impact tick.
// resistance in [0, 1] comes from structure-level protection (shelters raise
// the settlement's disaster_resistance modifier).
func StructureDamage(severity, tickFraction, resistance float64) float64 {
	if resistance < 0 {
		resistance = 0
	}
	if resistance > 0.9 {
		resistance = 0.9
	}
	d := severity / 100.0 * fullImpactDamage * tickFraction * (1 - resistance)
	if d < 0 {
		return 0
	}
	return d
}

// CasualtyFraction returns the share of population lost in one impact tick.
// Shelter coverage, happiness buffers, and accumulated resilience all reduce
// losses.
func CasualtyFraction(level SeverityLevel, tickFraction, shelterReduction float64, happiness, resilience int) float64 {
	if shelterReduction < 0 {
		shelterReduction = 0
	}
	if shelterReduction > 0.9 {
		shelterReduction = 0.9
	}
	f := level.Impact() * tickFraction *
		(1 - shelterReduction) *
		(1 - float64(happiness)/400.0) *
		(1 - float64(resilience)/200.0)
	if f < 0 {
		return 0
	}
	return f
}

// ResilienceGain is the score a settlement earns by surviving a disaster of
// the given band.
func ResilienceGain(level SeverityLevel) int {
	switch level {
	case SeverityCatastrophic:
		return 15
	case SeverityMajor:
		return 10
	case SeverityModerate:
		return 5
	default:
		return 2
	}
}
