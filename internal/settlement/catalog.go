// Structure definition catalog. Seeded into the store at migrate time and
// served (cached) through the metadata endpoint. Costs are base values; the
// queue applies emergency and workshop multipliers on top.
package settlement

import "github.com/havenworlds/haven-server/internal/world"

var catalog = []Definition{
	{
		Subtype: SubtypeTownHall, Name: "Town Hall", Category: CategoryBuilding,
		Tier: 1, MaxLevel: 10, ConstructionSecs: 60, PopulationReq: 0, AreaCost: 4, Unique: true,
		Requirements: []Requirement{{world.ResourceWood, 30}, {world.ResourceStone, 20}},
	},
	{
		Subtype: SubtypeHouse, Name: "House", Category: CategoryBuilding,
		Tier: 1, MaxLevel: 5, ConstructionSecs: 90, PopulationReq: 0, AreaCost: 2,
		Requirements: []Requirement{{world.ResourceWood, 40}, {world.ResourceStone, 10}},
	},
	{
		Subtype: SubtypeFarm, Name: "Farm", Category: CategoryExtractor, Extracts: world.ResourceFood,
		Tier: 1, MaxLevel: 10, ConstructionSecs: 120, PopulationReq: 2,
		Requirements: []Requirement{{world.ResourceWood, 25}, {world.ResourceStone, 5}},
	},
	{
		Subtype: SubtypeWell, Name: "Well", Category: CategoryExtractor, Extracts: world.ResourceWater,
		Tier: 1, MaxLevel: 10, ConstructionSecs: 100, PopulationReq: 1,
		Requirements: []Requirement{{world.ResourceWood, 10}, {world.ResourceStone, 25}},
	},
	{
		Subtype: SubtypeLumberCamp, Name: "Lumber Camp", Category: CategoryExtractor, Extracts: world.ResourceWood,
		Tier: 1, MaxLevel: 10, ConstructionSecs: 120, PopulationReq: 2,
		Requirements: []Requirement{{world.ResourceWood, 15}, {world.ResourceStone, 10}},
	},
	{
		Subtype: SubtypeQuarry, Name: "Quarry", Category: CategoryExtractor, Extracts: world.ResourceStone,
		Tier: 2, MaxLevel: 10, ConstructionSecs: 180, PopulationReq: 3, MinTownHallLevel: 2,
		Requirements: []Requirement{{world.ResourceWood, 40}, {world.ResourceStone, 15}},
	},
	{
		Subtype: SubtypeMine, Name: "Mine", Category: CategoryExtractor, Extracts: world.ResourceOre,
		Tier: 2, MaxLevel: 10, ConstructionSecs: 240, PopulationReq: 4, MinTownHallLevel: 3,
		Requirements:  []Requirement{{world.ResourceWood, 60}, {world.ResourceStone, 40}},
		Prerequisites: []Prerequisite{{SubtypeQuarry, 2}},
	},
	{
		Subtype: SubtypeStorehouse, Name: "Storehouse", Category: CategoryBuilding,
		Tier: 1, MaxLevel: 8, ConstructionSecs: 150, PopulationReq: 1, AreaCost: 3,
		Requirements: []Requirement{{world.ResourceWood, 50}, {world.ResourceStone, 20}},
	},
	{
		Subtype: SubtypeWorkshop, Name: "Workshop", Category: CategoryBuilding,
		Tier: 2, MaxLevel: 5, ConstructionSecs: 200, PopulationReq: 2, AreaCost: 3, Unique: true, MinTownHallLevel: 2,
		Requirements:  []Requirement{{world.ResourceWood, 70}, {world.ResourceStone, 40}, {world.ResourceOre, 10}},
		Prerequisites: []Prerequisite{{SubtypeStorehouse, 1}},
	},
	{
		Subtype: SubtypeShelter, Name: "Shelter", Category: CategoryBuilding,
		Tier: 2, MaxLevel: 5, ConstructionSecs: 180, PopulationReq: 0, AreaCost: 2, MinTownHallLevel: 2,
		Requirements: []Requirement{{world.ResourceWood, 30}, {world.ResourceStone, 60}},
	},
	{
		Subtype: SubtypeWatchtower, Name: "Watchtower", Category: CategoryBuilding,
		Tier: 2, MaxLevel: 5, ConstructionSecs: 160, PopulationReq: 1, AreaCost: 1, Unique: true, MinTownHallLevel: 2,
		Requirements: []Requirement{{world.ResourceWood, 45}, {world.ResourceStone, 30}},
	},
	{
		Subtype: SubtypeTavern, Name: "Tavern", Category: CategoryBuilding,
		Tier: 3, MaxLevel: 5, ConstructionSecs: 240, PopulationReq: 2, AreaCost: 3, Unique: true, MinTownHallLevel: 4,
		Requirements:  []Requirement{{world.ResourceWood, 80}, {world.ResourceStone, 50}, {world.ResourceOre, 20}},
		Prerequisites: []Prerequisite{{SubtypeHouse, 3}},
	},
}

// Catalog returns all structure definitions.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// DefinitionFor looks up a definition by subtype.
func DefinitionFor(sub Subtype) (Definition, bool) {
	for _, d := range catalog {
		if d.Subtype == sub {
			return d, true
		}
	}
	return Definition{}, false
}

// BaseCost returns the base build cost as a resource map.
func (d Definition) BaseCost() map[world.Resource]int {
	cost := make(map[world.Resource]int, len(d.Requirements))
	for _, r := range d.Requirements {
		cost[r.Resource] = r.Quantity
	}
	return cost
}
