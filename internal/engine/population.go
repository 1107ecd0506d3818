// Hourly population dynamics: consumption, happiness, growth or emigration,
// and starvation. The tick loop calls this every tick but work only happens
// once a full hour has accrued since the last growth step.
package engine

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/disaster"
	"github.com/havenworlds/haven-server/internal/economy"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/modifier"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/settlement"
	"github.com/havenworlds/haven-server/internal/world"
)

// traumaWindow is how long after impact a disaster still depresses morale.
const traumaWindow = disaster.EmergencyRepairWindow

func traumaActive(active []*disaster.Event, now time.Time) bool {
	for _, d := range active {
		if d.InImpact() {
			return true
		}
		if d.Status == disaster.StatusAftermath && d.ImpactEndedAt != nil &&
			now.Sub(*d.ImpactEndedAt) < traumaWindow {
			return true
		}
	}
	return false
}

func (e *Engine) populationTick(ctx context.Context, st *settlement.Settlement, active []*disaster.Event) error {
	now := time.Now().UTC()

	var (
		pop        *settlement.Population
		capacity   int
		consumed   map[world.Resource]int
		shortages  []world.Resource
		growth     int
		starved    int
		growthRate float64
	)

	err := e.Store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		pop, err = persistence.PopulationBySettlement(tx, st.ID)
		if err != nil || pop == nil {
			return err
		}
		hours := int(now.Sub(pop.LastGrowthAt).Hours())
		if hours <= 0 {
			pop = nil
			return nil
		}

		storage, err := persistence.StorageBySettlement(tx, st.ID)
		if err != nil || storage == nil {
			return err
		}
		mods, err := persistence.ModifiersBySettlement(tx, st.ID)
		if err != nil {
			return err
		}

		capacity = economy.Capacity(st.Tier, modifier.Value(mods, settlement.ModPopulationCapacity))
		amenity := modifier.Value(mods, settlement.ModHappinessBonus)
		trauma := traumaActive(active, now)

		consumed = make(map[world.Resource]int)
		shortageSet := make(map[world.Resource]bool)

		for h := 0; h < hours; h++ {
			foodNeed := int(economy.Consumption(pop.Current, 1, world.ResourceFood))
			waterNeed := int(economy.Consumption(pop.Current, 1, world.ResourceWater))

			foodShort := storage.Amounts[world.ResourceFood] < foodNeed
			waterShort := storage.Amounts[world.ResourceWater] < waterNeed
			if foodShort {
				shortageSet[world.ResourceFood] = true
			}
			if waterShort {
				shortageSet[world.ResourceWater] = true
			}

			if foodShort {
				starved += economy.StarvationCasualties(storage.Amounts[world.ResourceFood], pop.Current)
			}

			foodTaken := min(foodNeed, storage.Amounts[world.ResourceFood])
			waterTaken := min(waterNeed, storage.Amounts[world.ResourceWater])
			storage.Amounts[world.ResourceFood] -= foodTaken
			storage.Amounts[world.ResourceWater] -= waterTaken
			consumed[world.ResourceFood] += foodTaken
			consumed[world.ResourceWater] += waterTaken

			threshold := economy.ShortageThreshold(pop.Current)
			surplus := storage.Amounts[world.ResourceFood] > 2*threshold &&
				storage.Amounts[world.ResourceWater] > 2*threshold

			pop.Happiness = economy.NextHappiness(pop.Happiness, economy.HappinessInputs{
				FoodShort:    foodShort,
				WaterShort:   waterShort,
				Surplus:      surplus,
				AmenityBonus: amenity,
				TraumaActive: trauma,
			})

			next, delta := economy.GrowDecay(pop.Current, pop.Happiness, capacity, 1)
			growth += delta
			pop.Current = next
		}

		pop.Current -= starved
		if pop.Current < 0 {
			pop.Current = 0
		}
		pop.LastGrowthAt = pop.LastGrowthAt.Add(time.Duration(hours) * time.Hour)
		growthRate = economy.GrowthPerHour(pop.Happiness)
		for r := range shortageSet {
			shortages = append(shortages, r)
		}

		if err := persistence.WriteStorage(tx, st.ID, storage.Amounts); err != nil {
			return err
		}
		return persistence.WritePopulation(tx, pop)
	})
	if err != nil || pop == nil {
		return err
	}

	room := events.SettlementRoom(st.ID)
	e.Hub.Publish(room, events.EvPopulationState, map[string]any{
		"settlementId": st.ID,
		"current":      pop.Current,
		"capacity":     capacity,
		"happiness":    pop.Happiness,
		"growthRate":   growthRate,
	})
	if len(consumed) > 0 {
		e.Hub.Publish(room, events.EvResourceConsumption, map[string]any{
			"settlementId": st.ID,
			"consumed":     consumed,
		})
	}
	for _, r := range shortages {
		e.Hub.Publish(room, events.EvResourceShortage, map[string]any{
			"settlementId": st.ID,
			"resource":     r,
		})
	}
	if growth > 0 {
		e.Hub.Publish(room, events.EvPopulationGrowth, map[string]any{
			"settlementId": st.ID,
			"delta":        growth,
			"current":      pop.Current,
		})
		e.Hub.Publish(room, events.EvSettlerArrived, map[string]any{
			"settlementId": st.ID,
			"count":        growth,
		})
	}
	if growth < 0 || starved > 0 {
		e.Hub.Publish(room, events.EvPopulationWarning, map[string]any{
			"settlementId": st.ID,
			"emigrated":    -min(growth, 0),
			"starved":      starved,
			"current":      pop.Current,
		})
	}
	return nil
}
