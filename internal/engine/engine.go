// Package engine drives the authoritative simulation: the tick loop, the
// construction and structure services, the disaster state machine, and world
// generation. All settlement mutations pass through the per-settlement lock
// and commit through store transactions before any event is emitted.
package engine

import (
	"sync"
	"time"

	"github.com/havenworlds/haven-server/internal/config"
	"github.com/havenworlds/haven-server/internal/entropy"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
	"github.com/havenworlds/haven-server/internal/world"
)

// Engine owns the simulation state that is not in the store: per-settlement
// fractional carries, disaster impact accumulators, and the tick counter.
type Engine struct {
	Store *persistence.Store
	Hub   *events.Hub
	Cfg   config.Config

	locks *settlementLocks

	// Tick counter, monotonic for the process lifetime.
	tick uint64

	// Fractional production/consumption carried between ticks, so integer
	// storage never loses sub-unit output.
	carryMu sync.Mutex
	carries map[string]*carry

	// Per-(disaster, settlement) damage rollups accumulated during IMPACT
	// and flushed to DisasterHistory at AFTERMATH entry.
	tollMu sync.Mutex
	tolls  map[string]*impactToll

	// Deterministic randomness for disaster scheduling, one stream per world.
	srcMu   sync.Mutex
	sources map[string]*entropy.Source

	// Last progress-batch emission per world. Touched only by the tick
	// goroutine.
	batchAt map[string]time.Time
}

type carry struct {
	prod map[world.Resource]float64
	cons map[world.Resource]float64
}

// New wires an engine over the store and hub.
func New(store *persistence.Store, hub *events.Hub, cfg config.Config) *Engine {
	return &Engine{
		Store:   store,
		Hub:     hub,
		Cfg:     cfg,
		locks:   newSettlementLocks(),
		carries: make(map[string]*carry),
		tolls:   make(map[string]*impactToll),
		sources: make(map[string]*entropy.Source),
	}
}

// CurrentTick returns the tick counter.
func (e *Engine) CurrentTick() uint64 { return e.tick }

// tickSeconds is the wall-time length of one economic tick.
func (e *Engine) tickSeconds() float64 {
	hz := e.Cfg.TickHz
	if hz <= 0 {
		hz = 1
	}
	return 1.0 / float64(hz)
}

// disasterInterval is the wall-time length of one disaster sub-tick.
func (e *Engine) disasterInterval() time.Duration {
	hz := e.Cfg.DisasterTickHz
	if hz <= 0 {
		hz = e.Cfg.TickHz
	}
	if hz <= 0 {
		hz = 1
	}
	return time.Duration(float64(time.Second) / float64(hz))
}

func (e *Engine) carryFor(settlementID string) *carry {
	e.carryMu.Lock()
	defer e.carryMu.Unlock()
	c, ok := e.carries[settlementID]
	if !ok {
		c = &carry{prod: make(map[world.Resource]float64), cons: make(map[world.Resource]float64)}
		e.carries[settlementID] = c
	}
	return c
}

func (e *Engine) dropCarry(settlementID string) {
	e.carryMu.Lock()
	delete(e.carries, settlementID)
	e.carryMu.Unlock()
}

// worldSource returns the deterministic stream for a world, seeded from the
// world seed so disaster draws replay identically for a given world.
func (e *Engine) worldSource(w *world.World) *entropy.Source {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	src, ok := e.sources[w.ID]
	if !ok {
		src = entropy.NewSource(w.Seed)
		e.sources[w.ID] = src
	}
	return src
}
