// World generation: three parameterized fractal noise bundles produce
// elevation, precipitation, and temperature per tile; terrain, biome, and
// resource qualities are derived from them. Deterministic for a given seed.
package world

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/havenworlds/haven-server/internal/entropy"
)

// Generated is the output of one generation run.
type Generated struct {
	Regions []*Region
	Tiles   []*Tile
}

// Generate produces all regions and tiles for a world. It is pure with
// respect to the store: callers persist the result and flip world status.
func Generate(w *World) (*Generated, error) {
	if w.WidthRegions <= 0 || w.HeightRegions <= 0 {
		return nil, fmt.Errorf("generate world %s: invalid dimensions %dx%d", w.ID, w.WidthRegions, w.HeightRegions)
	}

	elevNoise := opensimplex.New(w.Seed)
	rainNoise := opensimplex.New(w.Seed + 1)
	tempNoise := opensimplex.New(w.Seed + 2)
	src := entropy.NewSource(w.Seed)

	widthTiles := w.WidthRegions * RegionSize
	heightTiles := w.HeightRegions * RegionSize

	out := &Generated{}
	grid := make([]*Tile, widthTiles*heightTiles)

	for ry := 0; ry < w.HeightRegions; ry++ {
		for rx := 0; rx < w.WidthRegions; rx++ {
			region := &Region{
				ID:               uuid.NewString(),
				WorldID:          w.ID,
				X:                rx,
				Y:                ry,
				ElevationMap:     newGrid(RegionSize),
				PrecipitationMap: newGrid(RegionSize),
				TemperatureMap:   newGrid(RegionSize),
			}

			for ty := 0; ty < RegionSize; ty++ {
				for tx := 0; tx < RegionSize; tx++ {
					gx := rx*RegionSize + tx
					gy := ry*RegionSize + ty
					fx, fy := float64(gx), float64(gy)

					elev := fractal(elevNoise, fx, fy, w.Elevation)
					rain := fractal(rainNoise, fx, fy, w.Precipitation)
					temp := fractal(tempNoise, fx, fy, w.Temperature)

					// Latitude gradient: equator at map middle runs hot.
					lat := 1.0 - 2.0*math.Abs(fy/float64(heightTiles)-0.5)
					temp = clamp(temp*0.6+(lat*2-1)*0.4, -1, 1)

					region.ElevationMap[ty][tx] = elev
					region.PrecipitationMap[ty][tx] = rain
					region.TemperatureMap[ty][tx] = temp

					tile := &Tile{
						ID:                     uuid.NewString(),
						RegionID:               region.ID,
						WorldID:                w.ID,
						X:                      tx,
						Y:                      ty,
						Elevation:              elev,
						Temperature:            temp,
						Precipitation:          rain,
						BaseProductionModifier: 1.0,
					}

					if elev < 0 {
						tile.Type = TileOcean
						tile.Biome = BiomeOcean
						tile.PlotSlots = 0
						// Ocean tiles carry no land-resource quality.
					} else {
						tile.Type = TileLand
						tile.Biome = ClassifyBiome(rain, temp, elev)
					}

					grid[gy*widthTiles+gx] = tile
				}
			}

			out.Regions = append(out.Regions, region)
		}
	}

	// Post-pass: land tiles bordering ocean become coastal.
	markCoastal(grid, widthTiles, heightTiles)

	// Qualities and plot slots depend on the final biome.
	for gy := 0; gy < heightTiles; gy++ {
		for gx := 0; gx < widthTiles; gx++ {
			tile := grid[gy*widthTiles+gx]
			if tile.Type == TileOcean {
				out.Tiles = append(out.Tiles, tile)
				continue
			}

			biome := BiomeByID(tile.Biome)
			fillQualities(tile, biome, w.Config.ResourceAbundance, src, gx, gy)

			span := biome.PlotMax - biome.PlotMin + 1
			tile.PlotSlots = biome.PlotMin + int(src.At("plots", entropy.CoordCounter(gx, gy))*float64(span))
			if tile.PlotSlots > biome.PlotMax {
				tile.PlotSlots = biome.PlotMax
			}

			// Rare special resources on high-quality ground.
			if src.At("special", entropy.CoordCounter(gx, gy)) > 0.985 {
				tag := specialResourceFor(biome.ID)
				tile.SpecialResource = &tag
			}

			out.Tiles = append(out.Tiles, tile)
		}
	}

	return out, nil
}

// fractal evaluates a noise bundle at (x, y):
// sum over octaves of amplitude·persistence^k · noise(x·freq·2^k, y·freq·2^k),
// normalized to [-1, 1] and multiplied by scale.
func fractal(n opensimplex.Noise, x, y float64, p NoiseParams) float64 {
	total := 0.0
	maxVal := 0.0
	amplitude := p.Amplitude
	freq := p.Frequency

	for k := 0; k < p.Octaves; k++ {
		total += n.Eval2(x*freq, y*freq) * amplitude
		maxVal += amplitude
		amplitude *= p.Persistence
		freq *= 2
	}

	if maxVal == 0 {
		return 0
	}
	return clamp(total/maxVal*p.Scale, -1, 1)
}

// fillQualities derives the five resource qualities from climate, biome
// modifiers, and a positional perturbation.
func fillQualities(tile *Tile, biome Biome, abundance float64, src *entropy.Source, gx, gy int) {
	// Climate bases in [0, 100] before biome modifiers.
	warmth := 1.0 - math.Abs(tile.Temperature-0.25)    // Food favors mild warmth
	wetness := (tile.Precipitation + 1) / 2            // 0..1
	height := clamp(tile.Elevation, 0, 1)              // Land elevation 0..1

	base := map[Resource]float64{
		ResourceFood:  clamp(warmth, 0, 1) * 0.6 * 100 * (0.5 + wetness*0.5) / 0.9,
		ResourceWater: wetness * 100,
		ResourceWood:  wetness * 80 * clamp(1.2-height, 0, 1.2),
		ResourceStone: 30 + height*70,
		ResourceOre:   15 + height*85,
	}

	for _, r := range Resources {
		mod, ok := biome.Modifiers[r]
		if !ok && r == ResourceWater {
			// No water modifier: water derives from precipitation alone.
			mod = 1.0
		}
		q := base[r] * mod * abundance

		// Positional perturbation: ±10 quality, deterministic per coordinate.
		counter := entropy.CoordCounter(gx, gy) ^ uint64(len(string(r)))<<56
		q += (src.At("quality-"+string(r), counter) - 0.5) * 20

		tile.Qualities.Set(r, clamp(q, 0, 100))
	}
}

func specialResourceFor(id BiomeID) string {
	switch id {
	case BiomeMountain:
		return "GEMS"
	case BiomeDesert:
		return "SALT"
	case BiomeSwamp:
		return "PEAT"
	case BiomeForest:
		return "AMBER"
	default:
		return "CLAY"
	}
}

// markCoastal flips land tiles with at least one ocean neighbor to the
// coastal biome. Mountains keep their biome even on the shore.
func markCoastal(grid []*Tile, width, height int) {
	at := func(x, y int) *Tile {
		if x < 0 || y < 0 || x >= width || y >= height {
			return nil
		}
		return grid[y*width+x]
	}

	for gy := 0; gy < height; gy++ {
		for gx := 0; gx < width; gx++ {
			tile := at(gx, gy)
			if tile.Type != TileLand || tile.Biome == BiomeMountain {
				continue
			}
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				n := at(gx+d[0], gy+d[1])
				if n != nil && n.Type == TileOcean {
					tile.Biome = BiomeCoastal
					break
				}
			}
		}
	}
}

func newGrid(size int) [][]float64 {
	g := make([][]float64, size)
	for i := range g {
		g[i] = make([]float64, size)
	}
	return g
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
