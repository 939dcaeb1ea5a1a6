// Deposit generation using layered simplex noise.
// A density layer decides where resource tiles sit, a second layer picks the
// kind, and a third scatters impassable rock.
package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds deposit generation parameters.
type GenConfig struct {
	Width     int
	Height    int
	Seed      int64   // Random seed (0 = random)
	Density   float64 // Noise threshold above which a cell holds a deposit (0.0–1.0)
	Rock      float64 // Noise threshold above which a cell is rock (0.0–1.0, 1 disables)
	Frequency float64 // Base sampling frequency
	Clearance int     // Radius around Keep cells left free of deposits and rock
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:     48,
		Height:    32,
		Seed:      0,
		Density:   0.68,
		Rock:      0.80,
		Frequency: 0.12,
		Clearance: 2,
	}
}

// SmallTestConfig returns a tiny map for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:     16,
		Height:    12,
		Seed:      42,
		Density:   0.62,
		Rock:      1.0,
		Frequency: 0.2,
		Clearance: 1,
	}
}

// Deposit is a generated resource tile awaiting a node.
type Deposit struct {
	Cell     Cell
	Kind     Kind
	Richness float64 // 0.0–1.0, scales the node's initial amount
}

// Generate fills m with rock and returns the deposit cells, row-major.
// Cells within Clearance of any keep cell stay free.
func Generate(cfg GenConfig, m *Map, keep []Cell) []Deposit {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	freq := cfg.Frequency
	if freq <= 0 {
		freq = 0.12
	}

	density := opensimplex.NewNormalized(seed)
	selector := opensimplex.NewNormalized(seed + 1)
	rock := opensimplex.NewNormalized(seed + 2)

	var deposits []Deposit
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := Cell{X: x, Y: y}
			if nearAny(c, keep, cfg.Clearance) {
				continue
			}
			fx, fy := float64(x), float64(y)

			if cfg.Rock < 1 && octaveNoise(rock, fx, fy, 2, freq*0.7, 0.5) > cfg.Rock {
				m.SetRock(c)
				continue
			}

			d := octaveNoise(density, fx, fy, 3, freq, 0.5)
			if d <= cfg.Density {
				continue
			}
			kind := kindFromNoise(octaveNoise(selector, fx, fy, 2, freq*0.5, 0.5))
			richness := (d - cfg.Density) / (1 - cfg.Density)
			deposits = append(deposits, Deposit{Cell: c, Kind: kind, Richness: clamp01(richness)})
		}
	}
	return deposits
}

// kindFromNoise partitions [0,1) into bands; CryoCrystal gets the thinnest.
func kindFromNoise(v float64) Kind {
	switch {
	case v < 0.38:
		return KindFerrite
	case v < 0.62:
		return KindBiomass
	case v < 0.85:
		return KindAether
	default:
		return KindCryoCrystal
	}
}

func nearAny(c Cell, keep []Cell, radius int) bool {
	for _, k := range keep {
		if Chebyshev(c, k) <= radius {
			return true
		}
	}
	return false
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// KindCounts returns a summary of deposit distribution.
func KindCounts(deposits []Deposit) map[Kind]int {
	counts := make(map[Kind]int)
	for _, d := range deposits {
		counts[d.Kind]++
	}
	return counts
}
