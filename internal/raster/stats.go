package raster

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the valid pixels of a grid. When Valid is false the grid
// has no valid pixels and only PctMissing is meaningful.
type Stats struct {
	Valid      bool    `json:"valid"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Median     float64 `json:"median"`
	PctMissing float64 `json:"pct_missing"`
}

// Statistics computes population statistics over the valid pixels of g.
func Statistics(g *Grid) Stats {
	if len(g.Data) == 0 {
		return Stats{PctMissing: 100}
	}
	valid := g.ValidValues()
	missing := float64(len(g.Data)-len(valid)) / float64(len(g.Data)) * 100
	if len(valid) == 0 {
		return Stats{PctMissing: 100}
	}

	mean, std := stat.PopMeanStdDev(valid, nil)
	sort.Float64s(valid)
	return Stats{
		Valid:      true,
		Min:        floats.Min(valid),
		Max:        floats.Max(valid),
		Mean:       mean,
		Std:        std,
		Median:     percentileSorted(valid, 50),
		PctMissing: missing,
	}
}
