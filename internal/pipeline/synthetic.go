package pipeline

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// SyntheticSequence is the stand-in for a unit without enough rasters:
// uniform values in [0,1), seeded from the unit code and target month so a
// re-run reproduces the same features.
func SyntheticSequence(unitCode string, target time.Time, steps, rows, cols int) *raster.Sequence {
	h := fnv.New64a()
	_, _ = h.Write([]byte(unitCode))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(target.Format("2006-01")))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	data := make([]float64, steps*rows*cols)
	for i := range data {
		data[i] = rng.Float64()
	}
	return &raster.Sequence{Steps: steps, Rows: rows, Cols: cols, Data: data}
}
