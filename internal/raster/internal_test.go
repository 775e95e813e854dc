package raster

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCache_Eviction(t *testing.T) {
	c := newFrameCache(2)

	c.put("a", Filled(1, 1, 1))
	c.put("b", Filled(1, 1, 2))
	c.get("a")                  // promote a
	c.put("c", Filled(1, 1, 3)) // evicts b

	_, ok := c.get("b")
	assert.False(t, ok, "b should have been evicted")

	g, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, g.Data[0])
	assert.Equal(t, 2, c.size())
}

func TestFrameCache_UpdateExisting(t *testing.T) {
	c := newFrameCache(2)

	c.put("a", Filled(1, 1, 1))
	c.put("a", Filled(1, 1, 5))

	g, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, 5.0, g.Data[0])
	assert.Equal(t, 1, c.size())
}

// Nearest fill must agree with a brute-force search on the squared distance
// of the chosen source pixel.
func TestFillNearest_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const rows, cols = 17, 23

	for trial := 0; trial < 20; trial++ {
		g := NewGrid(rows, cols)
		for i := range g.Data {
			if rng.Float64() < 0.85 {
				g.Data[i] = NoData
			} else {
				// Unique values identify the source pixel.
				g.Data[i] = float64(i + 1)
			}
		}
		out := g.Clone()
		fillNearest(out)

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if !IsNoData(g.At(r, c)) {
					assert.Equal(t, g.At(r, c), out.At(r, c))
					continue
				}
				best := math.Inf(1)
				for rr := 0; rr < rows; rr++ {
					for cc := 0; cc < cols; cc++ {
						if IsNoData(g.At(rr, cc)) {
							continue
						}
						if d := sqDist(r, c, rr, cc); d < best {
							best = d
						}
					}
				}
				src := int(out.At(r, c)) - 1
				require.GreaterOrEqual(t, src, 0, "pixel (%d,%d) left unfilled", r, c)
				assert.Equal(t, best, sqDist(r, c, src/cols, src%cols), "pixel (%d,%d)", r, c)
			}
		}
	}
}

func sqDist(r0, c0, r1, c1 int) float64 {
	dr, dc := float64(r0-r1), float64(c0-c1)
	return dr*dr + dc*dc
}

func TestDistanceTransform1D_AllInfinite(t *testing.T) {
	f := []float64{math.Inf(1), math.Inf(1)}
	d := make([]float64, 2)
	arg := make([]int, 2)
	distanceTransform1D(f, d, arg)
	assert.True(t, math.IsInf(d[0], 1))
	assert.Equal(t, []int{-1, -1}, arg)
}

func TestPercentileSorted(t *testing.T) {
	v := []float64{1, 2, 3, 4}
	assert.InDelta(t, 2.5, percentileSorted(v, 50), 1e-12)
	assert.InDelta(t, 1.15, percentileSorted(v, 5), 1e-12)
	assert.InDelta(t, 3.85, percentileSorted(v, 95), 1e-12)
	assert.Equal(t, 7.0, percentileSorted([]float64{7}, 30))
}
