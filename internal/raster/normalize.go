package raster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NormMethod selects the normalization transform.
type NormMethod string

const (
	NormMinMax     NormMethod = "minmax"
	NormZScore     NormMethod = "zscore"
	NormPercentile NormMethod = "percentile"
)

// NormParams are the fixed bounds used by min-max normalization, in mm.
type NormParams struct {
	Min float64
	Max float64
}

// Normalize returns a normalized copy of g. Pixels that were nodata in g are
// exactly 0 in the output whatever the method produced for them.
func Normalize(g *Grid, method NormMethod, params NormParams) (*Grid, error) {
	out := NewGrid(g.Rows, g.Cols)

	switch method {
	case NormMinMax:
		span := params.Max - params.Min
		if span <= 0 {
			return nil, fmt.Errorf("minmax bounds must satisfy max > min, got [%v, %v]", params.Min, params.Max)
		}
		for i, v := range g.Data {
			out.Data[i] = clamp01((v - params.Min) / span)
		}

	case NormZScore:
		valid := g.ValidValues()
		if len(valid) > 0 {
			mean, std := stat.PopMeanStdDev(valid, nil)
			if std > 0 {
				for i, v := range g.Data {
					out.Data[i] = (v - mean) / std
				}
			}
		}

	case NormPercentile:
		valid := g.ValidValues()
		if len(valid) > 0 {
			sort.Float64s(valid)
			p5 := percentileSorted(valid, 5)
			p95 := percentileSorted(valid, 95)
			if span := p95 - p5; span > 0 {
				for i, v := range g.Data {
					out.Data[i] = clamp01((v - p5) / span)
				}
			}
		}

	default:
		return nil, fmt.Errorf("unknown normalization method %q", method)
	}

	for i, v := range g.Data {
		if IsNoData(v) {
			out.Data[i] = 0
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// percentileSorted returns the p-th percentile of ascending values using
// linear interpolation between closest ranks (NumPy's default).
func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(pos)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
