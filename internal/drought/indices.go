package drought

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// Cumulative sums the last window values of series, or all of it when shorter.
func Cumulative(series []float64, window int) float64 {
	if window < 0 {
		window = 0
	}
	if len(series) > window {
		series = series[len(series)-window:]
	}
	return floats.Sum(series)
}

// AnomalyPct is the percentage departure of current from mean. Zero when the
// mean is not positive.
func AnomalyPct(current, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return (current - mean) / mean * 100
}

// ConsecutiveDry counts the trailing run of values below thresholdMM.
func ConsecutiveDry(series []float64, thresholdMM float64) int {
	count := 0
	for i := len(series) - 1; i >= 0; i-- {
		if !(series[i] < thresholdMM) {
			break
		}
		count++
	}
	return count
}

// RainySeasonOnsetAnomaly returns the index of the first value at or above
// onsetMM minus expectedIndex. When no value qualifies the season is treated
// as starting just past the series end.
func RainySeasonOnsetAnomaly(series []float64, onsetMM float64, expectedIndex int) int {
	for i, v := range series {
		if v >= onsetMM {
			return i - expectedIndex
		}
	}
	return len(series) - expectedIndex
}

// SpatialCV is the coefficient of variation of the valid pixels of g.
func SpatialCV(g *raster.Grid) float64 {
	valid := g.ValidValues()
	if len(valid) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(valid, nil)
	if mean <= 0 {
		return 0
	}
	return std / mean
}

// TrendSlope is the ordinary least squares slope of series against its index.
func TrendSlope(series []float64) float64 {
	if len(series) < 3 {
		return 0
	}
	x := make([]float64, len(series))
	for i := range x {
		x[i] = float64(i)
	}
	_, slope := stat.LinearRegression(x, series, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}

// PctBelowNormal is the percentage of co-located pixels, valid in g and with a
// positive normal, whose rainfall is below thresholdPct percent of normal.
// Grids of different shapes have no co-located pixels.
func PctBelowNormal(g, normal *raster.Grid, thresholdPct float64) float64 {
	if !g.SameShape(normal) {
		return 0
	}
	var total, below int
	for i, v := range g.Data {
		n := normal.Data[i]
		if raster.IsNoData(v) || !(n > 0) {
			continue
		}
		total++
		if v/n*100 < thresholdPct {
			below++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(below) / float64(total) * 100
}

// DroughtSeverityIndex blends SPI-3, the dry run length and the share of
// below-normal pixels into a score in [0,1] with weights 0.4, 0.3 and 0.3.
func DroughtSeverityIndex(spi3 float64, consecutiveDry int, pctBelowNormal float64) float64 {
	spiScore := clip((-spi3+2)/4, 0, 1)
	dryScore := clip(float64(consecutiveDry)/6, 0, 1)
	belowScore := clip(pctBelowNormal/100, 0, 1)
	return clip(0.4*spiScore+0.3*dryScore+0.3*belowScore, 0, 1)
}

// RollingSums returns the sums of every full window of consecutive values in
// history. A history shorter than window is returned as is.
func RollingSums(history []float64, window int) []float64 {
	if window <= 1 || len(history) < window {
		out := make([]float64, len(history))
		copy(out, history)
		return out
	}
	out := make([]float64, len(history)-window+1)
	for i := range out {
		out[i] = floats.Sum(history[i : i+window])
	}
	return out
}

// clip bounds v to [lo, hi]; NaN maps to lo.
func clip(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
