package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// FillMethod selects how nodata pixels are replaced.
type FillMethod string

const (
	FillNearest FillMethod = "nearest"
	FillMean    FillMethod = "mean"
	FillZero    FillMethod = "zero"
)

// FillMissing returns a copy of g with nodata pixels replaced. Valid pixels are
// never altered. Nearest fill on a grid with no valid pixels leaves it unchanged.
func FillMissing(g *Grid, method FillMethod) (*Grid, error) {
	out := g.Clone()

	hasMissing := false
	for _, v := range g.Data {
		if IsNoData(v) {
			hasMissing = true
			break
		}
	}
	if !hasMissing {
		return out, nil
	}

	switch method {
	case FillNearest:
		fillNearest(out)
	case FillMean:
		fillValue := 0.0
		if valid := g.ValidValues(); len(valid) > 0 {
			fillValue = stat.Mean(valid, nil)
		}
		replaceNoData(out, fillValue)
	case FillZero:
		replaceNoData(out, 0)
	default:
		return nil, fmt.Errorf("unknown fill method %q", method)
	}
	return out, nil
}

func replaceNoData(g *Grid, v float64) {
	for i, x := range g.Data {
		if IsNoData(x) {
			g.Data[i] = v
		}
	}
}

// fillNearest copies into every nodata pixel the value of its nearest valid
// pixel by Euclidean distance, using an exact separable distance transform
// (Felzenszwalb & Huttenlocher) that tracks the argmin on each pass.
func fillNearest(g *Grid) {
	rows, cols := g.Rows, g.Cols
	inf := math.Inf(1)

	// Pass 1: per column, squared distance to and row of the nearest valid pixel.
	colDist := make([]float64, rows*cols)
	colArg := make([]int, rows*cols)
	f := make([]float64, rows)
	d := make([]float64, rows)
	arg := make([]int, rows)
	anyValid := false
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			if IsNoData(g.At(r, c)) {
				f[r] = inf
			} else {
				f[r] = 0
				anyValid = true
			}
		}
		distanceTransform1D(f, d, arg)
		for r := 0; r < rows; r++ {
			colDist[r*cols+c] = d[r]
			colArg[r*cols+c] = arg[r]
		}
	}
	if !anyValid {
		return
	}

	// Pass 2: per row, combine column distances to find the nearest valid pixel.
	src := g.Clone()
	f = make([]float64, cols)
	d = make([]float64, cols)
	arg = make([]int, cols)
	for r := 0; r < rows; r++ {
		copy(f, colDist[r*cols:(r+1)*cols])
		distanceTransform1D(f, d, arg)
		for c := 0; c < cols; c++ {
			if !IsNoData(src.At(r, c)) {
				continue
			}
			nc := arg[c]
			nr := colArg[r*cols+nc]
			g.Set(r, c, src.At(nr, nc))
		}
	}
}

// distanceTransform1D computes d[i] = min_q (i-q)^2 + f[q] over finite f[q],
// writing the minimizing q to arg[i]. When every f is infinite, d is +Inf and
// arg is -1.
func distanceTransform1D(f, d []float64, arg []int) {
	n := len(f)
	v := make([]int, n)
	z := make([]float64, n+1)
	k := -1

	intersect := func(p, q int) float64 {
		fp, fq := f[p]+float64(p*p), f[q]+float64(q*q)
		return (fq - fp) / float64(2*q-2*p)
	}

	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		if k < 0 {
			k = 0
			v[0] = q
			z[0], z[1] = math.Inf(-1), math.Inf(1)
			continue
		}
		s := intersect(v[k], q)
		for s <= z[k] {
			k--
			if k < 0 {
				break
			}
			s = intersect(v[k], q)
		}
		if k < 0 {
			k = 0
			v[0] = q
			z[0], z[1] = math.Inf(-1), math.Inf(1)
			continue
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	if k < 0 {
		for i := range d {
			d[i] = math.Inf(1)
			arg[i] = -1
		}
		return
	}

	j := 0
	for i := 0; i < n; i++ {
		for z[j+1] < float64(i) {
			j++
		}
		diff := float64(i - v[j])
		d[i] = diff*diff + f[v[j]]
		arg[i] = v[j]
	}
}
