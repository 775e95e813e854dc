package raster

import (
	"fmt"
	"math"
)

// Resample interpolates g bilinearly to rows x cols. Each axis is scaled
// independently with endpoints aligned, so the corner pixels of the output
// sample the corner pixels of the input. A matching shape returns a copy.
func Resample(g *Grid, rows, cols int) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid target shape %dx%d", rows, cols)
	}
	if g.Rows == rows && g.Cols == cols {
		return g.Clone(), nil
	}

	rowPos := axisPositions(g.Rows, rows)
	colPos := axisPositions(g.Cols, cols)

	out := NewGrid(rows, cols)
	for r, y := range rowPos {
		y0 := int(math.Floor(y))
		y1 := min(y0+1, g.Rows-1)
		wy := y - float64(y0)
		for c, x := range colPos {
			x0 := int(math.Floor(x))
			x1 := min(x0+1, g.Cols-1)
			wx := x - float64(x0)

			top := g.At(y0, x0)*(1-wx) + g.At(y0, x1)*wx
			bottom := g.At(y1, x0)*(1-wx) + g.At(y1, x1)*wx
			out.Set(r, c, top*(1-wy)+bottom*wy)
		}
	}
	return out, nil
}

// axisPositions maps each of n output indices onto the input axis of length m.
func axisPositions(m, n int) []float64 {
	pos := make([]float64, n)
	if n == 1 || m == 1 {
		return pos
	}
	scale := float64(m-1) / float64(n-1)
	for i := range pos {
		pos[i] = math.Min(float64(i)*scale, float64(m-1))
	}
	return pos
}
