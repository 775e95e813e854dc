// Package raster turns rainfall GeoTIFFs into normalized, fixed-shape frames
// and stacks them into temporal sequences for the predictor.
package raster

import (
	"fmt"
	"math"
)

// NoData is the sentinel written for missing pixels. Any negative or NaN
// value is treated as nodata when read.
const NoData = -9999.0

// Grid is a row-major 2D raster.
type Grid struct {
	Rows int
	Cols int
	Data []float64
}

// NewGrid allocates a rows x cols grid filled with zeros.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewGridFrom wraps data as a rows x cols grid.
func NewGridFrom(rows, cols int, data []float64) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid grid shape %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("grid data has %d values, want %d", len(data), rows*cols)
	}
	return &Grid{Rows: rows, Cols: cols, Data: data}, nil
}

// Filled returns a rows x cols grid with every pixel set to v.
func Filled(rows, cols int, v float64) *Grid {
	g := NewGrid(rows, cols)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// IsNoData reports whether v marks a missing pixel.
func IsNoData(v float64) bool {
	return v < 0 || math.IsNaN(v)
}

// At returns the value at row r, column c.
func (g *Grid) At(r, c int) float64 {
	return g.Data[r*g.Cols+c]
}

// Set writes v at row r, column c.
func (g *Grid) Set(r, c int, v float64) {
	g.Data[r*g.Cols+c] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// SameShape reports whether g and o have identical dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Rows == o.Rows && g.Cols == o.Cols
}

// ValidValues returns the non-nodata pixel values in row-major order.
func (g *Grid) ValidValues() []float64 {
	out := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !IsNoData(v) {
			out = append(out, v)
		}
	}
	return out
}

// Scaled returns a copy of g with every pixel multiplied by k.
func (g *Grid) Scaled(k float64) *Grid {
	out := g.Clone()
	for i := range out.Data {
		out.Data[i] *= k
	}
	return out
}

// sanitize rewrites every nodata-like pixel (negative, NaN) to the NoData sentinel.
func (g *Grid) sanitize() {
	for i, v := range g.Data {
		if IsNoData(v) {
			g.Data[i] = NoData
		}
	}
}
