package raster

import (
	"fmt"
	"math"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

// edgeEps absorbs floating point error when a bbox edge lies on a pixel edge.
const edgeEps = 1e-9

// GeoTransform maps pixel to world coordinates in GDAL order:
// originX, pixelWidth, rowRotation, originY, colRotation, -pixelHeight.
type GeoTransform [6]float64

// GeoTransformFor returns the north-up transform that spreads a rows x cols
// raster evenly over bbox.
func GeoTransformFor(bbox domain.BBox, rows, cols int) GeoTransform {
	return GeoTransform{
		bbox.MinLon, (bbox.MaxLon - bbox.MinLon) / float64(cols), 0,
		bbox.MaxLat, 0, -(bbox.MaxLat - bbox.MinLat) / float64(rows),
	}
}

// PixelWindow is a rectangle of pixels. Its offsets may be negative or run
// past the raster edge.
type PixelWindow struct {
	Col, Row   int
	Cols, Rows int
}

// WindowFor returns the pixel window covering every pixel that intersects bbox.
func (gt GeoTransform) WindowFor(bbox domain.BBox) (PixelWindow, error) {
	if gt[2] != 0 || gt[4] != 0 {
		return PixelWindow{}, fmt.Errorf("rotated rasters are not supported")
	}
	if gt[1] <= 0 || gt[5] >= 0 {
		return PixelWindow{}, fmt.Errorf("raster is not north-up (pixel size %g x %g)", gt[1], gt[5])
	}

	col0 := int(math.Floor((bbox.MinLon-gt[0])/gt[1] + edgeEps))
	col1 := int(math.Ceil((bbox.MaxLon-gt[0])/gt[1] - edgeEps))
	row0 := int(math.Floor((gt[3]-bbox.MaxLat)/-gt[5] + edgeEps))
	row1 := int(math.Ceil((gt[3]-bbox.MinLat)/-gt[5] - edgeEps))

	w := PixelWindow{Col: col0, Row: row0, Cols: col1 - col0, Rows: row1 - row0}
	if w.Cols <= 0 || w.Rows <= 0 {
		return PixelWindow{}, fmt.Errorf("bbox %s selects no pixels", bbox.Key())
	}
	return w, nil
}

// Intersect clips w to a width x height raster. ok is false when they do not
// overlap.
func (w PixelWindow) Intersect(width, height int) (PixelWindow, bool) {
	c0, r0 := max(w.Col, 0), max(w.Row, 0)
	c1, r1 := min(w.Col+w.Cols, width), min(w.Row+w.Rows, height)
	if c1 <= c0 || r1 <= r0 {
		return PixelWindow{}, false
	}
	return PixelWindow{Col: c0, Row: r0, Cols: c1 - c0, Rows: r1 - r0}, true
}

// Paste copies a part read at window part into dst, which covers window w.
// Values equal to srcNoData are written as NoData when hasNoData is set.
func (w PixelWindow) Paste(dst *Grid, part PixelWindow, data []float64, srcNoData float64, hasNoData bool) {
	for r := 0; r < part.Rows; r++ {
		for c := 0; c < part.Cols; c++ {
			v := data[r*part.Cols+c]
			if hasNoData && v == srcNoData {
				v = NoData
			}
			dst.Set(part.Row-w.Row+r, part.Col-w.Col+c, v)
		}
	}
}
