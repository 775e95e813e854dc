// Package geotiff reads and writes single-band rainfall GeoTIFFs through libgdal.
package geotiff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lukeroth/gdal"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// Reader implements raster.Reader over GDAL datasets. Band 1 is read.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a Reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger}
}

// ReadWindow returns the pixels of path that intersect bbox. Parts of the
// window outside the raster's extent, and pixels equal to the band's nodata
// value, are raster.NoData.
func (r *Reader) ReadWindow(ctx context.Context, path string, bbox domain.BBox) (*raster.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", raster.ErrUnreadable, path, err)
	}
	defer ds.Close()

	if ds.RasterCount() < 1 {
		return nil, fmt.Errorf("%w: %s has no bands", raster.ErrUnreadable, path)
	}

	win, err := raster.GeoTransform(ds.GeoTransform()).WindowFor(bbox)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", raster.ErrUnreadable, path, err)
	}
	out := raster.Filled(win.Rows, win.Cols, raster.NoData)

	part, ok := win.Intersect(ds.RasterXSize(), ds.RasterYSize())
	if !ok {
		r.logger.Debug("bbox outside raster extent", "path", path, "bbox", bbox.Key())
		return out, nil
	}

	band := ds.RasterBand(1)
	data := make([]float64, part.Cols*part.Rows)
	if err := band.IO(gdal.RWFlag(gdal.Read), part.Col, part.Row, part.Cols, part.Rows, data, part.Cols, part.Rows, 0, 0); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", raster.ErrUnreadable, path, err)
	}
	nodata, hasNoData := band.NoDataValue()
	win.Paste(out, part, data, nodata, hasNoData)
	return out, nil
}
