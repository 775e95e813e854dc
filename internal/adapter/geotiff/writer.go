package geotiff

import (
	"fmt"

	"github.com/lukeroth/gdal"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

const epsgWGS84 = 4326

// WriteGrid writes g as a single-band Float32 GeoTIFF in WGS-84 with the
// given transform. NoData pixels are flagged with the band nodata value.
func WriteGrid(path string, g *raster.Grid, gt raster.GeoTransform) error {
	driver, err := gdal.GetDriverByName("GTiff")
	if err != nil {
		return fmt.Errorf("gtiff driver: %w", err)
	}

	ds := driver.Create(path, g.Cols, g.Rows, 1, gdal.Float32, []string{"COMPRESS=DEFLATE"})
	defer ds.Close()

	if err := ds.SetGeoTransform(gt); err != nil {
		return fmt.Errorf("set geotransform %s: %w", path, err)
	}

	srs := gdal.CreateSpatialReference("")
	defer srs.Destroy()
	if err := srs.FromEPSG(epsgWGS84); err != nil {
		return fmt.Errorf("wgs84 spatial reference: %w", err)
	}
	wkt, err := srs.ToWKT()
	if err != nil {
		return fmt.Errorf("wgs84 wkt: %w", err)
	}
	if err := ds.SetProjection(wkt); err != nil {
		return fmt.Errorf("set projection %s: %w", path, err)
	}

	band := ds.RasterBand(1)
	if err := band.SetNoDataValue(raster.NoData); err != nil {
		return fmt.Errorf("set nodata %s: %w", path, err)
	}
	if err := band.IO(gdal.RWFlag(gdal.Write), 0, 0, g.Cols, g.Rows, g.Data, g.Cols, g.Rows, 0, 0); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
