// Package domain models the records exchanged by the food-insecurity risk
// pipeline: rainfall raster assets, administrative units, per-unit drought
// feature records, and per-unit IPC phase predictions.
//
// # Data Source
//
// Rainfall rasters are CHIRPS v2.0 GeoTIFFs (Climate Hazards Group InfraRed
// Precipitation with Station data), downloaded by an external client and
// registered in the raster catalog. Files are already in WGS-84, so clipping
// is a plain latitude/longitude window.
//
//	Monthly:  chirps-v2.0.<yyyy>.<mm>.tif     e.g. chirps-v2.0.2024.03.tif
//	Dekadal:  chirps-v2.0.<yyyy>.<mm>.<d>.tif e.g. chirps-v2.0.2024.03.2.tif
//
// Values are millimetres of precipitation. Negative values (CHIRPS uses
// -9999) mark missing pixels and are treated as nodata throughout.
//
// # Dekads
//
// A dekad is a 10-day subdivision of a month: days 1-10, 11-20, and 21 to the
// end of the month. The third dekad therefore spans 8 to 11 days. See
// [DekadRange].
//
// # IPC Phases
//
// The Integrated Food Security Phase Classification is ordinal:
//
//	1 minimal | 2 stressed | 3 crisis | 4 emergency | 5 famine
//
// Phase 3 and above is considered high risk and is reported separately in
// the run [Summary].
//
// # Record Keys
//
// Feature records are keyed by (unit code, feature date, model version) and
// predictions by (unit code, target month, model version). Stores upsert on
// those keys so re-running a month overwrites instead of duplicating.
package domain
