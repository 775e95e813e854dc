package domain

import (
	"fmt"
	"time"
)

// DataType is the temporal granularity of a raster asset.
type DataType string

const (
	Monthly DataType = "monthly"
	Dekadal DataType = "dekadal"
)

// AssetStatus is the download state of a raster asset in the catalog.
type AssetStatus string

const (
	StatusPending     AssetStatus = "pending"
	StatusDownloading AssetStatus = "downloading"
	StatusCompleted   AssetStatus = "completed"
	StatusFailed      AssetStatus = "failed"
)

// BBox is a WGS-84 bounding box in decimal degrees.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// KenyaASAL covers the arid and semi-arid counties of Kenya.
var KenyaASAL = BBox{MinLat: -5.0, MaxLat: 5.5, MinLon: 33.5, MaxLon: 42.0}

// IsZero reports whether b is the zero value.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Valid reports whether b has positive extent on both axes and sane coordinates.
func (b BBox) Valid() bool {
	return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}

// Key renders b as a stable string, used for cache keys and log fields.
func (b BBox) Key() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// RasterAsset is a catalog entry for one downloaded rainfall raster.
type RasterAsset struct {
	DataType  DataType    `json:"data_type"`
	Year      int         `json:"year"`
	Month     int         `json:"month"`
	Dekad     int         `json:"dekad,omitempty"` // 1-3 for dekadal assets, 0 for monthly
	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	Extent    BBox        `json:"extent"`
	FilePath  string      `json:"file_path"`
	Checksum  string      `json:"checksum,omitempty"`
	Status    AssetStatus `json:"download_status"`
}

// NewRasterAsset builds a catalog entry whose time range is derived from its
// identity, validating month and dekad bounds.
func NewRasterAsset(dataType DataType, year, month, dekad int, filePath string, status AssetStatus) (RasterAsset, error) {
	if month < 1 || month > 12 {
		return RasterAsset{}, fmt.Errorf("%w: month %d out of range", ErrInvalidRecord, month)
	}

	var start, end time.Time
	switch dataType {
	case Monthly:
		if dekad != 0 {
			return RasterAsset{}, fmt.Errorf("%w: monthly asset with dekad %d", ErrInvalidRecord, dekad)
		}
		start, end = MonthRange(year, time.Month(month))
	case Dekadal:
		if dekad < 1 || dekad > 3 {
			return RasterAsset{}, fmt.Errorf("%w: dekad %d out of range", ErrInvalidRecord, dekad)
		}
		start, end = DekadRange(year, time.Month(month), dekad)
	default:
		return RasterAsset{}, fmt.Errorf("%w: unknown data type %q", ErrInvalidRecord, dataType)
	}

	switch status {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed:
	default:
		return RasterAsset{}, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, status)
	}

	return RasterAsset{
		DataType:  dataType,
		Year:      year,
		Month:     month,
		Dekad:     dekad,
		StartDate: start,
		EndDate:   end,
		FilePath:  filePath,
		Status:    status,
	}, nil
}

// Usable reports whether the asset can be consumed by the raster processor.
func (a RasterAsset) Usable() bool {
	return a.Status == StatusCompleted && a.FilePath != ""
}

// MonthRange returns the first and last day of a calendar month.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// DekadRange returns the first and last day of a dekad (1, 2 or 3) in a month.
// The third dekad runs to the end of the month.
func DekadRange(year int, month time.Month, dekad int) (time.Time, time.Time) {
	switch dekad {
	case 1:
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), time.Date(year, month, 10, 0, 0, 0, 0, time.UTC)
	case 2:
		return time.Date(year, month, 11, 0, 0, 0, 0, time.UTC), time.Date(year, month, 20, 0, 0, 0, 0, time.UTC)
	default:
		_, end := MonthRange(year, month)
		return time.Date(year, month, 21, 0, 0, 0, 0, time.UTC), end
	}
}

// CHIRPSFileName returns the canonical CHIRPS v2.0 file name for an asset identity.
func CHIRPSFileName(dataType DataType, year, month, dekad int) string {
	if dataType == Dekadal {
		return fmt.Sprintf("chirps-v2.0.%d.%02d.%d.tif", year, month, dekad)
	}
	return fmt.Sprintf("chirps-v2.0.%d.%02d.tif", year, month)
}

// RasterFilter selects catalog entries. Zero fields do not filter; From and To
// bound StartDate inclusively.
type RasterFilter struct {
	DataType DataType
	Status   AssetStatus
	From     time.Time
	To       time.Time
}

// Matches reports whether a satisfies every set field of f.
func (f RasterFilter) Matches(a RasterAsset) bool {
	if f.DataType != "" && a.DataType != f.DataType {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && a.StartDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.StartDate.After(f.To) {
		return false
	}
	return true
}
