package drought

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// FeatureInput is everything needed to compute the drought features of one unit.
type FeatureInput struct {
	UnitCode     string
	FeatureDate  time.Time
	ModelVersion string
	// Series is the unit's rainfall per period in mm, oldest first.
	Series []float64
	// Current is the most recent rainfall field in mm; Normal is its climatology.
	Current *raster.Grid
	Normal  *raster.Grid
	// History holds past totals in mm for the calendar month of FeatureDate, oldest first.
	History   []float64
	Embedding []float64
}

// Fits records which SPI branch produced each window's index.
type Fits struct {
	SPI1 SPIMethod
	SPI3 SPIMethod
	SPI6 SPIMethod
}

// Fallbacks counts the windows whose gamma fit fell back to a z-score.
func (f Fits) Fallbacks() int {
	n := 0
	for _, m := range []SPIMethod{f.SPI1, f.SPI3, f.SPI6} {
		if m == SPIFallback {
			n++
		}
	}
	return n
}

// ExtractFeatures computes every drought index for in and assembles a
// FeatureRecord. SPI-3 and SPI-6 compare the trailing 3 and 6 period totals
// against rolling sums of the month-matched history.
func ExtractFeatures(in FeatureInput, th Thresholds) (domain.FeatureRecord, Fits, error) {
	if in.Current == nil || in.Normal == nil {
		return domain.FeatureRecord{}, Fits{}, fmt.Errorf("%w: feature input needs current and normal grids", domain.ErrInvalidRecord)
	}

	var latest float64
	if len(in.Series) > 0 {
		latest = in.Series[len(in.Series)-1]
	}
	var historicalMean float64
	if len(in.History) > 0 {
		historicalMean = stat.Mean(in.History, nil)
	}

	spi1 := SPI(latest, in.History)
	spi3 := SPI(Cumulative(in.Series, 3), RollingSums(in.History, 3))
	spi6 := SPI(Cumulative(in.Series, 6), RollingSums(in.History, 6))

	dry := ConsecutiveDry(in.Series, th.DryPeriodMM)
	onset := RainySeasonOnsetAnomaly(in.Series, th.OnsetThresholdMM, th.ExpectedOnsetIndex)
	below := PctBelowNormal(in.Current, in.Normal, th.PercentNormalDrought)

	rec := domain.FeatureRecord{
		UnitCode:                   in.UnitCode,
		FeatureDate:                in.FeatureDate,
		ModelVersion:               in.ModelVersion,
		CumulativePrecipMM:         round(Cumulative(in.Series, 6), 2),
		PrecipAnomalyPct:           round(AnomalyPct(latest, historicalMean), 2),
		SPI1:                       round(spi1.Value, 3),
		SPI3:                       round(spi3.Value, 3),
		SPI6:                       round(spi6.Value, 3),
		ConsecutiveDryPeriods:      dry,
		RainySeasonOnsetAnomalyDay: onset * daysPerDekad,
		SpatialCV:                  round(SpatialCV(in.Current), 4),
		PrecipTrendSlope:           round(TrendSlope(in.Series), 6),
		PctBelowNormal:             round(below, 2),
		DroughtSeverityIndex:       round(DroughtSeverityIndex(spi3.Value, dry, below), 4),
		Embedding:                  in.Embedding,
	}
	fits := Fits{SPI1: spi1.Method, SPI3: spi3.Method, SPI6: spi6.Method}
	if err := rec.Validate(); err != nil {
		return domain.FeatureRecord{}, fits, err
	}
	return rec, fits, nil
}

const daysPerDekad = 10

// Driver tags, in display order.
const (
	DriverExtremeDeficit  = "extreme_precipitation_deficit"
	DriverSevereDeficit   = "severe_precipitation_deficit"
	DriverModerateDeficit = "moderate_precipitation_deficit"
	DriverDrySpell        = "prolonged_dry_spell"
	DriverBelowNormal     = "widespread_below_normal_rainfall"
	DriverDecliningTrend  = "declining_rainfall_trend"
	DriverDelayedSeason   = "delayed_rainy_season"
)

// PrimaryDrivers lists the conditions behind a unit's drought signal. At most
// one deficit tier is reported, the most severe that applies.
func PrimaryDrivers(f domain.FeatureRecord, th Thresholds) []string {
	drivers := []string{}
	switch {
	case f.SPI3 < th.SPIExtreme:
		drivers = append(drivers, DriverExtremeDeficit)
	case f.SPI3 < th.SPISevere:
		drivers = append(drivers, DriverSevereDeficit)
	case f.SPI3 < th.SPIModerate:
		drivers = append(drivers, DriverModerateDeficit)
	}
	if f.ConsecutiveDryPeriods >= 3 {
		drivers = append(drivers, DriverDrySpell)
	}
	if f.PctBelowNormal > 50 {
		drivers = append(drivers, DriverBelowNormal)
	}
	if f.PrecipTrendSlope < -5 {
		drivers = append(drivers, DriverDecliningTrend)
	}
	if f.RainySeasonOnsetAnomalyDay > 20 {
		drivers = append(drivers, DriverDelayedSeason)
	}
	return drivers
}
