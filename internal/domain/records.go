package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRecord is returned when a record fails construction-time validation.
var ErrInvalidRecord = errors.New("invalid record")

// ErrDataUnavailable signals that not enough usable input exists to proceed.
var ErrDataUnavailable = errors.New("data unavailable")

// AdministrativeUnit is a sub-county boundary with its population. Read-only.
type AdministrativeUnit struct {
	Code       string `json:"subcounty_code"`
	Name       string `json:"subcounty_name"`
	CountyCode string `json:"county_code"`
	CountyName string `json:"county_name"`
	Population int64  `json:"population"`
	Extent     BBox   `json:"extent"`
}

// FeatureRecord holds the drought indices and model embedding for one unit and date.
type FeatureRecord struct {
	UnitCode     string    `json:"subcounty_code"`
	FeatureDate  time.Time `json:"feature_date"`
	ModelVersion string    `json:"model_version"`

	CumulativePrecipMM         float64 `json:"cumulative_precip_mm"`
	PrecipAnomalyPct           float64 `json:"precip_anomaly_pct"`
	SPI1                       float64 `json:"spi_1month"`
	SPI3                       float64 `json:"spi_3month"`
	SPI6                       float64 `json:"spi_6month"`
	ConsecutiveDryPeriods      int     `json:"consecutive_dry_dekads"`
	RainySeasonOnsetAnomalyDay int     `json:"rainy_season_onset_anomaly_days"`
	SpatialCV                  float64 `json:"spatial_cv"`
	PrecipTrendSlope           float64 `json:"precip_trend_slope"`
	PctBelowNormal             float64 `json:"pct_below_normal"`
	DroughtSeverityIndex       float64 `json:"drought_severity_index"`

	Embedding []float64 `json:"feature_vector"`
}

// Validate checks the record key and the bounded indices.
func (f FeatureRecord) Validate() error {
	if f.UnitCode == "" {
		return fmt.Errorf("%w: feature record missing unit code", ErrInvalidRecord)
	}
	if f.FeatureDate.IsZero() {
		return fmt.Errorf("%w: feature record missing feature date", ErrInvalidRecord)
	}
	if f.ModelVersion == "" {
		return fmt.Errorf("%w: feature record missing model version", ErrInvalidRecord)
	}
	if f.DroughtSeverityIndex < 0 || f.DroughtSeverityIndex > 1 || math.IsNaN(f.DroughtSeverityIndex) {
		return fmt.Errorf("%w: drought severity index %v outside [0,1]", ErrInvalidRecord, f.DroughtSeverityIndex)
	}
	return nil
}

// PredictionRecord is the IPC phase prediction for one unit and target month.
type PredictionRecord struct {
	UnitCode       string    `json:"subcounty_code"`
	PredictionDate time.Time `json:"prediction_date"`
	TargetMonth    time.Time `json:"target_month"`
	ModelVersion   string    `json:"model_version"`

	Phase              Phase              `json:"ipc_phase_predicted"`
	PhaseProbabilities map[string]float64 `json:"ipc_phase_probability"`
	Confidence         float64            `json:"confidence_score"`
	RiskLevel          string             `json:"risk_level"`

	FoodInsecurePopulation int64   `json:"food_insecure_population"`
	PctFoodInsecure        float64 `json:"pct_food_insecure"`

	PrimaryDrivers    []string           `json:"primary_drivers"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

// probabilityTolerance bounds how far the phase distribution may drift from 1.
const probabilityTolerance = 1e-3

// Validate checks the record key, phase range and probability distribution.
func (p PredictionRecord) Validate() error {
	if p.UnitCode == "" {
		return fmt.Errorf("%w: prediction missing unit code", ErrInvalidRecord)
	}
	if p.TargetMonth.IsZero() {
		return fmt.Errorf("%w: prediction missing target month", ErrInvalidRecord)
	}
	if p.ModelVersion == "" {
		return fmt.Errorf("%w: prediction missing model version", ErrInvalidRecord)
	}
	if !p.Phase.Valid() {
		return fmt.Errorf("%w: phase %d outside 1..5", ErrInvalidRecord, p.Phase)
	}
	var sum float64
	for _, v := range p.PhaseProbabilities {
		sum += v
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("%w: phase probabilities sum to %.4f", ErrInvalidRecord, sum)
	}
	return nil
}
