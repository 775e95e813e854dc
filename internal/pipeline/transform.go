package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/drought"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

const (
	// rainfallScale converts normalized frame values back to mm.
	rainfallScale = 500.0
	// normalRainfallMM is the climatological monthly normal assumed for every pixel.
	normalRainfallMM = 50.0
	// daysPerStep is the nominal length of one sequence step.
	daysPerStep = 30
)

// phaseMultipliers is the share of the population estimated food insecure per phase.
var phaseMultipliers = map[domain.Phase]float64{
	domain.PhaseMinimal:   0.05,
	domain.PhaseStressed:  0.15,
	domain.PhaseCrisis:    0.30,
	domain.PhaseEmergency: 0.50,
	domain.PhaseFamine:    0.70,
}

const defaultPhaseMultiplier = 0.10

// FeatureImportance is the design-time weight of each drought index in the model.
func FeatureImportance() map[string]float64 {
	return map[string]float64{
		"spi_3month":             0.25,
		"consecutive_dry_dekads": 0.20,
		"drought_severity_index": 0.18,
		"pct_below_normal":       0.15,
		"precip_anomaly_pct":     0.12,
		"precip_trend_slope":     0.10,
	}
}

// PrepareSequence assembles the unit's sequence from completed monthly rasters
// starting within length*30 days before target. It returns false when fewer
// than length rasters qualify or can be read.
func (o *Orchestrator) PrepareSequence(ctx context.Context, unit domain.AdministrativeUnit, target time.Time, length int) (*raster.Sequence, bool, error) {
	assets, err := o.store.ListRasters(ctx, domain.RasterFilter{
		DataType: domain.Monthly,
		Status:   domain.StatusCompleted,
		From:     target.AddDate(0, 0, -length*daysPerStep),
		To:       target,
	})
	if err != nil {
		return nil, false, fmt.Errorf("list rasters: %w", err)
	}

	paths := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Usable() {
			paths = append(paths, a.FilePath)
		}
	}
	if len(paths) < length {
		o.logger.Debug("insufficient rasters",
			"unit_code", unit.Code,
			"need", length,
			"have", len(paths),
		)
		return nil, false, nil
	}

	bbox := unit.Extent
	if !bbox.Valid() {
		bbox = o.cfg.Region
	}
	seq, ok := o.sequences.BuildTemporalSequence(ctx, paths, length, bbox)
	return seq, ok, nil
}

// ExtractFeatures asks the predictor for the sequence's embedding and phase
// distribution, then computes the drought indices from the sequence rescaled
// to mm.
func (o *Orchestrator) ExtractFeatures(ctx context.Context, unit domain.AdministrativeUnit, seq *raster.Sequence, target time.Time) (domain.FeatureRecord, domain.Classification, error) {
	embedding, err := o.predictor.Embed(ctx, seq)
	if err != nil {
		return domain.FeatureRecord{}, domain.Classification{}, fmt.Errorf("embed: %w", err)
	}
	cls, err := o.predictor.Classify(ctx, seq)
	if err != nil {
		return domain.FeatureRecord{}, domain.Classification{}, fmt.Errorf("classify: %w", err)
	}
	if err := cls.Validate(); err != nil {
		return domain.FeatureRecord{}, domain.Classification{}, fmt.Errorf("classify: %w", err)
	}

	history, err := o.history.MonthlyHistory(ctx, unit.Code, target.Month())
	if err != nil {
		return domain.FeatureRecord{}, domain.Classification{}, fmt.Errorf("history: %w", err)
	}

	series := seq.MeanSeries()
	for i := range series {
		series[i] *= rainfallScale
	}
	current := seq.Last().Scaled(rainfallScale)

	rec, fits, err := drought.ExtractFeatures(drought.FeatureInput{
		UnitCode:     unit.Code,
		FeatureDate:  target,
		ModelVersion: o.cfg.ModelVersion,
		Series:       series,
		Current:      current,
		Normal:       raster.Filled(current.Rows, current.Cols, normalRainfallMM),
		History:      history,
		Embedding:    embedding,
	}, o.cfg.Thresholds)
	if err != nil {
		return domain.FeatureRecord{}, domain.Classification{}, err
	}

	if n := fits.Fallbacks(); n > 0 {
		o.logger.Debug("spi gamma fit fell back to z-score",
			"unit_code", unit.Code,
			"spi_1", fits.SPI1,
			"spi_3", fits.SPI3,
			"spi_6", fits.SPI6,
		)
		o.metrics.SPIFitFallbacks.Add(float64(n))
	}
	return rec, cls, nil
}

// Predict assembles the unit's prediction from its features and the
// predictor's classification.
func (o *Orchestrator) Predict(unit domain.AdministrativeUnit, features domain.FeatureRecord, cls domain.Classification, target time.Time) (domain.PredictionRecord, error) {
	mult, ok := phaseMultipliers[cls.Phase]
	if !ok {
		mult = defaultPhaseMultiplier
	}
	population := max(unit.Population, 0)
	insecure := int64(float64(population) * mult)
	pct := float64(insecure) / float64(max(population, 1)) * 100

	pred := domain.PredictionRecord{
		UnitCode:               unit.Code,
		PredictionDate:         domain.Now(),
		TargetMonth:            target,
		ModelVersion:           o.cfg.ModelVersion,
		Phase:                  cls.Phase,
		PhaseProbabilities:     cls.ProbabilityMap(),
		Confidence:             cls.Confidence(),
		RiskLevel:              cls.Phase.RiskLevel(),
		FoodInsecurePopulation: insecure,
		PctFoodInsecure:        math.Round(pct*100) / 100,
		PrimaryDrivers:         drought.PrimaryDrivers(features, o.cfg.Thresholds),
		FeatureImportance:      FeatureImportance(),
	}
	if err := pred.Validate(); err != nil {
		return domain.PredictionRecord{}, err
	}
	return pred, nil
}
