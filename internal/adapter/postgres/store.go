package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

// Store implements pipeline.Store and pipeline.HistoryProvider.
type Store struct {
	db DBTX
}

// NewStore creates a Store backed by a pool or transaction.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// HistoryPoint is one unit's rainfall total for a calendar month.
type HistoryPoint struct {
	UnitCode string
	Year     int
	Month    time.Month
	PrecipMM float64
}

const unitColumns = `subcounty_code, subcounty_name, county_code, county_name, population,
	min_lat, max_lat, min_lon, max_lon`

// ListUnits returns every administrative unit ordered by code.
func (s *Store) ListUnits(ctx context.Context) ([]domain.AdministrativeUnit, error) {
	rows, err := s.db.Query(ctx, `SELECT `+unitColumns+` FROM admin_units ORDER BY subcounty_code`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []domain.AdministrativeUnit
	for rows.Next() {
		var (
			u                              domain.AdministrativeUnit
			minLat, maxLat, minLon, maxLon *float64
		)
		if err := rows.Scan(&u.Code, &u.Name, &u.CountyCode, &u.CountyName, &u.Population,
			&minLat, &maxLat, &minLon, &maxLon); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if minLat != nil && maxLat != nil && minLon != nil && maxLon != nil {
			u.Extent = domain.BBox{MinLat: *minLat, MaxLat: *maxLat, MinLon: *minLon, MaxLon: *maxLon}
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// ListRasters returns the catalog entries matching filter, oldest first.
func (s *Store) ListRasters(ctx context.Context, filter domain.RasterFilter) ([]domain.RasterAsset, error) {
	query, args := rasterQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rasters: %w", err)
	}
	defer rows.Close()

	var assets []domain.RasterAsset
	for rows.Next() {
		var (
			a                domain.RasterAsset
			dataType, status string
		)
		if err := rows.Scan(&dataType, &a.Year, &a.Month, &a.Dekad, &a.StartDate, &a.EndDate,
			&a.FilePath, &a.Checksum, &status); err != nil {
			return nil, fmt.Errorf("scan raster: %w", err)
		}
		a.DataType = domain.DataType(dataType)
		a.Status = domain.AssetStatus(status)
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rasters: %w", err)
	}
	return assets, nil
}

// rasterQuery bounds start_date on both ends, matching RasterFilter.Matches,
// so a raster starting on To is included.
func rasterQuery(f domain.RasterFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DataType != "" {
		add("data_type = $%d", string(f.DataType))
	}
	if f.Status != "" {
		add("download_status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("start_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_date <= $%d", f.To)
	}

	var b strings.Builder
	b.WriteString(`SELECT data_type, year, month, dekad, start_date, end_date, file_path, checksum, download_status
FROM raster_assets`)
	if len(conds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\nORDER BY start_date, dekad")
	return b.String(), args
}

const upsertFeaturesSQL = `INSERT INTO drought_features (
    subcounty_code, feature_date, model_version,
    cumulative_precip_mm, precip_anomaly_pct, spi_1month, spi_3month, spi_6month,
    consecutive_dry_dekads, rainy_season_onset_anomaly_days, spatial_cv,
    precip_trend_slope, pct_below_normal, drought_severity_index, feature_vector)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (subcounty_code, feature_date, model_version) DO UPDATE
SET cumulative_precip_mm = EXCLUDED.cumulative_precip_mm,
    precip_anomaly_pct = EXCLUDED.precip_anomaly_pct,
    spi_1month = EXCLUDED.spi_1month,
    spi_3month = EXCLUDED.spi_3month,
    spi_6month = EXCLUDED.spi_6month,
    consecutive_dry_dekads = EXCLUDED.consecutive_dry_dekads,
    rainy_season_onset_anomaly_days = EXCLUDED.rainy_season_onset_anomaly_days,
    spatial_cv = EXCLUDED.spatial_cv,
    precip_trend_slope = EXCLUDED.precip_trend_slope,
    pct_below_normal = EXCLUDED.pct_below_normal,
    drought_severity_index = EXCLUDED.drought_severity_index,
    feature_vector = EXCLUDED.feature_vector,
    updated_at = now()`

// UpsertFeatures writes rec, replacing any record with the same unit, date
// and model version.
func (s *Store) UpsertFeatures(ctx context.Context, rec domain.FeatureRecord) error {
	embedding := rec.Embedding
	if embedding == nil {
		embedding = []float64{}
	}
	_, err := s.db.Exec(ctx, upsertFeaturesSQL,
		rec.UnitCode, rec.FeatureDate, rec.ModelVersion,
		rec.CumulativePrecipMM, rec.PrecipAnomalyPct, rec.SPI1, rec.SPI3, rec.SPI6,
		rec.ConsecutiveDryPeriods, rec.RainySeasonOnsetAnomalyDay, rec.SpatialCV,
		rec.PrecipTrendSlope, rec.PctBelowNormal, rec.DroughtSeverityIndex, embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert features %s: %w", rec.UnitCode, err)
	}
	return nil
}

const upsertPredictionSQL = `INSERT INTO ipc_predictions (
    subcounty_code, target_month, model_version, prediction_date,
    ipc_phase_predicted, ipc_phase_probability, confidence_score, risk_level,
    food_insecure_population, pct_food_insecure, primary_drivers, feature_importance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (subcounty_code, target_month, model_version) DO UPDATE
SET prediction_date = EXCLUDED.prediction_date,
    ipc_phase_predicted = EXCLUDED.ipc_phase_predicted,
    ipc_phase_probability = EXCLUDED.ipc_phase_probability,
    confidence_score = EXCLUDED.confidence_score,
    risk_level = EXCLUDED.risk_level,
    food_insecure_population = EXCLUDED.food_insecure_population,
    pct_food_insecure = EXCLUDED.pct_food_insecure,
    primary_drivers = EXCLUDED.primary_drivers,
    feature_importance = EXCLUDED.feature_importance`

// UpsertPrediction writes rec, replacing any prediction with the same unit,
// target month and model version.
func (s *Store) UpsertPrediction(ctx context.Context, rec domain.PredictionRecord) error {
	drivers := rec.PrimaryDrivers
	if drivers == nil {
		drivers = []string{}
	}
	_, err := s.db.Exec(ctx, upsertPredictionSQL,
		rec.UnitCode, rec.TargetMonth, rec.ModelVersion, rec.PredictionDate,
		int(rec.Phase), rec.PhaseProbabilities, rec.Confidence, rec.RiskLevel,
		rec.FoodInsecurePopulation, rec.PctFoodInsecure, drivers, rec.FeatureImportance,
	)
	if err != nil {
		return fmt.Errorf("upsert prediction %s: %w", rec.UnitCode, err)
	}
	return nil
}

// MonthlyHistory returns the unit's recorded totals for month, oldest year
// first. Units without history get an empty slice.
func (s *Store) MonthlyHistory(ctx context.Context, unitCode string, month time.Month) ([]float64, error) {
	rows, err := s.db.Query(ctx, `SELECT precip_mm FROM precipitation_history
WHERE subcounty_code = $1 AND month = $2
ORDER BY year`, unitCode, int(month))
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", unitCode, err)
	}
	history, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return nil, fmt.Errorf("collect history %s: %w", unitCode, err)
	}
	return history, nil
}

// UpsertUnits inserts or updates administrative units in one batch.
func (s *Store) UpsertUnits(ctx context.Context, units []domain.AdministrativeUnit) error {
	if len(units) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO admin_units (` + unitColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (subcounty_code) DO UPDATE
SET subcounty_name = EXCLUDED.subcounty_name,
    county_code = EXCLUDED.county_code,
    county_name = EXCLUDED.county_name,
    population = EXCLUDED.population,
    min_lat = EXCLUDED.min_lat,
    max_lat = EXCLUDED.max_lat,
    min_lon = EXCLUDED.min_lon,
    max_lon = EXCLUDED.max_lon`

	for _, u := range units {
		var minLat, maxLat, minLon, maxLon *float64
		if u.Extent.Valid() {
			minLat, maxLat, minLon, maxLon = &u.Extent.MinLat, &u.Extent.MaxLat, &u.Extent.MinLon, &u.Extent.MaxLon
		}
		batch.Queue(query, u.Code, u.Name, u.CountyCode, u.CountyName, u.Population,
			minLat, maxLat, minLon, maxLon)
	}
	return s.sendBatch(ctx, batch, "upsert units")
}

// RegisterRasters records catalog entries in one batch, keyed by data type,
// year, month and dekad.
func (s *Store) RegisterRasters(ctx context.Context, assets []domain.RasterAsset) error {
	if len(assets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO raster_assets (data_type, year, month, dekad, start_date, end_date, file_path, checksum, download_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (data_type, year, month, dekad) DO UPDATE
SET start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    file_path = EXCLUDED.file_path,
    checksum = EXCLUDED.checksum,
    download_status = EXCLUDED.download_status,
    updated_at = now()`

	for _, a := range assets {
		batch.Queue(query, string(a.DataType), a.Year, a.Month, a.Dekad, a.StartDate, a.EndDate,
			a.FilePath, a.Checksum, string(a.Status))
	}
	return s.sendBatch(ctx, batch, "register rasters")
}

// RecordHistory inserts or updates monthly rainfall totals in one batch.
func (s *Store) RecordHistory(ctx context.Context, points []HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO precipitation_history (subcounty_code, year, month, precip_mm)
VALUES ($1,$2,$3,$4)
ON CONFLICT (subcounty_code, year, month) DO UPDATE
SET precip_mm = EXCLUDED.precip_mm`

	for _, p := range points {
		batch.Queue(query, p.UnitCode, p.Year, int(p.Month), p.PrecipMM)
	}
	return s.sendBatch(ctx, batch, "record history")
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, op string) error {
	res := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			_ = res.Close()
			return fmt.Errorf("%s: item %d: %w", op, i, err)
		}
	}
	if err := res.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
