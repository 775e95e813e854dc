package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// Store lists the administrative units and raster catalog and persists the
// per-unit records. Upserts overwrite any record with the same key.
type Store interface {
	ListUnits(ctx context.Context) ([]domain.AdministrativeUnit, error)
	ListRasters(ctx context.Context, filter domain.RasterFilter) ([]domain.RasterAsset, error)
	UpsertFeatures(ctx context.Context, rec domain.FeatureRecord) error
	UpsertPrediction(ctx context.Context, rec domain.PredictionRecord) error
}

// HistoryProvider returns past rainfall totals in mm for one unit and calendar
// month, oldest first. An empty history is valid.
type HistoryProvider interface {
	MonthlyHistory(ctx context.Context, unitCode string, month time.Month) ([]float64, error)
}

// Predictor is the model-serving contract.
type Predictor interface {
	Embed(ctx context.Context, seq *raster.Sequence) ([]float64, error)
	Classify(ctx context.Context, seq *raster.Sequence) (domain.Classification, error)
}

// SequenceBuilder assembles a temporal sequence from raster paths.
type SequenceBuilder interface {
	BuildTemporalSequence(ctx context.Context, paths []string, length int, bbox domain.BBox) (*raster.Sequence, bool)
}

// Publisher announces persisted predictions downstream.
type Publisher interface {
	Publish(ctx context.Context, rec domain.PredictionRecord) error
}

// SerialPredictor admits one call at a time to a Predictor that does not
// tolerate concurrent use.
type SerialPredictor struct {
	mu    sync.Mutex
	inner Predictor
}

// NewSerialPredictor wraps p behind a single-access gate.
func NewSerialPredictor(p Predictor) *SerialPredictor {
	return &SerialPredictor{inner: p}
}

func (s *SerialPredictor) Embed(ctx context.Context, seq *raster.Sequence) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Embed(ctx, seq)
}

func (s *SerialPredictor) Classify(ctx context.Context, seq *raster.Sequence) (domain.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	return s.inner.Classify(ctx, seq)
}
