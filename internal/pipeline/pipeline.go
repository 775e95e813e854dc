package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/drought"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/observability"
)

// Config holds the model and run settings of an Orchestrator.
type Config struct {
	ModelVersion   string
	SequenceLength int
	TargetRows     int
	TargetCols     int
	// Region is clipped for units without an extent of their own.
	Region     domain.BBox
	Thresholds drought.Thresholds

	UnitConcurrency int
	// UnitTimeout bounds all store and predictor calls of one unit. Zero disables it.
	UnitTimeout time.Duration
}

// RunReport is the outcome of one monthly run.
type RunReport struct {
	RunID       uuid.UUID                 `json:"run_id"`
	TargetMonth time.Time                 `json:"target_month"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
	Predictions []domain.PredictionRecord `json:"predictions"`
	Summary     domain.Summary            `json:"summary"`
	Failures    []*UnitError              `json:"failures"`
}

// Orchestrator runs the per-unit prediction pipeline: sequence, features,
// prediction and persistence.
type Orchestrator struct {
	store     Store
	history   HistoryProvider
	predictor Predictor
	sequences SequenceBuilder
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	latest    atomic.Pointer[RunReport]
}

// New creates an Orchestrator. Pass a nil publisher to disable publishing.
// With more than one unit in flight the predictor is serialized.
func New(store Store, history HistoryProvider, predictor Predictor, sequences SequenceBuilder, publisher Publisher,
	cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if cfg.UnitConcurrency <= 0 {
		cfg.UnitConcurrency = 1
	}
	if cfg.UnitConcurrency > 1 {
		predictor = NewSerialPredictor(predictor)
	}
	return &Orchestrator{
		store:     store,
		history:   history,
		predictor: predictor,
		sequences: sequences,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a monthly run has completed, or an error
// describing why the service is not yet ready.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no monthly run has completed yet")
	}
	return nil
}

// LatestReport returns the report of the most recent completed run.
func (o *Orchestrator) LatestReport() (*RunReport, bool) {
	r := o.latest.Load()
	return r, r != nil
}

// RunMonthly predicts every administrative unit for the month containing
// target. A unit that fails is logged and left out; only failing to list the
// units aborts the run.
func (o *Orchestrator) RunMonthly(ctx context.Context, target time.Time) (*RunReport, error) {
	target = time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)
	report := &RunReport{
		RunID:       uuid.New(),
		TargetMonth: target,
		StartedAt:   domain.Now(),
	}
	logger := o.logger.With("run_id", report.RunID.String(), "target_month", target.Format("2006-01"))

	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)
	start := time.Now()

	units, err := o.store.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	logger.Info("monthly run started", "units", len(units), "concurrency", o.cfg.UnitConcurrency)

	preds := make([]*domain.PredictionRecord, len(units))
	fails := make([]*UnitError, len(units))

	var g errgroup.Group
	g.SetLimit(o.cfg.UnitConcurrency)
	for i, unit := range units {
		g.Go(func() error {
			rec, uerr := o.processUnit(ctx, logger, unit, target)
			if uerr != nil {
				logger.Warn("unit failed, skipping",
					"unit_code", unit.Code,
					"stage", uerr.Stage,
					"error", uerr.Err,
				)
				o.metrics.UnitFailures.WithLabelValues(string(uerr.Stage)).Inc()
				fails[i] = uerr
				// A failed unit never cancels its siblings.
				return nil
			}
			preds[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	report.Predictions = make([]domain.PredictionRecord, 0, len(units))
	report.Failures = []*UnitError{}
	for i := range units {
		switch {
		case preds[i] != nil:
			report.Predictions = append(report.Predictions, *preds[i])
		case fails[i] != nil:
			report.Failures = append(report.Failures, fails[i])
		}
	}
	report.Summary = domain.Summarize(report.Predictions)
	report.FinishedAt = domain.Now()

	o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	o.metrics.LastRunUnits.Set(float64(len(report.Predictions)))
	o.latest.Store(report)
	o.ready.Store(true)

	logger.Info("monthly run completed",
		"predicted", len(report.Predictions),
		"failed", len(report.Failures),
		"average_phase", report.Summary.AveragePhase,
		"high_risk_units", len(report.Summary.HighRiskUnits),
		"duration", time.Since(start),
	)
	return report, nil
}

// processUnit carries one unit from sequence to persisted prediction.
// A panic in any stage is recovered as a failure of that stage.
func (o *Orchestrator) processUnit(ctx context.Context, logger *slog.Logger, unit domain.AdministrativeUnit, target time.Time) (rec domain.PredictionRecord, uerr *UnitError) {
	stage := StageSequence
	defer func() {
		if r := recover(); r != nil {
			rec, uerr = domain.PredictionRecord{}, unitErr(unit.Code, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	if o.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.UnitTimeout)
		defer cancel()
	}
	logger = logger.With("unit_code", unit.Code)

	seq, ok, err := o.PrepareSequence(ctx, unit, target, o.cfg.SequenceLength)
	if err != nil {
		return domain.PredictionRecord{}, unitErr(unit.Code, StageSequence, err)
	}
	if !ok {
		logger.Debug("using synthetic sequence", "stage", StageSequence)
		o.metrics.SequenceFallbacks.Inc()
		seq = SyntheticSequence(unit.Code, target, o.cfg.SequenceLength, o.cfg.TargetRows, o.cfg.TargetCols)
	}

	stage = StageFeatures
	features, cls, err := o.ExtractFeatures(ctx, unit, seq, target)
	if err != nil {
		return domain.PredictionRecord{}, unitErr(unit.Code, StageFeatures, err)
	}
	stage = StagePersistFeatures
	if err := o.store.UpsertFeatures(ctx, features); err != nil {
		return domain.PredictionRecord{}, unitErr(unit.Code, StagePersistFeatures, err)
	}

	stage = StagePredict
	pred, err := o.Predict(unit, features, cls, target)
	if err != nil {
		return domain.PredictionRecord{}, unitErr(unit.Code, StagePredict, err)
	}
	stage = StagePersistPrediction
	if err := o.store.UpsertPrediction(ctx, pred); err != nil {
		return domain.PredictionRecord{}, unitErr(unit.Code, StagePersistPrediction, err)
	}

	o.metrics.UnitsProcessed.Inc()
	o.metrics.Predictions.WithLabelValues(strconv.Itoa(int(pred.Phase))).Inc()
	stage = StagePublish
	o.publish(ctx, logger, pred)

	logger.Debug("unit predicted", "phase", int(pred.Phase), "risk_level", pred.RiskLevel)
	return pred, nil
}

// publish announces a persisted prediction. Failures are logged, never fatal.
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, pred domain.PredictionRecord) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, pred); err != nil {
		logger.Warn("publish prediction failed", "error", err)
		o.metrics.PublishErrors.Inc()
	}
}
