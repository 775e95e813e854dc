package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/drought"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/observability"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/pipeline"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type featureKey struct {
	code    string
	date    time.Time
	version string
}

type predictionKey struct {
	code    string
	month   time.Time
	version string
}

// memStore upserts by record key, like the SQL store's ON CONFLICT clauses.
type memStore struct {
	mu          sync.Mutex
	units       []domain.AdministrativeUnit
	rasters     []domain.RasterAsset
	listErr     error
	failPredict map[string]bool
	panicOn     map[string]bool
	filters     []domain.RasterFilter
	features    map[featureKey]domain.FeatureRecord
	predictions map[predictionKey]domain.PredictionRecord
}

func newMemStore(units ...domain.AdministrativeUnit) *memStore {
	return &memStore{
		units:       units,
		failPredict: make(map[string]bool),
		panicOn:     make(map[string]bool),
		features:    make(map[featureKey]domain.FeatureRecord),
		predictions: make(map[predictionKey]domain.PredictionRecord),
	}
}

func (s *memStore) ListUnits(context.Context) ([]domain.AdministrativeUnit, error) {
	return s.units, s.listErr
}

func (s *memStore) ListRasters(_ context.Context, f domain.RasterFilter) ([]domain.RasterAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
	var out []domain.RasterAsset
	for _, a := range s.rasters {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *memStore) UpsertFeatures(_ context.Context, rec domain.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn[rec.UnitCode] {
		panic("nil pointer dereference in driver")
	}
	s.features[featureKey{rec.UnitCode, rec.FeatureDate, rec.ModelVersion}] = rec
	return nil
}

func (s *memStore) UpsertPrediction(_ context.Context, rec domain.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPredict[rec.UnitCode] {
		return errors.New("connection reset by peer")
	}
	s.predictions[predictionKey{rec.UnitCode, rec.TargetMonth, rec.ModelVersion}] = rec
	return nil
}

func (s *memStore) predictionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.predictions)
}

type stubHistory struct {
	history []float64
	err     error
}

func (h *stubHistory) MonthlyHistory(context.Context, string, time.Month) ([]float64, error) {
	return h.history, h.err
}

type stubPredictor struct {
	cls      domain.Classification
	block    bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func crisis() domain.Classification {
	return domain.Classification{Phase: domain.PhaseCrisis, Probabilities: []float64{0.05, 0.15, 0.6, 0.15, 0.05}}
}

func (p *stubPredictor) enter() func() {
	n := p.inFlight.Add(1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { p.inFlight.Add(-1) }
}

func (p *stubPredictor) Embed(ctx context.Context, _ *raster.Sequence) ([]float64, error) {
	defer p.enter()()
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []float64{0.1, 0.2, 0.3, 0.4}, nil
}

func (p *stubPredictor) Classify(_ context.Context, _ *raster.Sequence) (domain.Classification, error) {
	defer p.enter()()
	return p.cls, nil
}

type stubSequences struct {
	calls atomic.Int32
	bbox  domain.BBox
	paths []string
	mu    sync.Mutex
}

func (s *stubSequences) BuildTemporalSequence(_ context.Context, paths []string, length int, bbox domain.BBox) (*raster.Sequence, bool) {
	s.calls.Add(1)
	s.mu.Lock()
	s.bbox = bbox
	s.paths = paths
	s.mu.Unlock()
	if len(paths) < length {
		return nil, false
	}
	return pipeline.SyntheticSequence("real", time.Time{}, length, 8, 8), true
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, rec domain.PredictionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, rec.UnitCode)
	return nil
}

// --- helpers ---

var target = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func testConfig() pipeline.Config {
	return pipeline.Config{
		ModelVersion:    "v1.0",
		SequenceLength:  12,
		TargetRows:      8,
		TargetCols:      8,
		Region:          domain.KenyaASAL,
		Thresholds:      drought.DefaultThresholds(),
		UnitConcurrency: 1,
		UnitTimeout:     5 * time.Second,
	}
}

func units(n int) []domain.AdministrativeUnit {
	out := make([]domain.AdministrativeUnit, n)
	for i := range out {
		out[i] = domain.AdministrativeUnit{
			Code:       fmt.Sprintf("KE0230%02d", i+1),
			Name:       fmt.Sprintf("Unit %d", i+1),
			Population: 10000 * int64(i+1),
		}
	}
	return out
}

type fixture struct {
	store     *memStore
	predictor *stubPredictor
	sequences *stubSequences
	metrics   *observability.Metrics
}

func newFixture(us ...domain.AdministrativeUnit) *fixture {
	return &fixture{
		store:     newMemStore(us...),
		predictor: &stubPredictor{cls: crisis()},
		sequences: &stubSequences{},
		metrics:   observability.NewMetricsForTesting(),
	}
}

func (f *fixture) orchestrator(cfg pipeline.Config, pub pipeline.Publisher) *pipeline.Orchestrator {
	return pipeline.New(f.store, &stubHistory{}, f.predictor, f.sequences, pub, cfg, slog.Default(), f.metrics)
}

func monthlyCatalog(t *testing.T, from time.Time, n int) []domain.RasterAsset {
	t.Helper()
	out := make([]domain.RasterAsset, n)
	for i := range out {
		m := from.AddDate(0, i, 0)
		a, err := domain.NewRasterAsset(domain.Monthly, m.Year(), int(m.Month()), 0,
			"/data/"+domain.CHIRPSFileName(domain.Monthly, m.Year(), int(m.Month()), 0), domain.StatusCompleted)
		require.NoError(t, err)
		out[i] = a
	}
	return out
}

// --- tests ---

func TestRunMonthly_NoUnits(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(testConfig(), nil)

	require.Error(t, o.CheckReadiness(context.Background()))

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	assert.Empty(t, report.Predictions)
	assert.Empty(t, report.Failures)
	assert.True(t, report.Summary.IsEmpty())
	assert.Equal(t, domain.Summary{}, report.Summary)
	require.NoError(t, o.CheckReadiness(context.Background()))
}

func TestRunMonthly_HappyPath(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.March, 2, 6, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	f := newFixture(units(3)...)
	pub := &recordingPublisher{}
	o := f.orchestrator(testConfig(), pub)

	report, err := o.RunMonthly(context.Background(), target.AddDate(0, 0, 14))
	require.NoError(t, err)

	require.Len(t, report.Predictions, 3)
	assert.Equal(t, target, report.TargetMonth, "target is truncated to the month")
	assert.Equal(t, 3, f.store.predictionCount())
	assert.Len(t, f.store.features, 3)
	assert.Equal(t, []string{"KE023001", "KE023002", "KE023003"}, pub.sent)

	p := report.Predictions[1]
	assert.Equal(t, domain.PhaseCrisis, p.Phase)
	assert.Equal(t, "crisis", p.RiskLevel)
	assert.Equal(t, int64(6000), p.FoodInsecurePopulation)
	assert.Equal(t, 30.0, p.PctFoodInsecure)
	assert.Equal(t, 0.6, p.Confidence)
	assert.Equal(t, fake.Now(), p.PredictionDate)

	want := domain.Summary{
		TotalUnits:                  3,
		RiskDistribution:            map[string]int{"crisis": 3},
		AveragePhase:                3,
		MaxPhase:                    domain.PhaseCrisis,
		TotalFoodInsecurePopulation: 18000,
		HighRiskUnits:               []string{"KE023001", "KE023002", "KE023003"},
	}
	if diff := cmp.Diff(want, report.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.UnitsProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SequenceFallbacks), "empty catalog falls back to synthetic sequences")
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Predictions.WithLabelValues("3")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LastRunUnits))
	assert.Zero(t, testutil.ToFloat64(f.metrics.PipelineRunning))

	latest, ok := o.LatestReport()
	require.True(t, ok)
	assert.Equal(t, report.RunID, latest.RunID)
}

func TestRunMonthly_PersistenceFailureIsolated(t *testing.T) {
	f := newFixture(units(4)...)
	f.store.failPredict["KE023002"] = true
	o := f.orchestrator(testConfig(), nil)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	var codes []string
	for _, p := range report.Predictions {
		codes = append(codes, p.UnitCode)
	}
	assert.Equal(t, []string{"KE023001", "KE023003", "KE023004"}, codes)
	assert.Equal(t, 3, f.store.predictionCount())

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "KE023002", report.Failures[0].Code)
	assert.Equal(t, pipeline.StagePersistPrediction, report.Failures[0].Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UnitFailures.WithLabelValues("persist_prediction")))
}

func TestRunMonthly_IdempotentRerun(t *testing.T) {
	f := newFixture(units(2)...)
	o := f.orchestrator(testConfig(), nil)

	first, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)
	second, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, f.store.predictionCount())
	assert.Len(t, f.store.features, 2)

	// Synthetic sequences are seeded, so a rerun reproduces the features.
	for i := range first.Predictions {
		assert.Equal(t, first.Predictions[i].PrimaryDrivers, second.Predictions[i].PrimaryDrivers)
	}
}

func TestRunMonthly_ListUnitsFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.store.listErr = errors.New("relation admin3_boundaries does not exist")
	o := f.orchestrator(testConfig(), nil)

	_, err := o.RunMonthly(context.Background(), target)
	require.Error(t, err)
	assert.ErrorContains(t, err, "list units")
	require.Error(t, o.CheckReadiness(context.Background()))
}

func TestRunMonthly_ConcurrentUnitsKeepOrderAndSerializePredictor(t *testing.T) {
	f := newFixture(units(12)...)
	cfg := testConfig()
	cfg.UnitConcurrency = 4
	o := f.orchestrator(cfg, nil)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	require.Len(t, report.Predictions, 12)
	for i, p := range report.Predictions {
		assert.Equal(t, fmt.Sprintf("KE0230%02d", i+1), p.UnitCode)
	}
	assert.Equal(t, int32(1), f.predictor.maxSeen.Load(), "predictor must never see concurrent calls")
}

func TestRunMonthly_UnitTimeout(t *testing.T) {
	f := newFixture(units(2)...)
	f.predictor.block = true
	cfg := testConfig()
	cfg.UnitTimeout = 20 * time.Millisecond
	o := f.orchestrator(cfg, nil)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	assert.Empty(t, report.Predictions)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, pipeline.StageFeatures, report.Failures[0].Stage)
	assert.ErrorIs(t, report.Failures[0], context.DeadlineExceeded)
}

func TestRunMonthly_PublishFailureNotFatal(t *testing.T) {
	f := newFixture(units(2)...)
	pub := &recordingPublisher{err: errors.New("kafka: leader not available")}
	o := f.orchestrator(testConfig(), pub)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	assert.Len(t, report.Predictions, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PublishErrors))
}

func TestRunMonthly_PanicIsolatedToUnit(t *testing.T) {
	f := newFixture(units(3)...)
	f.store.panicOn["KE023002"] = true
	o := f.orchestrator(testConfig(), nil)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)

	require.Len(t, report.Predictions, 2)
	assert.Equal(t, "KE023001", report.Predictions[0].UnitCode)
	assert.Equal(t, "KE023003", report.Predictions[1].UnitCode)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "KE023002", report.Failures[0].Code)
	assert.Equal(t, pipeline.StagePersistFeatures, report.Failures[0].Stage)
	assert.ErrorContains(t, report.Failures[0], "panic: nil pointer dereference in driver")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UnitFailures.WithLabelValues("persist_features")))
}

func TestRunMonthly_HistoryFailureSkipsUnit(t *testing.T) {
	f := newFixture(units(1)...)
	o := pipeline.New(f.store, &stubHistory{err: errors.New("timeout")}, f.predictor, f.sequences, nil,
		testConfig(), slog.Default(), f.metrics)

	report, err := o.RunMonthly(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, pipeline.StageFeatures, report.Failures[0].Stage)
	assert.Zero(t, f.store.predictionCount())
}

func TestPrepareSequence_UsesCatalogWindow(t *testing.T) {
	f := newFixture()
	f.store.rasters = monthlyCatalog(t, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC), 16)
	o := f.orchestrator(testConfig(), nil)

	unit := domain.AdministrativeUnit{Code: "KE023001"}
	seq, ok, err := o.PrepareSequence(context.Background(), unit, target, 12)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [4]int{12, 8, 8, 1}, seq.Shape())

	require.Len(t, f.store.filters, 1)
	filter := f.store.filters[0]
	assert.Equal(t, domain.Monthly, filter.DataType)
	assert.Equal(t, domain.StatusCompleted, filter.Status)
	assert.Equal(t, target.AddDate(0, 0, -360), filter.From)
	assert.Equal(t, target, filter.To)
	assert.Equal(t, domain.KenyaASAL, f.sequences.bbox, "units without an extent use the region")
}

func TestPrepareSequence_IncludesTargetMonth(t *testing.T) {
	f := newFixture()
	f.store.rasters = monthlyCatalog(t, time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC), 13)
	o := f.orchestrator(testConfig(), nil)

	_, ok, err := o.PrepareSequence(context.Background(), domain.AdministrativeUnit{Code: "KE023001"}, target, 12)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, f.sequences.paths, 12)
	assert.Equal(t, "/data/"+domain.CHIRPSFileName(domain.Monthly, 2023, 4, 0), f.sequences.paths[0])
	assert.Equal(t, "/data/"+domain.CHIRPSFileName(domain.Monthly, 2024, 3, 0), f.sequences.paths[11],
		"the raster starting on the target month closes the window")
}

func TestPrepareSequence_UnitExtent(t *testing.T) {
	f := newFixture()
	f.store.rasters = monthlyCatalog(t, time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC), 12)
	o := f.orchestrator(testConfig(), nil)

	extent := domain.BBox{MinLat: 3.1, MaxLat: 4.6, MinLon: 34.9, MaxLon: 36.2}
	_, ok, err := o.PrepareSequence(context.Background(), domain.AdministrativeUnit{Code: "X", Extent: extent}, target, 12)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, extent, f.sequences.bbox)
}

func TestPrepareSequence_TooFewRasters(t *testing.T) {
	f := newFixture()
	f.store.rasters = monthlyCatalog(t, time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC), 6)
	o := f.orchestrator(testConfig(), nil)

	seq, ok, err := o.PrepareSequence(context.Background(), domain.AdministrativeUnit{Code: "X"}, target, 12)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, seq)
	assert.Zero(t, f.sequences.calls.Load(), "builder is not consulted without enough rasters")
}

func TestPredict(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(testConfig(), nil)
	unit := domain.AdministrativeUnit{Code: "KE023001", Population: 85000}
	features := domain.FeatureRecord{SPI3: -1.7, ConsecutiveDryPeriods: 4}

	cases := []struct {
		phase   domain.Phase
		want    int64
		wantPct float64
	}{
		{domain.PhaseMinimal, 4250, 5},
		{domain.PhaseStressed, 12750, 15},
		{domain.PhaseCrisis, 25500, 30},
		{domain.PhaseEmergency, 42500, 50},
		{domain.PhaseFamine, 59499, 70}, // truncated, not rounded
	}
	for _, tc := range cases {
		t.Run(tc.phase.RiskLevel(), func(t *testing.T) {
			probs := []float64{0.1, 0.1, 0.1, 0.1, 0.1}
			probs[tc.phase-1] = 0.6
			pred, err := o.Predict(unit, features, domain.Classification{Phase: tc.phase, Probabilities: probs}, target)
			require.NoError(t, err)

			assert.Equal(t, tc.want, pred.FoodInsecurePopulation)
			assert.InDelta(t, tc.wantPct, pred.PctFoodInsecure, 1e-9)
			assert.Equal(t, []string{drought.DriverSevereDeficit, drought.DriverDrySpell}, pred.PrimaryDrivers)
			assert.Equal(t, pipeline.FeatureImportance(), pred.FeatureImportance)
			assert.InDelta(t, 0.6, pred.PhaseProbabilities[fmt.Sprintf("phase_%d", tc.phase)], 1e-12)
		})
	}
}

func TestPredict_ZeroPopulation(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(testConfig(), nil)

	pred, err := o.Predict(domain.AdministrativeUnit{Code: "X"}, domain.FeatureRecord{}, crisis(), target)
	require.NoError(t, err)
	assert.Zero(t, pred.FoodInsecurePopulation)
	assert.Zero(t, pred.PctFoodInsecure)
}

func TestPredict_InvalidPhase(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(testConfig(), nil)

	_, err := o.Predict(domain.AdministrativeUnit{Code: "X"}, domain.FeatureRecord{},
		domain.Classification{Phase: 7, Probabilities: []float64{1}}, target)
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestSyntheticSequence_Deterministic(t *testing.T) {
	a := pipeline.SyntheticSequence("KE023001", target, 12, 64, 64)
	b := pipeline.SyntheticSequence("KE023001", target, 12, 64, 64)
	c := pipeline.SyntheticSequence("KE023002", target, 12, 64, 64)
	d := pipeline.SyntheticSequence("KE023001", target.AddDate(0, 1, 0), 12, 64, 64)

	assert.Equal(t, [4]int{12, 64, 64, 1}, a.Shape())
	assert.Equal(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, c.Data)
	assert.NotEqual(t, a.Data, d.Data)
	for _, v := range a.Data {
		require.True(t, v >= 0 && v < 1)
	}
}

func TestUnitError_JSON(t *testing.T) {
	err := &pipeline.UnitError{Code: "KE023001", Stage: pipeline.StagePersistFeatures, Err: errors.New("boom")}

	b, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"subcounty_code":"KE023001","stage":"persist_features","error":"boom"}`, string(b))
	assert.Equal(t, "unit KE023001: persist_features: boom", err.Error())
}
