package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/drought"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL string

	PredictorURL     string
	PredictorTimeout time.Duration

	// Publishing is disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	Model Model
}

// Model holds the numeric model and run settings.
type Model struct {
	Version        string `envconfig:"MODEL_VERSION" default:"v1.0" validate:"required"`
	SequenceLength int    `envconfig:"SEQUENCE_LENGTH" default:"12" validate:"min=1,max=120"`
	TargetRows     int    `envconfig:"TARGET_ROWS" default:"64" validate:"min=1,max=4096"`
	TargetCols     int    `envconfig:"TARGET_COLS" default:"64" validate:"min=1,max=4096"`

	NormMethod string  `envconfig:"NORM_METHOD" default:"minmax" validate:"oneof=minmax zscore percentile"`
	NormMin    float64 `envconfig:"NORM_MIN_MM" default:"0"`
	NormMax    float64 `envconfig:"NORM_MAX_MM" default:"500" validate:"gtfield=NormMin"`
	FillMethod string  `envconfig:"FILL_METHOD" default:"nearest" validate:"oneof=nearest mean zero"`

	RegionMinLat float64 `envconfig:"REGION_MIN_LAT" default:"-5.0" validate:"min=-90,max=90"`
	RegionMaxLat float64 `envconfig:"REGION_MAX_LAT" default:"5.5" validate:"min=-90,max=90,gtfield=RegionMinLat"`
	RegionMinLon float64 `envconfig:"REGION_MIN_LON" default:"33.5" validate:"min=-180,max=180"`
	RegionMaxLon float64 `envconfig:"REGION_MAX_LON" default:"42.0" validate:"min=-180,max=180,gtfield=RegionMinLon"`

	SPIModerate          float64 `envconfig:"SPI_MODERATE" default:"-1.0"`
	SPISevere            float64 `envconfig:"SPI_SEVERE" default:"-1.5"`
	SPIExtreme           float64 `envconfig:"SPI_EXTREME" default:"-2.0"`
	DryPeriodMM          float64 `envconfig:"DRY_PERIOD_MM" default:"5.0"`
	PercentNormalDrought float64 `envconfig:"PERCENT_NORMAL_DROUGHT" default:"75.0"`
	OnsetThresholdMM     float64 `envconfig:"ONSET_THRESHOLD_MM" default:"20.0"`
	ExpectedOnsetIndex   int     `envconfig:"EXPECTED_ONSET_DEKAD" default:"3"`

	UnitConcurrency int           `envconfig:"UNIT_CONCURRENCY" default:"1" validate:"min=1,max=64"`
	UnitTimeout     time.Duration `envconfig:"UNIT_TIMEOUT" default:"2m" validate:"min=0s"`
	FrameWorkers    int           `envconfig:"FRAME_WORKERS" default:"4" validate:"min=1,max=64"`
	FrameCacheSize  int           `envconfig:"FRAME_CACHE_SIZE" default:"256" validate:"min=0"`
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	predictorTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("PREDICTOR_TIMEOUT", "30s"))
	if err != nil || predictorTimeout <= 0 {
		return nil, errors.New("invalid PREDICTOR_TIMEOUT")
	}

	model, err := loadModel()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PredictorURL:     os.Getenv("PREDICTOR_URL"),
		PredictorTimeout: predictorTimeout,
		KafkaBrokers:     sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "ipc-predictions"),
		Model:            model,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.PredictorURL == "" {
		return nil, errors.New("PREDICTOR_URL is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func loadModel() (Model, error) {
	var m Model
	if err := envconfig.Process("", &m); err != nil {
		return Model{}, fmt.Errorf("parse model settings: %w", err)
	}
	if err := validator.New().Struct(m); err != nil {
		return Model{}, fmt.Errorf("invalid model settings: %w", err)
	}
	if err := m.Thresholds().Validate(); err != nil {
		return Model{}, fmt.Errorf("invalid drought thresholds: %w", err)
	}
	return m, nil
}

// PublishEnabled reports whether predictions are published to Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Thresholds returns the drought thresholds.
func (m Model) Thresholds() drought.Thresholds {
	return drought.Thresholds{
		SPIModerate:          m.SPIModerate,
		SPISevere:            m.SPISevere,
		SPIExtreme:           m.SPIExtreme,
		DryPeriodMM:          m.DryPeriodMM,
		PercentNormalDrought: m.PercentNormalDrought,
		OnsetThresholdMM:     m.OnsetThresholdMM,
		ExpectedOnsetIndex:   m.ExpectedOnsetIndex,
	}
}

// Region returns the default clipping extent.
func (m Model) Region() domain.BBox {
	return domain.BBox{MinLat: m.RegionMinLat, MaxLat: m.RegionMaxLat, MinLon: m.RegionMinLon, MaxLon: m.RegionMaxLon}
}

// Raster returns the frame processing settings.
func (m Model) Raster() raster.Config {
	return raster.Config{
		NormMethod: raster.NormMethod(m.NormMethod),
		NormParams: raster.NormParams{Min: m.NormMin, Max: m.NormMax},
		FillMethod: raster.FillMethod(m.FillMethod),
		TargetRows: m.TargetRows,
		TargetCols: m.TargetCols,
		Workers:    m.FrameWorkers,
	}
}
