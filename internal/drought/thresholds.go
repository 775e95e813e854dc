// Package drought computes drought indices from rainfall time series and
// spatial grids. Every function is pure: degenerate inputs produce neutral
// values instead of errors.
package drought

import (
	"errors"
	"fmt"
)

// Thresholds are the severity tiers and rainfall cut-offs used by the indices.
type Thresholds struct {
	SPIModerate          float64
	SPISevere            float64
	SPIExtreme           float64
	DryPeriodMM          float64
	PercentNormalDrought float64
	OnsetThresholdMM     float64
	ExpectedOnsetIndex   int
}

// DefaultThresholds returns the standard SPI tiers and CHIRPS dekad cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SPIModerate:          -1.0,
		SPISevere:            -1.5,
		SPIExtreme:           -2.0,
		DryPeriodMM:          5.0,
		PercentNormalDrought: 75.0,
		OnsetThresholdMM:     20.0,
		ExpectedOnsetIndex:   3,
	}
}

// Validate checks that the SPI tiers are ordered and the cut-offs positive.
func (t Thresholds) Validate() error {
	var errs []error
	if !(t.SPIExtreme < t.SPISevere && t.SPISevere < t.SPIModerate && t.SPIModerate < 0) {
		errs = append(errs, fmt.Errorf("SPI tiers must satisfy extreme < severe < moderate < 0, got %v, %v, %v",
			t.SPIExtreme, t.SPISevere, t.SPIModerate))
	}
	if t.DryPeriodMM <= 0 {
		errs = append(errs, fmt.Errorf("dry period threshold must be positive, got %v", t.DryPeriodMM))
	}
	if t.PercentNormalDrought <= 0 || t.PercentNormalDrought > 100 {
		errs = append(errs, fmt.Errorf("percent-of-normal threshold must be in (0,100], got %v", t.PercentNormalDrought))
	}
	if t.OnsetThresholdMM <= 0 {
		errs = append(errs, fmt.Errorf("onset threshold must be positive, got %v", t.OnsetThresholdMM))
	}
	if t.ExpectedOnsetIndex < 0 {
		errs = append(errs, fmt.Errorf("expected onset index must be non-negative, got %d", t.ExpectedOnsetIndex))
	}
	return errors.Join(errs...)
}
