package domain

import (
	"fmt"
	"math"
)

// Phase is an IPC food-security phase, 1 (minimal) to 5 (famine).
type Phase int

const (
	PhaseMinimal   Phase = 1
	PhaseStressed  Phase = 2
	PhaseCrisis    Phase = 3
	PhaseEmergency Phase = 4
	PhaseFamine    Phase = 5
)

// NumPhases is the number of IPC phases a classifier distributes over.
const NumPhases = 5

var riskLabels = map[Phase]string{
	PhaseMinimal:   "minimal",
	PhaseStressed:  "stressed",
	PhaseCrisis:    "crisis",
	PhaseEmergency: "emergency",
	PhaseFamine:    "famine",
}

// Valid reports whether p is within 1..5.
func (p Phase) Valid() bool {
	return p >= PhaseMinimal && p <= PhaseFamine
}

// RiskLevel returns the IPC label for the phase, or "unknown".
func (p Phase) RiskLevel() string {
	if l, ok := riskLabels[p]; ok {
		return l
	}
	return "unknown"
}

// Classification is a predictor's phase distribution for one sequence.
type Classification struct {
	Phase         Phase
	Probabilities []float64 // index i holds P(phase i+1)
}

// Confidence is the largest class probability.
func (c Classification) Confidence() float64 {
	best := 0.0
	for _, p := range c.Probabilities {
		if p > best {
			best = p
		}
	}
	return best
}

// ProbabilityMap renders the distribution keyed phase_1..phase_5.
func (c Classification) ProbabilityMap() map[string]float64 {
	m := make(map[string]float64, len(c.Probabilities))
	for i, p := range c.Probabilities {
		m[fmt.Sprintf("phase_%d", i+1)] = p
	}
	return m
}

// Validate checks the phase and that the distribution has five entries summing to 1.
func (c Classification) Validate() error {
	if !c.Phase.Valid() {
		return fmt.Errorf("%w: classified phase %d outside 1..5", ErrInvalidRecord, c.Phase)
	}
	if len(c.Probabilities) != NumPhases {
		return fmt.Errorf("%w: expected %d probabilities, got %d", ErrInvalidRecord, NumPhases, len(c.Probabilities))
	}
	var sum float64
	for _, p := range c.Probabilities {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("%w: invalid probability %v", ErrInvalidRecord, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("%w: probabilities sum to %.4f", ErrInvalidRecord, sum)
	}
	return nil
}
