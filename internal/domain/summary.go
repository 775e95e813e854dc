package domain

import "math"

// Summary aggregates one batch run of predictions.
type Summary struct {
	TotalUnits                  int            `json:"total_subcounties"`
	RiskDistribution            map[string]int `json:"risk_distribution"`
	AveragePhase                float64        `json:"average_ipc_phase"`
	MaxPhase                    Phase          `json:"max_ipc_phase"`
	TotalFoodInsecurePopulation int64          `json:"total_food_insecure_population"`
	HighRiskUnits               []string       `json:"high_risk_subcounties"`
}

// IsEmpty reports whether the summary covers no predictions.
func (s Summary) IsEmpty() bool {
	return s.TotalUnits == 0
}

// Summarize aggregates predictions. An empty input yields the zero Summary.
func Summarize(predictions []PredictionRecord) Summary {
	if len(predictions) == 0 {
		return Summary{}
	}

	s := Summary{
		TotalUnits:       len(predictions),
		RiskDistribution: make(map[string]int),
		HighRiskUnits:    []string{},
	}
	var phaseSum int
	for _, p := range predictions {
		s.RiskDistribution[p.RiskLevel]++
		phaseSum += int(p.Phase)
		if p.Phase > s.MaxPhase {
			s.MaxPhase = p.Phase
		}
		s.TotalFoodInsecurePopulation += p.FoodInsecurePopulation
		if p.Phase >= PhaseCrisis {
			s.HighRiskUnits = append(s.HighRiskUnits, p.UnitCode)
		}
	}
	s.AveragePhase = math.Round(float64(phaseSum)/float64(len(predictions))*100) / 100
	return s
}
