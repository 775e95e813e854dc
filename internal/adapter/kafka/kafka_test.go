package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	predicted := time.Date(2024, 3, 2, 6, 30, 0, 0, time.UTC)
	pred := domain.PredictionRecord{
		UnitCode:       "KE023001",
		PredictionDate: predicted,
		TargetMonth:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ModelVersion:   "v1.0",
		Phase:          domain.PhaseEmergency,
		RiskLevel:      "emergency",
		PrimaryDrivers: []string{"prolonged_dry_spell"},
	}

	msg, err := serializeToMessage(pred)
	require.NoError(t, err)

	assert.Equal(t, []byte("KE023001"), msg.Key)
	assert.Contains(t, string(msg.Value), `"risk_level":"emergency"`)
	assert.Contains(t, string(msg.Value), `"ipc_phase_predicted":4`)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"risk_level":    "emergency",
		"ipc_phase":     "4",
		"target_month":  "2024-03",
		"model_version": "v1.0",
		"predicted_at":  predicted.Format(time.RFC3339),
	}, headers)

	var decoded domain.PredictionRecord
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, pred.UnitCode, decoded.UnitCode)
	assert.Equal(t, pred.PrimaryDrivers, decoded.PrimaryDrivers)
}
