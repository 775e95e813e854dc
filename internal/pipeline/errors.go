package pipeline

import (
	"encoding/json"
	"fmt"
)

// Stage names the step of a unit's processing that failed.
type Stage string

const (
	StageSequence          Stage = "sequence"
	StageFeatures          Stage = "features"
	StagePersistFeatures   Stage = "persist_features"
	StagePredict           Stage = "predict"
	StagePersistPrediction Stage = "persist_prediction"
	StagePublish           Stage = "publish"
)

// UnitError is the failure of one administrative unit within a run.
type UnitError struct {
	Code  string
	Stage Stage
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %s: %s: %v", e.Code, e.Stage, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// MarshalJSON renders the error for run reports.
func (e *UnitError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code  string `json:"subcounty_code"`
		Stage Stage  `json:"stage"`
		Error string `json:"error"`
	}{e.Code, e.Stage, e.Err.Error()})
}

func unitErr(code string, stage Stage, err error) *UnitError {
	return &UnitError{Code: code, Stage: stage, Err: err}
}
