package engine

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Action parameters arrive from the caller as an opaque JSON object and
// validation rules are stored as serialized text. Both are decoded into the
// typed variants below at the dispatch boundary so the executors never touch
// untyped maps.

type manualConfirmParams struct {
	Confirmed bool `json:"confirmed"`
}

type barcodeScanParams struct {
	ScannedValue string `json:"scannedValue"`
}

type cameraCheckParams struct {
	CheckResult string  `json:"checkResult"`
	Confidence  float64 `json:"confidence"`
}

type dataValidationParams struct {
	ActualValue string `json:"actualValue"`
}

type deviceReadParams struct {
	ActualValue string `json:"actualValue"`
}

type deviceWriteParams struct {
	Value string `json:"value"`
}

type delayWaitParams struct {
	DelayTimeMs int `json:"delayTime"`
}

// validationRule is the stored rule of a DATA_VALIDATION action.
// Type is "range" (numeric bounds) or "equals" (exact match); unrecognized
// types pass by default.
type validationRule struct {
	Type     string   `json:"type"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Expected string   `json:"expected,omitempty"`
}

// decodeParams round-trips a parameter map into a typed struct.
func decodeParams(params map[string]interface{}, out interface{}) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "encode action parameters")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode action parameters")
	}
	return nil
}

func parseValidationRule(raw string) (validationRule, error) {
	var rule validationRule
	if raw == "" {
		return rule, nil
	}
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return rule, errors.Wrap(err, "parse validation rule")
	}
	return rule, nil
}

// encodeBlob serializes an opaque payload for storage on the action log.
func encodeBlob(v interface{}) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
