package models

import "time"

type ActionLogStatus string

const (
	SuccessActionLogStatus ActionLogStatus = "success"
	FailedActionLogStatus  ActionLogStatus = "failed"
)

type ValidationResult string

const (
	PassValidation          ValidationResult = "PASS"
	FailValidation          ValidationResult = "FAIL"
	NotApplicableValidation ValidationResult = "NOT_APPLICABLE"
)

// ActionLog is the immutable audit record of one action execution attempt
// against one OrderStep. Exactly one row is written per attempt, success or
// failure; rows are never mutated or deleted.
type ActionLog struct {
	ID               int64            `json:"id" db:"id"`
	OrderStepID      int64            `json:"order_step_id" db:"order_step_id"`
	ActionID         int64            `json:"action_id" db:"action_id"`
	AttemptID        string           `json:"attempt_id" db:"attempt_id"` // UUID per execution attempt
	Status           ActionLogStatus  `json:"status" db:"status"`
	ExecutedBy       string           `json:"executed_by,omitempty" db:"executed_by"`
	DeviceID         *int64           `json:"device_id,omitempty" db:"device_id"`
	RequestValue     string           `json:"request_value,omitempty" db:"request_value"`
	ResponseValue    string           `json:"response_value,omitempty" db:"response_value"`
	ActualValue      string           `json:"actual_value,omitempty" db:"actual_value"`
	ValidationResult ValidationResult `json:"validation_result" db:"validation_result"`
	ExecutionTimeMs  int64            `json:"execution_time_ms" db:"execution_time_ms"`
	ErrorCode        string           `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     string           `json:"error_message,omitempty" db:"error_message"`
	Parameters       string           `json:"parameters,omitempty" db:"parameters"` // opaque JSON blob
	Result           string           `json:"result,omitempty" db:"result"`         // opaque JSON blob
	ExecutedAt       time.Time        `json:"executed_at" db:"executed_at"`
}
