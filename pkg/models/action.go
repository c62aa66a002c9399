package models

type ActionType string

const (
	DeviceReadAction     ActionType = "DEVICE_READ"
	DeviceWriteAction    ActionType = "DEVICE_WRITE"
	ManualConfirmAction  ActionType = "MANUAL_CONFIRM"
	DataValidationAction ActionType = "DATA_VALIDATION"
	BarcodeScanAction    ActionType = "BARCODE_SCAN"
	CameraCheckAction    ActionType = "CAMERA_CHECK"
	DelayWaitAction      ActionType = "DELAY_WAIT"
)

// Action is a unit of work within a Step template, shared across orders.
// The engine treats actions as read-only reference data.
type Action struct {
	ID             int64      `json:"id" db:"id"`
	StepID         int64      `json:"step_id" db:"step_id"`
	Sequence       int        `json:"sequence" db:"sequence"`
	Name           string     `json:"name" db:"name"`
	Type           ActionType `json:"type" db:"type"`
	DeviceID       *int64     `json:"device_id,omitempty" db:"device_id"`
	ExpectedValue  string     `json:"expected_value,omitempty" db:"expected_value"`   // e.g. barcode regex source
	ValidationRule string     `json:"validation_rule,omitempty" db:"validation_rule"` // serialized JSON rule
	DeviceAddress  string     `json:"device_address,omitempty" db:"device_address"`   // e.g. "DB6.DBX2.5"
	TimeoutMs      int        `json:"timeout_ms,omitempty" db:"timeout_ms"`           // per-action override, 0 = default
}
