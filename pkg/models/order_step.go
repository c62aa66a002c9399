package models

import "time"

type StepStatus string

const (
	PendingStepStatus    StepStatus = "pending"
	InProgressStepStatus StepStatus = "in_progress"
	CompletedStepStatus  StepStatus = "completed"
	FailedStepStatus     StepStatus = "failed"
)

// Step is a reusable template stage of a process. Actions hang off the step
// template and are shared across every order that executes it.
type Step struct {
	ID            int64  `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	Sequence      int    `json:"sequence" db:"sequence"`
	WorkstationID int64  `json:"workstation_id" db:"workstation_id"`
}

// OrderStep is the materialized binding of one Step template to one Order,
// carried out at one Workstation. A step may only go in_progress once every
// lower-sequence step of the same order is completed.
type OrderStep struct {
	ID            int64      `json:"id" db:"id"`
	OrderID       int64      `json:"order_id" db:"order_id"`
	StepID        int64      `json:"step_id" db:"step_id"`
	WorkstationID int64      `json:"workstation_id" db:"workstation_id"`
	Sequence      int        `json:"sequence" db:"sequence"` // Inherited from the step template
	Status        StepStatus `json:"status" db:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ActualTimeMs  *int64     `json:"actual_time_ms,omitempty" db:"actual_time_ms"` // CompletedAt - StartedAt
	ExecutedBy    string     `json:"executed_by,omitempty" db:"executed_by"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
	Notes         string     `json:"notes,omitempty" db:"notes"`
}

// StationTaskRow is the joined projection returned by the workstation task
// query: an order step plus the parent order columns used for ordering and
// grouping.
type StationTaskRow struct {
	OrderStep
	OrderNo           string      `db:"order_no"`
	ProductionNo      string      `db:"production_no"`
	OrderStatus       OrderStatus `db:"order_status"`
	Priority          int         `db:"priority"`
	OrderSequence     int         `db:"order_sequence"`
	Quantity          int         `db:"quantity"`
	CompletedQuantity int         `db:"completed_quantity"`
}
