package models

import "time"

type OrderStatus string

const (
	PendingOrderStatus    OrderStatus = "PENDING"
	InProgressOrderStatus OrderStatus = "IN_PROGRESS"
	PausedOrderStatus     OrderStatus = "PAUSED"
	CompletedOrderStatus  OrderStatus = "COMPLETED"
	CancelledOrderStatus  OrderStatus = "CANCELLED"
	ErrorOrderStatus      OrderStatus = "ERROR"
)

// Order represents one production work item tracked through a sequence of steps.
// Orders are created by planning and mutated exclusively through the engine;
// cancellation is a status, never a physical delete.
type Order struct {
	ID                int64       `json:"id" db:"id"`
	OrderNo           string      `json:"order_no" db:"order_no"`                     // Human-facing order number
	ProductionNo      string      `json:"production_no" db:"production_no"`           // Production batch number
	Quantity          int         `json:"quantity" db:"quantity"`                     // Target quantity
	CompletedQuantity int         `json:"completed_quantity" db:"completed_quantity"` // Invariant: <= Quantity
	Priority          int         `json:"priority" db:"priority"`                     // Lower value = more urgent
	Sequence          int         `json:"sequence" db:"sequence"`                     // Execution order tie-break
	Status            OrderStatus `json:"status" db:"status"`
	CurrentStationID  *int64      `json:"current_station_id,omitempty" db:"current_station_id"` // Denormalized pointer, engine-maintained
	CurrentStepID     *int64      `json:"current_step_id,omitempty" db:"current_step_id"`       // Denormalized pointer, engine-maintained
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty" db:"started_at"`     // Set once, on first entry into IN_PROGRESS
	CompletedAt       *time.Time  `json:"completed_at,omitempty" db:"completed_at"` // Set on entry into COMPLETED
}

// OrderStatistics aggregates order counts and quantities across the store.
type OrderStatistics struct {
	TotalOrders       int                 `json:"total_orders"`
	ByStatus          map[OrderStatus]int `json:"by_status"`
	TotalQuantity     int                 `json:"total_quantity"`
	CompletedQuantity int                 `json:"completed_quantity"`
	CompletionRate    string              `json:"completion_rate"` // Percentage string, e.g. "42.5%"
}
