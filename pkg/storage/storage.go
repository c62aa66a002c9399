package storage

import (
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations the execution engine relies on.
// Begin returns a transactional view of the same interface; every multi-row
// mutation in the engine runs against such a view.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Order operations
	SaveOrder(o models.Order) (int64, error)
	GetOrder(id int64) (models.Order, error)
	// GetOrderForUpdate reads the order while taking a row-level lock
	// (SELECT ... FOR UPDATE), serializing concurrent engine entry points
	// that mutate the same order.
	GetOrderForUpdate(id int64) (models.Order, error)
	ListOrders() ([]models.Order, error)
	UpdateOrderStatus(id int64, status models.OrderStatus) error
	SetOrderStartedAt(id int64, ts time.Time) error
	SetOrderCompletedAt(id int64, ts time.Time) error
	// UpdateOrderProgress performs a partial update; nil fields keep their
	// current value.
	UpdateOrderProgress(id int64, completedQuantity *int, stationID, stepID *int64) error
	UpdateOrderPriority(id int64, priority int, sequence *int) error
	// ShiftOrderSequences increments the sequence of every order (other than
	// excludeOrderID) whose sequence is >= from. Insertion semantics for
	// priority reassignment.
	ShiftOrderSequences(from int, excludeOrderID int64) error
	GetOrderStatistics() (models.OrderStatistics, error)

	// Status history
	SaveStatusHistory(h models.OrderStatusHistory) error
	ListStatusHistory(orderID int64) ([]models.OrderStatusHistory, error)

	// Order step operations
	SaveOrderStep(st models.OrderStep) (int64, error)
	GetOrderStep(orderID, stepID, workstationID int64) (models.OrderStep, error)
	ListOrderSteps(orderID int64) ([]models.OrderStep, error)
	CountOrderSteps(orderID int64) (total, completed int, err error)
	UpdateOrderStep(st models.OrderStep) error
	// ListStationTasks returns pending/in_progress steps at a workstation
	// whose parent order is itself open, ordered by (order priority, order
	// sequence, step sequence).
	ListStationTasks(workstationID int64, limit int) ([]models.StationTaskRow, error)

	// Step/action templates (read-only from the engine's perspective)
	SaveStep(s models.Step) (int64, error)
	SaveAction(a models.Action) (int64, error)
	GetAction(id int64) (models.Action, error)
	ListStepActions(stepID int64) ([]models.Action, error)

	// Action logs (append-only)
	SaveActionLog(l models.ActionLog) (int64, error)
	ListActionLogs(orderStepID int64) ([]models.ActionLog, error)
	CountActionLogs(orderStepID int64) (total, succeeded int, err error)

	// Devices and workstations
	SaveDevice(d models.Device) (int64, error)
	GetDevice(id int64) (models.Device, error)
	SaveWorkstation(w models.Workstation) (int64, error)
	GetWorkstation(id int64) (models.Workstation, error)
}
