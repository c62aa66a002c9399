package engine

import (
	"fmt"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
)

// Logger defines the logging interface for the engine services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// orderTransitions is the legal order-status graph. Any edge not listed here
// is rejected.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.PendingOrderStatus:    {models.InProgressOrderStatus, models.CancelledOrderStatus, models.PausedOrderStatus},
	models.InProgressOrderStatus: {models.CompletedOrderStatus, models.PausedOrderStatus, models.CancelledOrderStatus, models.ErrorOrderStatus},
	models.PausedOrderStatus:     {models.InProgressOrderStatus, models.CancelledOrderStatus},
	models.ErrorOrderStatus:      {models.InProgressOrderStatus, models.CancelledOrderStatus},
	models.CompletedOrderStatus:  {models.CancelledOrderStatus}, // administrative override only
	models.CancelledOrderStatus:  {},                            // terminal
}

// CanTransition reports whether from -> to is a legal order status edge.
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderService gates and records every change of order status. All order
// mutations in the system flow through it so the status history is complete.
type OrderService struct {
	store  storage.Store
	logger Logger
}

func NewOrderService(store storage.Store, logger Logger) *OrderService {
	return &OrderService{store: store, logger: logger}
}

// BatchStatusResult reports the outcome of a batch status update.
type BatchStatusResult struct {
	Updated []int64          `json:"updated"`
	Failed  map[int64]string `json:"failed,omitempty"`
}

// applyStatusChange validates and applies one transition against a store the
// caller already opened a transaction on (holding the order row lock).
// It sets startedAt exactly once on first entry into IN_PROGRESS, completedAt
// on entry into COMPLETED, and appends one history row.
func (s *OrderService) applyStatusChange(tx storage.Store, order models.Order, newStatus models.OrderStatus, actor, reason, notes string) (models.Order, error) {
	if !CanTransition(order.Status, newStatus) {
		return models.Order{}, &InvalidTransitionError{From: order.Status, To: newStatus}
	}
	now := time.Now()
	if err := tx.UpdateOrderStatus(order.ID, newStatus); err != nil {
		return models.Order{}, err
	}
	fromStatus := order.Status
	order.Status = newStatus

	if newStatus == models.InProgressOrderStatus && order.StartedAt == nil {
		if err := tx.SetOrderStartedAt(order.ID, now); err != nil {
			return models.Order{}, err
		}
		order.StartedAt = &now
	}
	if newStatus == models.CompletedOrderStatus {
		if err := tx.SetOrderCompletedAt(order.ID, now); err != nil {
			return models.Order{}, err
		}
		order.CompletedAt = &now
	}

	h := models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: fromStatus,
		ToStatus:   newStatus,
		Actor:      actor,
		Reason:     reason,
		Notes:      notes,
		ChangedAt:  now,
	}
	if err := tx.SaveStatusHistory(h); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// ChangeStatus validates the requested transition and applies it atomically,
// returning the updated order snapshot.
func (s *OrderService) ChangeStatus(orderID int64, newStatus models.OrderStatus, actor, reason, notes string) (order models.Order, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Order{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	current, err := txStore.GetOrderForUpdate(orderID)
	if err != nil {
		return models.Order{}, err
	}
	order, err = s.applyStatusChange(txStore, current, newStatus, actor, reason, notes)
	if err != nil {
		return models.Order{}, err
	}
	s.logger.Infof("Order %d status changed %s -> %s by %s", orderID, current.Status, newStatus, actor)
	return order, nil
}

// UpdateProgress partially updates quantity/pointer fields. When the
// completed quantity reaches the order quantity the order is auto-completed
// through the state machine, producing exactly one history entry.
func (s *OrderService) UpdateProgress(orderID int64, completedQuantity *int, stationID, stepID *int64, actor string) (order models.Order, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Order{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	order, err = txStore.GetOrderForUpdate(orderID)
	if err != nil {
		return models.Order{}, err
	}

	if completedQuantity != nil {
		// completedQuantity never exceeds quantity; reaching it completes
		// the order below.
		qty := *completedQuantity
		if qty > order.Quantity {
			qty = order.Quantity
		}
		completedQuantity = &qty
	}
	if err = txStore.UpdateOrderProgress(orderID, completedQuantity, stationID, stepID); err != nil {
		return models.Order{}, err
	}
	if completedQuantity != nil {
		order.CompletedQuantity = *completedQuantity
	}
	if stationID != nil {
		order.CurrentStationID = stationID
	}
	if stepID != nil {
		order.CurrentStepID = stepID
	}

	if completedQuantity != nil && *completedQuantity >= order.Quantity && order.Status != models.CompletedOrderStatus {
		order, err = s.applyStatusChange(txStore, order, models.CompletedOrderStatus, actor, "target quantity reached", "")
		if err != nil {
			return models.Order{}, err
		}
	}
	return order, nil
}

// UpdatePriority changes an order's priority and, when a sequence is given,
// inserts the order at that sequence by shifting every other order at or
// after it by one. The shift and the target update share one transaction.
func (s *OrderService) UpdatePriority(orderID int64, priority int, sequence *int) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, err = txStore.GetOrderForUpdate(orderID); err != nil {
		return err
	}
	if sequence != nil {
		if err = txStore.ShiftOrderSequences(*sequence, orderID); err != nil {
			return err
		}
	}
	if err = txStore.UpdateOrderPriority(orderID, priority, sequence); err != nil {
		return err
	}
	s.logger.Infof("Order %d priority updated to %d", orderID, priority)
	return nil
}

// BatchChangeStatus applies the same transition to several orders inside one
// transaction. Orders whose transition is illegal are skipped and reported;
// the rest are applied.
func (s *OrderService) BatchChangeStatus(orderIDs []int64, newStatus models.OrderStatus, actor, reason string) (result BatchStatusResult, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return BatchStatusResult{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	result = BatchStatusResult{Failed: make(map[int64]string)}
	for _, id := range orderIDs {
		order, getErr := txStore.GetOrderForUpdate(id)
		if getErr != nil {
			result.Failed[id] = getErr.Error()
			continue
		}
		if _, applyErr := s.applyStatusChange(txStore, order, newStatus, actor, reason, ""); applyErr != nil {
			result.Failed[id] = applyErr.Error()
			continue
		}
		result.Updated = append(result.Updated, id)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

// GetStatistics returns aggregate order counts and the overall completion
// rate as a percentage string.
func (s *OrderService) GetStatistics() (models.OrderStatistics, error) {
	stats, err := s.store.GetOrderStatistics()
	if err != nil {
		return models.OrderStatistics{}, err
	}
	if stats.TotalQuantity > 0 {
		stats.CompletionRate = fmt.Sprintf("%.1f%%", float64(stats.CompletedQuantity)/float64(stats.TotalQuantity)*100)
	} else {
		stats.CompletionRate = "0.0%"
	}
	return stats, nil
}

// GetOrder fetches one order.
func (s *OrderService) GetOrder(orderID int64) (models.Order, error) {
	return s.store.GetOrder(orderID)
}

// ListOrders lists all orders.
func (s *OrderService) ListOrders() ([]models.Order, error) {
	return s.store.ListOrders()
}

// ListStatusHistory returns the recorded transitions of one order.
func (s *OrderService) ListStatusHistory(orderID int64) ([]models.OrderStatusHistory, error) {
	if _, err := s.store.GetOrder(orderID); err != nil {
		return nil, err
	}
	return s.store.ListStatusHistory(orderID)
}
