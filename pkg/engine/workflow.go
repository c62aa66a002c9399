package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/gateway"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/monitor"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// WorkflowService drives one order step at a time through its actions for a
// specific (order, workstation) pair. Every entry point re-reads current
// state from the store before deciding the next transition; the store, not
// the service, is the source of truth.
type WorkflowService struct {
	store  storage.Store
	orders *OrderService
	gw     gateway.Client   // optional; nil means device I/O is caller-supplied
	mon    *monitor.Monitor // optional; nil disables device watches
	logger Logger
}

func NewWorkflowService(store storage.Store, orders *OrderService, logger Logger) *WorkflowService {
	return &WorkflowService{store: store, orders: orders, logger: logger}
}

// WithGateway attaches a device gateway client used by the device executors.
func (s *WorkflowService) WithGateway(gw gateway.Client) *WorkflowService {
	s.gw = gw
	return s
}

// WithMonitor attaches the device polling monitor used by WatchAction.
func (s *WorkflowService) WithMonitor(mon *monitor.Monitor) *WorkflowService {
	s.mon = mon
	return s
}

// ExecutionContext names the step an action executes under.
type ExecutionContext struct {
	OrderID       int64  `json:"order_id"`
	StepID        int64  `json:"step_id"`
	WorkstationID int64  `json:"workstation_id"`
	Actor         string `json:"actor"`
}

// WorkstationTaskGroup is one order's open work at a workstation, with
// progress computed over all steps of the order, not just this station's.
type WorkstationTaskGroup struct {
	OrderID           int64              `json:"order_id"`
	OrderNo           string             `json:"order_no"`
	ProductionNo      string             `json:"production_no"`
	OrderStatus       models.OrderStatus `json:"order_status"`
	Priority          int                `json:"priority"`
	Quantity          int                `json:"quantity"`
	CompletedQuantity int                `json:"completed_quantity"`
	TotalSteps        int                `json:"total_steps"`
	CompletedSteps    int                `json:"completed_steps"`
	ProgressPercent   float64            `json:"progress_percent"`
	Steps             []models.OrderStep `json:"steps"`
}

// StepExecutionResult is the shell returned when a step starts.
type StepExecutionResult struct {
	OrderID       int64                   `json:"order_id"`
	StepID        int64                   `json:"step_id"`
	WorkstationID int64                   `json:"workstation_id"`
	Status        models.StepStatus       `json:"status"`
	ActionCount   int                     `json:"action_count"`
	ActionResults []ActionExecutionResult `json:"action_results"`
}

// ActionExecutionResult is the outcome of one action execution attempt,
// mirrored by exactly one persisted action log row.
type ActionExecutionResult struct {
	ActionID         int64                   `json:"action_id"`
	ActionType       models.ActionType       `json:"action_type"`
	AttemptID        string                  `json:"attempt_id"`
	Success          bool                    `json:"success"`
	RequestValue     string                  `json:"request_value,omitempty"`
	ResponseValue    string                  `json:"response_value,omitempty"`
	ActualValue      string                  `json:"actual_value,omitempty"`
	ValidationResult models.ValidationResult `json:"validation_result"`
	ErrorCode        string                  `json:"error_code,omitempty"`
	ErrorMessage     string                  `json:"error_message,omitempty"`
	ExecutionTimeMs  int64                   `json:"execution_time_ms"`
	Payload          map[string]interface{}  `json:"payload,omitempty"`
}

// StepCompletionResult summarizes a completed or failed step.
type StepCompletionResult struct {
	OrderID           int64              `json:"order_id"`
	StepID            int64              `json:"step_id"`
	StepStatus        models.StepStatus  `json:"step_status"`
	OrderStatus       models.OrderStatus `json:"order_status"`
	ActualTimeMs      int64              `json:"actual_time_ms"`
	TotalActions      int                `json:"total_actions"`
	SuccessfulActions int                `json:"successful_actions"`
	NextStepID        *int64             `json:"next_step_id,omitempty"`
}

// WorkflowExecutionState is the read-only projection of an order's progress.
type WorkflowExecutionState struct {
	OrderID          int64   `json:"order_id"`
	Status           string  `json:"status"` // pending/in_progress/completed/failed/paused
	CompletedStepIDs []int64 `json:"completed_step_ids"`
	FailedStepIDs    []int64 `json:"failed_step_ids"`
	TotalActions     int     `json:"total_actions"`
	CompletedActions int     `json:"completed_actions"`
	CurrentStepID    *int64  `json:"current_step_id,omitempty"`
}

// ListWorkstationTasks returns the open steps at a workstation grouped by
// order, most urgent order first. Pure read, no side effects.
func (s *WorkflowService) ListWorkstationTasks(workstationID int64, limit int) ([]WorkstationTaskGroup, error) {
	if _, err := s.store.GetWorkstation(workstationID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListStationTasks(workstationID, limit)
	if err != nil {
		return nil, err
	}

	var groups []WorkstationTaskGroup
	index := make(map[int64]int)
	for _, row := range rows {
		i, ok := index[row.OrderID]
		if !ok {
			total, completed, cntErr := s.store.CountOrderSteps(row.OrderID)
			if cntErr != nil {
				return nil, cntErr
			}
			g := WorkstationTaskGroup{
				OrderID:           row.OrderID,
				OrderNo:           row.OrderNo,
				ProductionNo:      row.ProductionNo,
				OrderStatus:       row.OrderStatus,
				Priority:          row.Priority,
				Quantity:          row.Quantity,
				CompletedQuantity: row.CompletedQuantity,
				TotalSteps:        total,
				CompletedSteps:    completed,
			}
			if total > 0 {
				g.ProgressPercent = float64(completed) / float64(total) * 100
			}
			groups = append(groups, g)
			i = len(groups) - 1
			index[row.OrderID] = i
		}
		groups[i].Steps = append(groups[i].Steps, row.OrderStep)
	}
	return groups, nil
}

// StartStepExecution flips one order step to in_progress after checking the
// sequence gate. The gate check and the flip share a transaction holding the
// order row lock, so two concurrent starts cannot both pass.
func (s *WorkflowService) StartStepExecution(orderID, stepID, workstationID int64, actor string) (result StepExecutionResult, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return StepExecutionResult{}, err
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

	order, err := txStore.GetOrderForUpdate(orderID)
	if err != nil {
		return StepExecutionResult{}, err
	}
	step, err := txStore.GetOrderStep(orderID, stepID, workstationID)
	if err != nil {
		return StepExecutionResult{}, err
	}
	if step.Status == models.CompletedStepStatus {
		return StepExecutionResult{}, ErrAlreadyCompleted
	}
	if step.Status == models.InProgressStepStatus {
		return StepExecutionResult{}, ErrAlreadyStarted
	}
	if order.Status == models.CompletedOrderStatus || order.Status == models.CancelledOrderStatus {
		return StepExecutionResult{}, ErrOrderClosed
	}

	// Sequence gating: every earlier step of this order must be completed.
	steps, err := txStore.ListOrderSteps(orderID)
	if err != nil {
		return StepExecutionResult{}, err
	}
	for _, other := range steps {
		if other.Sequence < step.Sequence && other.Status != models.CompletedStepStatus {
			return StepExecutionResult{}, &SequenceViolationError{
				OrderID:          orderID,
				StepSequence:     step.Sequence,
				BlockingSequence: other.Sequence,
			}
		}
	}

	now := time.Now()
	step.Status = models.InProgressStepStatus
	step.StartedAt = &now
	step.ExecutedBy = actor
	if err = txStore.UpdateOrderStep(step); err != nil {
		return StepExecutionResult{}, err
	}
	if err = txStore.UpdateOrderProgress(orderID, nil, &workstationID, &stepID); err != nil {
		return StepExecutionResult{}, err
	}

	// The first step of an order implicitly starts the order; the transition
	// goes through the state machine so history is recorded exactly once.
	if order.Status == models.PendingOrderStatus {
		if _, err = s.orders.applyStatusChange(txStore, order, models.InProgressOrderStatus, actor, "first step started", ""); err != nil {
			return StepExecutionResult{}, err
		}
	}

	actions, err := txStore.ListStepActions(stepID)
	if err != nil {
		return StepExecutionResult{}, err
	}
	s.logger.Infof("Step %d of order %d started at workstation %d by %s", stepID, orderID, workstationID, actor)
	return StepExecutionResult{
		OrderID:       orderID,
		StepID:        stepID,
		WorkstationID: workstationID,
		Status:        models.InProgressStepStatus,
		ActionCount:   len(actions),
		ActionResults: []ActionExecutionResult{},
	}, nil
}

// ExecuteAction runs exactly one action and always persists exactly one
// action log row for the attempt, success or failure. Only the two
// precondition failures (mismatched action, step not running) escape without
// a log row; they are typed and the action never ran.
func (s *WorkflowService) ExecuteAction(ctx context.Context, ec ExecutionContext, actionID int64, params map[string]interface{}) (ActionExecutionResult, error) {
	step, err := s.store.GetOrderStep(ec.OrderID, ec.StepID, ec.WorkstationID)
	if err != nil {
		return ActionExecutionResult{}, err
	}
	action, err := s.store.GetAction(actionID)
	if err != nil {
		return ActionExecutionResult{}, err
	}
	if action.StepID != ec.StepID {
		return ActionExecutionResult{}, ErrMismatchedAction
	}
	if step.Status != models.InProgressStepStatus {
		return ActionExecutionResult{}, ErrNotRunning
	}

	start := time.Now()
	res := s.runExecutor(ctx, action, params)
	elapsed := time.Since(start).Milliseconds()

	attemptID := uuid.NewString()
	logStatus := models.SuccessActionLogStatus
	if !res.Success {
		logStatus = models.FailedActionLogStatus
	}
	logRow := models.ActionLog{
		OrderStepID:      step.ID,
		ActionID:         action.ID,
		AttemptID:        attemptID,
		Status:           logStatus,
		ExecutedBy:       ec.Actor,
		DeviceID:         action.DeviceID,
		RequestValue:     res.RequestValue,
		ResponseValue:    res.ResponseValue,
		ActualValue:      res.ActualValue,
		ValidationResult: res.ValidationResult,
		ExecutionTimeMs:  elapsed,
		ErrorCode:        res.ErrorCode,
		ErrorMessage:     res.ErrorMessage,
		Parameters:       encodeBlob(params),
		Result:           encodeBlob(res.Payload),
		ExecutedAt:       start,
	}
	if err := s.appendActionLog(logRow); err != nil {
		return ActionExecutionResult{}, err
	}

	if res.Success {
		s.logger.Infof("Action %d (%s) of step %d succeeded in %dms", action.ID, action.Type, ec.StepID, elapsed)
	} else {
		s.logger.Infof("Action %d (%s) of step %d failed: %s", action.ID, action.Type, ec.StepID, res.ErrorMessage)
	}
	return ActionExecutionResult{
		ActionID:         action.ID,
		ActionType:       action.Type,
		AttemptID:        attemptID,
		Success:          res.Success,
		RequestValue:     res.RequestValue,
		ResponseValue:    res.ResponseValue,
		ActualValue:      res.ActualValue,
		ValidationResult: res.ValidationResult,
		ErrorCode:        res.ErrorCode,
		ErrorMessage:     res.ErrorMessage,
		ExecutionTimeMs:  elapsed,
		Payload:          res.Payload,
	}, nil
}

func (s *WorkflowService) appendActionLog(row models.ActionLog) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction for action log")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback action log: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit action log: %v", commitErr)
			err = commitErr
		}
	}()
	_, err = txStore.SaveActionLog(row)
	return err
}

// CompleteStepExecution finishes a step. A failed step fails the whole order
// (ERROR); the last successful step completes it; otherwise the order's
// current-step pointer advances to the next pending step.
func (s *WorkflowService) CompleteStepExecution(orderID, stepID, workstationID int64, actor string, success bool, notes string) (result StepCompletionResult, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return StepCompletionResult{}, err
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

	order, err := txStore.GetOrderForUpdate(orderID)
	if err != nil {
		return StepCompletionResult{}, err
	}
	step, err := txStore.GetOrderStep(orderID, stepID, workstationID)
	if err != nil {
		return StepCompletionResult{}, err
	}
	if step.Status != models.InProgressStepStatus {
		return StepCompletionResult{}, ErrNotRunning
	}
	if order.Status == models.CompletedOrderStatus || order.Status == models.CancelledOrderStatus {
		return StepCompletionResult{}, ErrOrderClosed
	}

	now := time.Now()
	step.CompletedAt = &now
	step.Notes = notes
	var actualMs int64
	if step.StartedAt != nil {
		actualMs = now.Sub(*step.StartedAt).Milliseconds()
	}
	step.ActualTimeMs = &actualMs
	if success {
		step.Status = models.CompletedStepStatus
	} else {
		step.Status = models.FailedStepStatus
		step.ErrorMessage = notes
	}
	if err = txStore.UpdateOrderStep(step); err != nil {
		return StepCompletionResult{}, err
	}

	total, completed, err := txStore.CountOrderSteps(orderID)
	if err != nil {
		return StepCompletionResult{}, err
	}

	result = StepCompletionResult{
		OrderID:      orderID,
		StepID:       stepID,
		StepStatus:   step.Status,
		OrderStatus:  order.Status,
		ActualTimeMs: actualMs,
	}

	switch {
	case !success:
		// A single failed step fails the whole order; operators resume
		// explicitly from ERROR.
		order, err = s.orders.applyStatusChange(txStore, order, models.ErrorOrderStatus, actor, "step failed", notes)
		if err != nil {
			return StepCompletionResult{}, err
		}
	case completed == total:
		order, err = s.orders.applyStatusChange(txStore, order, models.CompletedOrderStatus, actor, "all steps completed", "")
		if err != nil {
			return StepCompletionResult{}, err
		}
	default:
		// Pre-position the order pointer at the next pending step.
		steps, listErr := txStore.ListOrderSteps(orderID)
		if listErr != nil {
			err = listErr
			return StepCompletionResult{}, err
		}
		for _, next := range steps {
			if next.Status == models.PendingStepStatus {
				if err = txStore.UpdateOrderProgress(orderID, nil, &next.WorkstationID, &next.StepID); err != nil {
					return StepCompletionResult{}, err
				}
				nextID := next.StepID
				result.NextStepID = &nextID
				break
			}
		}
	}
	result.OrderStatus = order.Status

	logsTotal, logsSucceeded, err := txStore.CountActionLogs(step.ID)
	if err != nil {
		return StepCompletionResult{}, err
	}
	result.TotalActions = logsTotal
	result.SuccessfulActions = logsSucceeded

	s.logger.Infof("Step %d of order %d finished with status %s (%d/%d actions ok)", stepID, orderID, step.Status, logsSucceeded, logsTotal)
	return result, nil
}

// GetWorkflowExecutionState projects an order's execution progress. Pure read.
func (s *WorkflowService) GetWorkflowExecutionState(orderID int64) (WorkflowExecutionState, error) {
	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return WorkflowExecutionState{}, err
	}
	steps, err := s.store.ListOrderSteps(orderID)
	if err != nil {
		return WorkflowExecutionState{}, err
	}

	state := WorkflowExecutionState{
		OrderID:       orderID,
		Status:        derivedStatus(order.Status),
		CurrentStepID: order.CurrentStepID,
	}
	for _, st := range steps {
		switch st.Status {
		case models.CompletedStepStatus:
			state.CompletedStepIDs = append(state.CompletedStepIDs, st.StepID)
		case models.FailedStepStatus:
			state.FailedStepIDs = append(state.FailedStepIDs, st.StepID)
		}
		actions, listErr := s.store.ListStepActions(st.StepID)
		if listErr != nil {
			return WorkflowExecutionState{}, listErr
		}
		state.TotalActions += len(actions)
		_, succeeded, cntErr := s.store.CountActionLogs(st.ID)
		if cntErr != nil {
			return WorkflowExecutionState{}, cntErr
		}
		state.CompletedActions += succeeded
	}
	return state, nil
}

func derivedStatus(status models.OrderStatus) string {
	switch status {
	case models.PendingOrderStatus:
		return "pending"
	case models.InProgressOrderStatus:
		return "in_progress"
	case models.PausedOrderStatus:
		return "paused"
	case models.CompletedOrderStatus:
		return "completed"
	default: // ERROR, CANCELLED
		return "failed"
	}
}

// WatchAction begins device polling for an action that completes on a PLC
// bit flip. On confirmation the action is executed (and logged) with the
// device-read value; on timeout the monitor freezes and exposes a structured
// device error until the operator retries or cancels.
func (s *WorkflowService) WatchAction(ec ExecutionContext, actionID int64) error {
	if s.mon == nil || s.gw == nil {
		return errors.New("device monitoring is not configured")
	}
	step, err := s.store.GetOrderStep(ec.OrderID, ec.StepID, ec.WorkstationID)
	if err != nil {
		return err
	}
	if step.Status != models.InProgressStepStatus {
		return ErrNotRunning
	}
	action, err := s.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action.StepID != ec.StepID {
		return ErrMismatchedAction
	}
	if action.DeviceID == nil || action.DeviceAddress == "" {
		return errors.New("action has no device sense address")
	}
	device, err := s.store.GetDevice(*action.DeviceID)
	if err != nil {
		return err
	}

	key := monitor.Key{OrderID: ec.OrderID, StepID: ec.StepID, ActionID: actionID}
	timeout := time.Duration(action.TimeoutMs) * time.Millisecond
	target := monitor.Target{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		DeviceIP:   device.IPAddress,
		ActionName: action.Name,
		Address:    action.DeviceAddress,
	}
	return s.mon.Watch(key, target, timeout,
		func() {
			// Device confirmed: execute the action so the attempt is logged,
			// advancing the workflow without a manual trigger.
			if _, execErr := s.ExecuteAction(context.Background(), ec, actionID, map[string]interface{}{"actualValue": "1"}); execErr != nil {
				s.logger.Errorf("Auto-execute after device confirmation failed for action %d: %v", actionID, execErr)
			}
		},
		func(te monitor.TimeoutError) {
			s.logger.Errorf("Device watch timed out: %v", &te)
		},
	)
}

// CancelWatch stops the device watch for one action, if any.
func (s *WorkflowService) CancelWatch(ec ExecutionContext, actionID int64) bool {
	if s.mon == nil {
		return false
	}
	return s.mon.Cancel(monitor.Key{OrderID: ec.OrderID, StepID: ec.StepID, ActionID: actionID})
}

// WatchStatus reports the state of the device watch for one action.
func (s *WorkflowService) WatchStatus(ec ExecutionContext, actionID int64) (monitor.WatchState, *monitor.TimeoutError) {
	if s.mon == nil {
		return monitor.StateNone, nil
	}
	return s.mon.Status(monitor.Key{OrderID: ec.OrderID, StepID: ec.StepID, ActionID: actionID})
}
