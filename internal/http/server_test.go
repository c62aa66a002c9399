package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	internal_http "github.com/peng-cmdt/SimpleMES-sub001/internal/http"
	"github.com/peng-cmdt/SimpleMES-sub001/internal/log"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/engine"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
	"github.com/stretchr/testify/assert"
)

type testEnv struct {
	srv       *httptest.Server
	store     storage.Store
	stationID int64
	orderID   int64
	stepID1   int64
	stepID2   int64
	actionID1 int64
}

func newTestEnv(t *testing.T) *testEnv {
	store := storage.NewMockStore()
	orders := engine.NewOrderService(store, log.GetLogger())
	workflow := engine.NewWorkflowService(store, orders, log.GetLogger())
	srv := httptest.NewServer(internal_http.NewHandler(internal_http.Services{Orders: orders, Workflow: workflow}))
	t.Cleanup(srv.Close)

	stationID, err := store.SaveWorkstation(models.Workstation{Code: "WS-01", Name: "Assembly"})
	assert.NoError(t, err)
	orderID, err := store.SaveOrder(models.Order{OrderNo: "ORD-001", Quantity: 10, Status: models.PendingOrderStatus})
	assert.NoError(t, err)
	stepID1, err := store.SaveStep(models.Step{Name: "Mount", Sequence: 1, WorkstationID: stationID})
	assert.NoError(t, err)
	stepID2, err := store.SaveStep(models.Step{Name: "Inspect", Sequence: 2, WorkstationID: stationID})
	assert.NoError(t, err)
	_, err = store.SaveOrderStep(models.OrderStep{OrderID: orderID, StepID: stepID1, WorkstationID: stationID, Sequence: 1, Status: models.PendingStepStatus})
	assert.NoError(t, err)
	_, err = store.SaveOrderStep(models.OrderStep{OrderID: orderID, StepID: stepID2, WorkstationID: stationID, Sequence: 2, Status: models.PendingStepStatus})
	assert.NoError(t, err)
	actionID1, err := store.SaveAction(models.Action{StepID: stepID1, Sequence: 1, Name: "Confirm", Type: models.ManualConfirmAction})
	assert.NoError(t, err)

	return &testEnv{
		srv:       srv,
		store:     store,
		stationID: stationID,
		orderID:   orderID,
		stepID1:   stepID1,
		stepID2:   stepID2,
		actionID1: actionID1,
	}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	payload, err := json.Marshal(body)
	assert.NoError(t, err)
	resp, err := e.srv.Client().Post(e.srv.URL+path, "application/json", bytes.NewBuffer(payload))
	assert.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	resp, err := e.srv.Client().Get(e.srv.URL + path)
	assert.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/health")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "MES workflow server is running", string(body))
	})

	t.Run("ListTasks", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, fmt.Sprintf("/tasks?workstation_id=%d", e.stationID))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var tasks []engine.WorkstationTaskGroup
		decode(t, resp, &tasks)
		assert.Len(t, tasks, 1)
		assert.Equal(t, e.orderID, tasks[0].OrderID)
		assert.Len(t, tasks[0].Steps, 2)
	})

	t.Run("ListTasksMissingWorkstation", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/tasks")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ListTasksUnknownWorkstation", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/tasks?workstation_id=999")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("StepLifecycle", func(t *testing.T) {
		e := newTestEnv(t)
		start := map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID1, "workstation_id": e.stationID, "actor": "operator1",
		}
		resp := e.post(t, "/steps/start", start)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var started engine.StepExecutionResult
		decode(t, resp, &started)
		assert.Equal(t, models.InProgressStepStatus, started.Status)
		assert.Equal(t, 1, started.ActionCount)

		execute := map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID1, "workstation_id": e.stationID,
			"action_id": e.actionID1, "actor": "operator1",
			"parameters": map[string]interface{}{"confirmed": true},
		}
		resp = e.post(t, "/actions/execute", execute)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var executed engine.ActionExecutionResult
		decode(t, resp, &executed)
		assert.True(t, executed.Success)
		assert.NotEmpty(t, executed.AttemptID)

		complete := map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID1, "workstation_id": e.stationID,
			"actor": "operator1", "success": true,
		}
		resp = e.post(t, "/steps/complete", complete)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var completed engine.StepCompletionResult
		decode(t, resp, &completed)
		assert.Equal(t, models.CompletedStepStatus, completed.StepStatus)
		assert.Equal(t, e.stepID2, *completed.NextStepID)
	})

	t.Run("SequenceViolationIsConflict", func(t *testing.T) {
		e := newTestEnv(t)
		start := map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID2, "workstation_id": e.stationID, "actor": "operator1",
		}
		resp := e.post(t, "/steps/start", start)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "is not completed")
	})

	t.Run("ExecuteOnIdleStepIsConflict", func(t *testing.T) {
		e := newTestEnv(t)
		execute := map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID1, "workstation_id": e.stationID,
			"action_id": e.actionID1, "actor": "operator1",
		}
		resp := e.post(t, "/actions/execute", execute)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("WorkflowState", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, fmt.Sprintf("/workflow?order_id=%d", e.orderID))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var state engine.WorkflowExecutionState
		decode(t, resp, &state)
		assert.Equal(t, "pending", state.Status)
		assert.Equal(t, 1, state.TotalActions)
	})

	t.Run("OrderStatusChange", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.post(t, "/orders/status", map[string]interface{}{
			"order_id": e.orderID, "status": "IN_PROGRESS", "actor": "operator1", "reason": "released",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var order models.Order
		decode(t, resp, &order)
		assert.Equal(t, models.InProgressOrderStatus, order.Status)

		// Illegal transitions map to 409.
		resp = e.post(t, "/orders/status", map[string]interface{}{
			"order_id": e.orderID, "status": "PENDING", "actor": "operator1",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("OrderStatusUnknownOrder", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.post(t, "/orders/status", map[string]interface{}{
			"order_id": 999, "status": "IN_PROGRESS", "actor": "operator1",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("BatchStatusChange", func(t *testing.T) {
		e := newTestEnv(t)
		otherID, err := e.store.SaveOrder(models.Order{OrderNo: "ORD-002", Quantity: 5, Status: models.CompletedOrderStatus})
		assert.NoError(t, err)

		resp := e.post(t, "/orders/status/batch", map[string]interface{}{
			"order_ids": []int64{e.orderID, otherID}, "status": "IN_PROGRESS", "actor": "operator1",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result engine.BatchStatusResult
		decode(t, resp, &result)
		assert.Equal(t, []int64{e.orderID}, result.Updated)
		assert.Contains(t, result.Failed, otherID)
	})

	t.Run("ProgressAndPriority", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.post(t, "/orders/status", map[string]interface{}{
			"order_id": e.orderID, "status": "IN_PROGRESS", "actor": "operator1",
		})
		resp.Body.Close()

		resp = e.post(t, "/orders/progress", map[string]interface{}{
			"order_id": e.orderID, "completed_quantity": 4, "actor": "operator1",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var order models.Order
		decode(t, resp, &order)
		assert.Equal(t, 4, order.CompletedQuantity)

		resp = e.post(t, "/orders/priority", map[string]interface{}{
			"order_id": e.orderID, "priority": 1, "sequence": 1,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Statistics", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/orders/statistics")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var stats models.OrderStatistics
		decode(t, resp, &stats)
		assert.Equal(t, 1, stats.TotalOrders)
		assert.Equal(t, "0.0%", stats.CompletionRate)
	})

	t.Run("StatusHistory", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.post(t, "/orders/status", map[string]interface{}{
			"order_id": e.orderID, "status": "IN_PROGRESS", "actor": "operator1",
		})
		resp.Body.Close()

		resp = e.get(t, fmt.Sprintf("/orders/history?order_id=%d", e.orderID))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var history []models.OrderStatusHistory
		decode(t, resp, &history)
		assert.Len(t, history, 1)
		assert.Equal(t, models.InProgressOrderStatus, history[0].ToStatus)
	})

	t.Run("WatchWithoutMonitorFails", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.post(t, "/actions/watch", map[string]interface{}{
			"order_id": e.orderID, "step_id": e.stepID1, "workstation_id": e.stationID,
			"action_id": e.actionID1, "actor": "operator1",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("WatchStatusNone", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, fmt.Sprintf("/actions/watch/status?order_id=%d&step_id=%d&action_id=%d", e.orderID, e.stepID1, e.actionID1))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var status map[string]interface{}
		decode(t, resp, &status)
		assert.Equal(t, "none", status["state"])
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/steps/start")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("Metrics", func(t *testing.T) {
		e := newTestEnv(t)
		resp := e.get(t, "/metrics")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
