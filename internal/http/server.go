package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/peng-cmdt/SimpleMES-sub001/internal/log"
	"github.com/peng-cmdt/SimpleMES-sub001/internal/metrics"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/engine"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Orders   *engine.OrderService
	Workflow *engine.WorkflowService
}

// NewHandler builds the HTTP routing table.
func NewHandler(svc Services) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/tasks", listTasksHandler(svc))
	mux.HandleFunc("/workflow", workflowStateHandler(svc))

	mux.HandleFunc("/steps/start", startStepHandler(svc))
	mux.HandleFunc("/steps/complete", completeStepHandler(svc))

	mux.HandleFunc("/actions/execute", executeActionHandler(svc))
	mux.HandleFunc("/actions/watch", watchActionHandler(svc))
	mux.HandleFunc("/actions/watch/cancel", cancelWatchHandler(svc))
	mux.HandleFunc("/actions/watch/status", watchStatusHandler(svc))

	mux.HandleFunc("/orders", listOrdersHandler(svc))
	mux.HandleFunc("/orders/statistics", statisticsHandler(svc))
	mux.HandleFunc("/orders/history", statusHistoryHandler(svc))
	mux.HandleFunc("/orders/status", changeStatusHandler(svc))
	mux.HandleFunc("/orders/status/batch", batchStatusHandler(svc))
	mux.HandleFunc("/orders/progress", updateProgressHandler(svc))
	mux.HandleFunc("/orders/priority", updatePriorityHandler(svc))

	return mux
}

// StartServer serves the MES API until the listener fails.
func StartServer(port string, svc Services) error {
	log.GetLogger().Infof("Starting MES workflow server on :%s", port)
	return http.ListenAndServe(":"+port, NewHandler(svc))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "MES workflow server is running")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors onto status codes: unknown entities are 404,
// precondition failures are 409, everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case engine.IsPrecondition(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		log.GetLogger().Errorf("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing '%s' parameter", name)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func listTasksHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		workstationID, err := queryInt64(r, "workstation_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		tasks, err := svc.Workflow.ListWorkstationTasks(workstationID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []engine.WorkstationTaskGroup{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func workflowStateHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		orderID, err := queryInt64(r, "order_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		state, err := svc.Workflow.GetWorkflowExecutionState(orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

type stepRequest struct {
	OrderID       int64  `json:"order_id"`
	StepID        int64  `json:"step_id"`
	WorkstationID int64  `json:"workstation_id"`
	Actor         string `json:"actor"`
	Success       *bool  `json:"success,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func startStepHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req stepRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		result, err := svc.Workflow.StartStepExecution(req.OrderID, req.StepID, req.WorkstationID, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func completeStepHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req stepRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		success := true
		if req.Success != nil {
			success = *req.Success
		}
		result, err := svc.Workflow.CompleteStepExecution(req.OrderID, req.StepID, req.WorkstationID, req.Actor, success, req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.StepsCompletedTotal.WithLabelValues(string(result.StepStatus)).Inc()
		metrics.StepDurationSeconds.WithLabelValues(strconv.FormatInt(req.WorkstationID, 10)).
			Observe(float64(result.ActualTimeMs) / 1000)
		writeJSON(w, http.StatusOK, result)
	}
}

type actionRequest struct {
	OrderID       int64                  `json:"order_id"`
	StepID        int64                  `json:"step_id"`
	WorkstationID int64                  `json:"workstation_id"`
	ActionID      int64                  `json:"action_id"`
	Actor         string                 `json:"actor"`
	Parameters    map[string]interface{} `json:"parameters"`
}

func (req *actionRequest) context() engine.ExecutionContext {
	return engine.ExecutionContext{
		OrderID:       req.OrderID,
		StepID:        req.StepID,
		WorkstationID: req.WorkstationID,
		Actor:         req.Actor,
	}
}

func executeActionHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req actionRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		result, err := svc.Workflow.ExecuteAction(r.Context(), req.context(), req.ActionID, req.Parameters)
		if err != nil {
			writeError(w, err)
			return
		}
		status := "success"
		if !result.Success {
			status = "failed"
		}
		metrics.ActionsExecutedTotal.WithLabelValues(status, string(result.ActionType)).Inc()
		writeJSON(w, http.StatusOK, result)
	}
}

func watchActionHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req actionRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if err := svc.Workflow.WatchAction(req.context(), req.ActionID); err != nil {
			writeError(w, err)
			return
		}
		metrics.DeviceWatchesStartedTotal.Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "watching"})
	}
}

func cancelWatchHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req actionRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		cancelled := svc.Workflow.CancelWatch(req.context(), req.ActionID)
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
	}
}

func watchStatusHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		orderID, err := queryInt64(r, "order_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		stepID, err := queryInt64(r, "step_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		actionID, err := queryInt64(r, "action_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		ec := engine.ExecutionContext{OrderID: orderID, StepID: stepID}
		state, timeoutErr := svc.Workflow.WatchStatus(ec, actionID)
		resp := map[string]interface{}{"state": state}
		if timeoutErr != nil {
			resp["timeout"] = timeoutErr
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listOrdersHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if raw := r.URL.Query().Get("order_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				badRequest(w, "invalid 'order_id' parameter")
				return
			}
			order, err := svc.Orders.GetOrder(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, order)
			return
		}
		orders, err := svc.Orders.ListOrders()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

func statisticsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := svc.Orders.GetStatistics()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func statusHistoryHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		orderID, err := queryInt64(r, "order_id")
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		history, err := svc.Orders.ListStatusHistory(orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

type statusRequest struct {
	OrderID  int64   `json:"order_id"`
	OrderIDs []int64 `json:"order_ids,omitempty"`
	Status   string  `json:"status"`
	Actor    string  `json:"actor"`
	Reason   string  `json:"reason,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

func changeStatusHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req statusRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if req.Status == "" {
			badRequest(w, "missing 'status' field")
			return
		}
		order, err := svc.Orders.ChangeStatus(req.OrderID, models.OrderStatus(req.Status), req.Actor, req.Reason, req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func batchStatusHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req statusRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if len(req.OrderIDs) == 0 {
			badRequest(w, "missing 'order_ids' field")
			return
		}
		result, err := svc.Orders.BatchChangeStatus(req.OrderIDs, models.OrderStatus(req.Status), req.Actor, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type progressRequest struct {
	OrderID           int64  `json:"order_id"`
	CompletedQuantity *int   `json:"completed_quantity,omitempty"`
	StationID         *int64 `json:"station_id,omitempty"`
	StepID            *int64 `json:"step_id,omitempty"`
	Actor             string `json:"actor"`
}

func updateProgressHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req progressRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		order, err := svc.Orders.UpdateProgress(req.OrderID, req.CompletedQuantity, req.StationID, req.StepID, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

type priorityRequest struct {
	OrderID  int64 `json:"order_id"`
	Priority int   `json:"priority"`
	Sequence *int  `json:"sequence,omitempty"`
}

func updatePriorityHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req priorityRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if err := svc.Orders.UpdatePriority(req.OrderID, req.Priority, req.Sequence); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
