package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveOrder creates a new order and returns its ID.
func (s *PostgresStore) SaveOrder(o models.Order) (int64, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO orders (order_no, production_no, quantity, completed_quantity, priority, sequence, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		o.OrderNo, o.ProductionNo, o.Quantity, o.CompletedQuantity, o.Priority, o.Sequence, o.Status, o.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save order: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetOrder(id int64) (models.Order, error) {
	var o models.Order
	err := s.db.Get(&o, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Order{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// GetOrderForUpdate reads the order holding a row lock for the duration of
// the surrounding transaction.
func (s *PostgresStore) GetOrderForUpdate(id int64) (models.Order, error) {
	var o models.Order
	err := s.db.Get(&o, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return models.Order{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (s *PostgresStore) ListOrders() ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.Select(&orders, "SELECT * FROM orders ORDER BY priority, sequence, id")
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *PostgresStore) UpdateOrderStatus(id int64, status models.OrderStatus) error {
	_, err := s.db.Exec("UPDATE orders SET status = $1 WHERE id = $2", status, id)
	return err
}

func (s *PostgresStore) SetOrderStartedAt(id int64, ts time.Time) error {
	_, err := s.db.Exec("UPDATE orders SET started_at = $1 WHERE id = $2", ts, id)
	return err
}

func (s *PostgresStore) SetOrderCompletedAt(id int64, ts time.Time) error {
	_, err := s.db.Exec("UPDATE orders SET completed_at = $1 WHERE id = $2", ts, id)
	return err
}

func (s *PostgresStore) UpdateOrderProgress(id int64, completedQuantity *int, stationID, stepID *int64) error {
	_, err := s.db.Exec(`
		UPDATE orders SET
			completed_quantity = COALESCE($2, completed_quantity),
			current_station_id = COALESCE($3, current_station_id),
			current_step_id    = COALESCE($4, current_step_id)
		WHERE id = $1`,
		id, completedQuantity, stationID, stepID)
	return err
}

func (s *PostgresStore) UpdateOrderPriority(id int64, priority int, sequence *int) error {
	_, err := s.db.Exec(`
		UPDATE orders SET priority = $2, sequence = COALESCE($3, sequence) WHERE id = $1`,
		id, priority, sequence)
	return err
}

func (s *PostgresStore) ShiftOrderSequences(from int, excludeOrderID int64) error {
	_, err := s.db.Exec("UPDATE orders SET sequence = sequence + 1 WHERE sequence >= $1 AND id <> $2",
		from, excludeOrderID)
	return err
}

func (s *PostgresStore) GetOrderStatistics() (models.OrderStatistics, error) {
	rows := []struct {
		Status            models.OrderStatus `db:"status"`
		Count             int                `db:"count"`
		Quantity          int                `db:"quantity"`
		CompletedQuantity int                `db:"completed_quantity"`
	}{}
	err := s.db.Select(&rows, `
		SELECT status, COUNT(*) AS count,
		       COALESCE(SUM(quantity), 0) AS quantity,
		       COALESCE(SUM(completed_quantity), 0) AS completed_quantity
		FROM orders GROUP BY status`)
	if err != nil {
		return models.OrderStatistics{}, err
	}
	stats := models.OrderStatistics{ByStatus: make(map[models.OrderStatus]int)}
	for _, r := range rows {
		stats.TotalOrders += r.Count
		stats.ByStatus[r.Status] = r.Count
		stats.TotalQuantity += r.Quantity
		stats.CompletedQuantity += r.CompletedQuantity
	}
	return stats, nil
}

func (s *PostgresStore) SaveStatusHistory(h models.OrderStatusHistory) error {
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO order_status_history (order_id, from_status, to_status, actor, reason, notes, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.OrderID, h.FromStatus, h.ToStatus, h.Actor, h.Reason, h.Notes, h.ChangedAt)
	return err
}

func (s *PostgresStore) ListStatusHistory(orderID int64) ([]models.OrderStatusHistory, error) {
	history := []models.OrderStatusHistory{}
	err := s.db.Select(&history, "SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY changed_at, id", orderID)
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *PostgresStore) SaveOrderStep(st models.OrderStep) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO order_steps (order_id, step_id, workstation_id, sequence, status, executed_by, error_message, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		st.OrderID, st.StepID, st.WorkstationID, st.Sequence, st.Status, st.ExecutedBy, st.ErrorMessage, st.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save order step: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetOrderStep(orderID, stepID, workstationID int64) (models.OrderStep, error) {
	var st models.OrderStep
	err := s.db.Get(&st, `
		SELECT * FROM order_steps WHERE order_id = $1 AND step_id = $2 AND workstation_id = $3`,
		orderID, stepID, workstationID)
	if err == sql.ErrNoRows {
		return models.OrderStep{}, storage.ErrNotFound
	}
	if err != nil {
		return models.OrderStep{}, err
	}
	return st, nil
}

func (s *PostgresStore) ListOrderSteps(orderID int64) ([]models.OrderStep, error) {
	steps := []models.OrderStep{}
	err := s.db.Select(&steps, "SELECT * FROM order_steps WHERE order_id = $1 ORDER BY sequence", orderID)
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *PostgresStore) CountOrderSteps(orderID int64) (int, int, error) {
	var counts struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
	}
	err := s.db.Get(&counts, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed
		FROM order_steps WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, 0, err
	}
	return counts.Total, counts.Completed, nil
}

func (s *PostgresStore) UpdateOrderStep(st models.OrderStep) error {
	_, err := s.db.Exec(`
		UPDATE order_steps SET
			status = $2, started_at = $3, completed_at = $4, actual_time_ms = $5,
			executed_by = $6, error_message = $7, notes = $8
		WHERE id = $1`,
		st.ID, st.Status, st.StartedAt, st.CompletedAt, st.ActualTimeMs, st.ExecutedBy, st.ErrorMessage, st.Notes)
	return err
}

func (s *PostgresStore) ListStationTasks(workstationID int64, limit int) ([]models.StationTaskRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []models.StationTaskRow{}
	err := s.db.Select(&rows, `
		SELECT os.*,
		       o.order_no, o.production_no, o.status AS order_status,
		       o.priority, o.sequence AS order_sequence,
		       o.quantity, o.completed_quantity
		FROM order_steps os
		JOIN orders o ON o.id = os.order_id
		WHERE os.workstation_id = $1
		  AND os.status IN ('pending', 'in_progress')
		  AND o.status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY o.priority, o.sequence, os.sequence
		LIMIT $2`, workstationID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PostgresStore) SaveStep(st models.Step) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO steps (name, sequence, workstation_id) VALUES ($1, $2, $3) RETURNING id`,
		st.Name, st.Sequence, st.WorkstationID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save step: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveAction(a models.Action) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO actions (step_id, sequence, name, type, device_id, expected_value, validation_rule, device_address, timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		a.StepID, a.Sequence, a.Name, a.Type, a.DeviceID, a.ExpectedValue, a.ValidationRule, a.DeviceAddress, a.TimeoutMs).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save action: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetAction(id int64) (models.Action, error) {
	var a models.Action
	err := s.db.Get(&a, "SELECT * FROM actions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Action{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Action{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListStepActions(stepID int64) ([]models.Action, error) {
	actions := []models.Action{}
	err := s.db.Select(&actions, "SELECT * FROM actions WHERE step_id = $1 ORDER BY sequence", stepID)
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// SaveActionLog appends one immutable execution attempt record.
func (s *PostgresStore) SaveActionLog(l models.ActionLog) (int64, error) {
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO action_logs (order_step_id, action_id, attempt_id, status, executed_by, device_id,
			request_value, response_value, actual_value, validation_result, execution_time_ms,
			error_code, error_message, parameters, result, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		l.OrderStepID, l.ActionID, l.AttemptID, l.Status, l.ExecutedBy, l.DeviceID,
		l.RequestValue, l.ResponseValue, l.ActualValue, l.ValidationResult, l.ExecutionTimeMs,
		l.ErrorCode, l.ErrorMessage, l.Parameters, l.Result, l.ExecutedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save action log: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListActionLogs(orderStepID int64) ([]models.ActionLog, error) {
	logs := []models.ActionLog{}
	err := s.db.Select(&logs, "SELECT * FROM action_logs WHERE order_step_id = $1 ORDER BY executed_at, id", orderStepID)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *PostgresStore) CountActionLogs(orderStepID int64) (int, int, error) {
	var counts struct {
		Total     int `db:"total"`
		Succeeded int `db:"succeeded"`
	}
	err := s.db.Get(&counts, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'success') AS succeeded
		FROM action_logs WHERE order_step_id = $1`, orderStepID)
	if err != nil {
		return 0, 0, err
	}
	return counts.Total, counts.Succeeded, nil
}

func (s *PostgresStore) SaveDevice(d models.Device) (int64, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO devices (workstation_id, code, name, ip_address, port, protocol, online, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		d.WorkstationID, d.Code, d.Name, d.IPAddress, d.Port, d.Protocol, d.Online, d.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save device: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetDevice(id int64) (models.Device, error) {
	var d models.Device
	err := s.db.Get(&d, "SELECT * FROM devices WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Device{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Device{}, err
	}
	return d, nil
}

func (s *PostgresStore) SaveWorkstation(w models.Workstation) (int64, error) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workstations (code, name, description, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		w.Code, w.Name, w.Description, w.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save workstation: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetWorkstation(id int64) (models.Workstation, error) {
	var w models.Workstation
	err := s.db.Get(&w, "SELECT * FROM workstations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workstation{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workstation{}, err
	}
	return w, nil
}
