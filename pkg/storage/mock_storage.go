package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/pkg/errors"
)

// mockData is the shared in-memory state behind a mock store and all of its
// transactional views.
type mockData struct {
	orders       map[int64]models.Order
	steps        map[int64]models.Step
	orderSteps   map[int64]models.OrderStep
	actions      map[int64]models.Action
	actionLogs   []models.ActionLog
	history      []models.OrderStatusHistory
	devices      map[int64]models.Device
	workstations map[int64]models.Workstation
	nextID       int64
}

func newMockData() *mockData {
	return &mockData{
		orders:       make(map[int64]models.Order),
		steps:        make(map[int64]models.Step),
		orderSteps:   make(map[int64]models.OrderStep),
		actions:      make(map[int64]models.Action),
		devices:      make(map[int64]models.Device),
		workstations: make(map[int64]models.Workstation),
	}
}

func (d *mockData) clone() *mockData {
	c := newMockData()
	c.nextID = d.nextID
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.steps {
		c.steps[k] = v
	}
	for k, v := range d.orderSteps {
		c.orderSteps[k] = v
	}
	for k, v := range d.actions {
		c.actions[k] = v
	}
	for k, v := range d.devices {
		c.devices[k] = v
	}
	for k, v := range d.workstations {
		c.workstations[k] = v
	}
	c.actionLogs = append([]models.ActionLog(nil), d.actionLogs...)
	c.history = append([]models.OrderStatusHistory(nil), d.history...)
	return c
}

// mockStore implements Store with in-memory state. Begin takes a store-wide
// lock held until Commit/Rollback, which serializes concurrent transactions
// the way row locks do against Postgres.
type mockStore struct {
	mu       *sync.Mutex
	data     *mockData
	snapshot *mockData // set on Begin, restored on Rollback
	inTx     bool
	done     bool
}

// NewMockStore returns an empty in-memory Store for tests.
func NewMockStore() Store {
	return &mockStore{mu: &sync.Mutex{}, data: newMockData()}
}

func (m *mockStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *mockStore) Begin() (Store, error) {
	if m.inTx {
		return nil, errors.New("nested transactions not supported")
	}
	m.mu.Lock()
	return &mockStore{
		mu:       m.mu,
		data:     m.data,
		snapshot: m.data.clone(),
		inTx:     true,
	}, nil
}

func (m *mockStore) Commit() error {
	if !m.inTx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.mu.Unlock()
	return nil
}

func (m *mockStore) Rollback() error {
	if !m.inTx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	*m.data = *m.snapshot
	m.done = true
	m.mu.Unlock()
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) SaveOrder(o models.Order) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	o.ID = m.data.nextID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	m.data.orders[o.ID] = o
	return o.ID, nil
}

func (m *mockStore) GetOrder(id int64) (models.Order, error) {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *mockStore) GetOrderForUpdate(id int64) (models.Order, error) {
	// The transaction-wide lock already serializes writers.
	return m.GetOrder(id)
}

func (m *mockStore) ListOrders() ([]models.Order, error) {
	defer m.lock()()
	orders := make([]models.Order, 0, len(m.data.orders))
	for _, o := range m.data.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (m *mockStore) UpdateOrderStatus(id int64, status models.OrderStatus) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	m.data.orders[id] = o
	return nil
}

func (m *mockStore) SetOrderStartedAt(id int64, ts time.Time) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.StartedAt = &ts
	m.data.orders[id] = o
	return nil
}

func (m *mockStore) SetOrderCompletedAt(id int64, ts time.Time) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.CompletedAt = &ts
	m.data.orders[id] = o
	return nil
}

func (m *mockStore) UpdateOrderProgress(id int64, completedQuantity *int, stationID, stepID *int64) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	if completedQuantity != nil {
		o.CompletedQuantity = *completedQuantity
	}
	if stationID != nil {
		o.CurrentStationID = stationID
	}
	if stepID != nil {
		o.CurrentStepID = stepID
	}
	m.data.orders[id] = o
	return nil
}

func (m *mockStore) UpdateOrderPriority(id int64, priority int, sequence *int) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Priority = priority
	if sequence != nil {
		o.Sequence = *sequence
	}
	m.data.orders[id] = o
	return nil
}

func (m *mockStore) ShiftOrderSequences(from int, excludeOrderID int64) error {
	defer m.lock()()
	for id, o := range m.data.orders {
		if id != excludeOrderID && o.Sequence >= from {
			o.Sequence++
			m.data.orders[id] = o
		}
	}
	return nil
}

func (m *mockStore) GetOrderStatistics() (models.OrderStatistics, error) {
	defer m.lock()()
	stats := models.OrderStatistics{ByStatus: make(map[models.OrderStatus]int)}
	for _, o := range m.data.orders {
		stats.TotalOrders++
		stats.ByStatus[o.Status]++
		stats.TotalQuantity += o.Quantity
		stats.CompletedQuantity += o.CompletedQuantity
	}
	return stats, nil
}

func (m *mockStore) SaveStatusHistory(h models.OrderStatusHistory) error {
	defer m.lock()()
	m.data.nextID++
	h.ID = m.data.nextID
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now()
	}
	m.data.history = append(m.data.history, h)
	return nil
}

func (m *mockStore) ListStatusHistory(orderID int64) ([]models.OrderStatusHistory, error) {
	defer m.lock()()
	var out []models.OrderStatusHistory
	for _, h := range m.data.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockStore) SaveOrderStep(st models.OrderStep) (int64, error) {
	defer m.lock()()
	for _, existing := range m.data.orderSteps {
		if existing.OrderID == st.OrderID && existing.StepID == st.StepID {
			return 0, fmt.Errorf("order step already exists for order %d step %d", st.OrderID, st.StepID)
		}
	}
	m.data.nextID++
	st.ID = m.data.nextID
	m.data.orderSteps[st.ID] = st
	return st.ID, nil
}

func (m *mockStore) GetOrderStep(orderID, stepID, workstationID int64) (models.OrderStep, error) {
	defer m.lock()()
	for _, st := range m.data.orderSteps {
		if st.OrderID == orderID && st.StepID == stepID && st.WorkstationID == workstationID {
			return st, nil
		}
	}
	return models.OrderStep{}, ErrNotFound
}

func (m *mockStore) ListOrderSteps(orderID int64) ([]models.OrderStep, error) {
	defer m.lock()()
	var out []models.OrderStep
	for _, st := range m.data.orderSteps {
		if st.OrderID == orderID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockStore) CountOrderSteps(orderID int64) (int, int, error) {
	defer m.lock()()
	total, completed := 0, 0
	for _, st := range m.data.orderSteps {
		if st.OrderID == orderID {
			total++
			if st.Status == models.CompletedStepStatus {
				completed++
			}
		}
	}
	return total, completed, nil
}

func (m *mockStore) UpdateOrderStep(st models.OrderStep) error {
	defer m.lock()()
	if _, ok := m.data.orderSteps[st.ID]; !ok {
		return ErrNotFound
	}
	m.data.orderSteps[st.ID] = st
	return nil
}

func (m *mockStore) ListStationTasks(workstationID int64, limit int) ([]models.StationTaskRow, error) {
	defer m.lock()()
	var rows []models.StationTaskRow
	for _, st := range m.data.orderSteps {
		if st.WorkstationID != workstationID {
			continue
		}
		if st.Status != models.PendingStepStatus && st.Status != models.InProgressStepStatus {
			continue
		}
		o, ok := m.data.orders[st.OrderID]
		if !ok {
			continue
		}
		if o.Status != models.PendingOrderStatus && o.Status != models.InProgressOrderStatus {
			continue
		}
		rows = append(rows, models.StationTaskRow{
			OrderStep:         st,
			OrderNo:           o.OrderNo,
			ProductionNo:      o.ProductionNo,
			OrderStatus:       o.Status,
			Priority:          o.Priority,
			OrderSequence:     o.Sequence,
			Quantity:          o.Quantity,
			CompletedQuantity: o.CompletedQuantity,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority < rows[j].Priority
		}
		if rows[i].OrderSequence != rows[j].OrderSequence {
			return rows[i].OrderSequence < rows[j].OrderSequence
		}
		return rows[i].Sequence < rows[j].Sequence
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *mockStore) SaveStep(s models.Step) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	s.ID = m.data.nextID
	m.data.steps[s.ID] = s
	return s.ID, nil
}

func (m *mockStore) SaveAction(a models.Action) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	a.ID = m.data.nextID
	m.data.actions[a.ID] = a
	return a.ID, nil
}

func (m *mockStore) GetAction(id int64) (models.Action, error) {
	defer m.lock()()
	a, ok := m.data.actions[id]
	if !ok {
		return models.Action{}, ErrNotFound
	}
	return a, nil
}

func (m *mockStore) ListStepActions(stepID int64) ([]models.Action, error) {
	defer m.lock()()
	var out []models.Action
	for _, a := range m.data.actions {
		if a.StepID == stepID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockStore) SaveActionLog(l models.ActionLog) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	l.ID = m.data.nextID
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now()
	}
	m.data.actionLogs = append(m.data.actionLogs, l)
	return l.ID, nil
}

func (m *mockStore) ListActionLogs(orderStepID int64) ([]models.ActionLog, error) {
	defer m.lock()()
	var out []models.ActionLog
	for _, l := range m.data.actionLogs {
		if l.OrderStepID == orderStepID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) CountActionLogs(orderStepID int64) (int, int, error) {
	defer m.lock()()
	total, succeeded := 0, 0
	for _, l := range m.data.actionLogs {
		if l.OrderStepID == orderStepID {
			total++
			if l.Status == models.SuccessActionLogStatus {
				succeeded++
			}
		}
	}
	return total, succeeded, nil
}

func (m *mockStore) SaveDevice(d models.Device) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	d.ID = m.data.nextID
	m.data.devices[d.ID] = d
	return d.ID, nil
}

func (m *mockStore) GetDevice(id int64) (models.Device, error) {
	defer m.lock()()
	d, ok := m.data.devices[id]
	if !ok {
		return models.Device{}, ErrNotFound
	}
	return d, nil
}

func (m *mockStore) SaveWorkstation(w models.Workstation) (int64, error) {
	defer m.lock()()
	m.data.nextID++
	w.ID = m.data.nextID
	m.data.workstations[w.ID] = w
	return w.ID, nil
}

func (m *mockStore) GetWorkstation(id int64) (models.Workstation, error) {
	defer m.lock()()
	w, ok := m.data.workstations[id]
	if !ok {
		return models.Workstation{}, ErrNotFound
	}
	return w, nil
}
