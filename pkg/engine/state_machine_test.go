package engine_test

import (
	"testing"

	"github.com/peng-cmdt/SimpleMES-sub001/internal/log"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/engine"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func newOrderService(t *testing.T) (*engine.OrderService, storage.Store) {
	store := storage.NewMockStore()
	return engine.NewOrderService(store, log.GetLogger()), store
}

func seedOrder(t *testing.T, store storage.Store, o models.Order) int64 {
	if o.OrderNo == "" {
		o.OrderNo = "ORD-001"
	}
	if o.Quantity == 0 {
		o.Quantity = 10
	}
	if o.Status == "" {
		o.Status = models.PendingOrderStatus
	}
	id, err := store.SaveOrder(o)
	assert.NoError(t, err)
	return id
}

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to models.OrderStatus
	}{
		{models.PendingOrderStatus, models.InProgressOrderStatus},
		{models.PendingOrderStatus, models.CancelledOrderStatus},
		{models.PendingOrderStatus, models.PausedOrderStatus},
		{models.InProgressOrderStatus, models.PausedOrderStatus},
		{models.InProgressOrderStatus, models.CompletedOrderStatus},
		{models.InProgressOrderStatus, models.ErrorOrderStatus},
		{models.InProgressOrderStatus, models.CancelledOrderStatus},
		{models.PausedOrderStatus, models.InProgressOrderStatus},
		{models.PausedOrderStatus, models.CancelledOrderStatus},
		{models.ErrorOrderStatus, models.InProgressOrderStatus},
		{models.ErrorOrderStatus, models.CancelledOrderStatus},
		{models.CompletedOrderStatus, models.CancelledOrderStatus},
	}
	for _, tc := range legal {
		assert.True(t, engine.CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct {
		from, to models.OrderStatus
	}{
		{models.PendingOrderStatus, models.CompletedOrderStatus},
		{models.PausedOrderStatus, models.CompletedOrderStatus},
		{models.CompletedOrderStatus, models.InProgressOrderStatus},
		{models.CancelledOrderStatus, models.InProgressOrderStatus},
		{models.CancelledOrderStatus, models.PendingOrderStatus},
		{models.ErrorOrderStatus, models.CompletedOrderStatus},
		{models.InProgressOrderStatus, models.PendingOrderStatus},
	}
	for _, tc := range illegal {
		assert.False(t, engine.CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}

	// Self-transitions are not edges.
	assert.False(t, engine.CanTransition(models.InProgressOrderStatus, models.InProgressOrderStatus))
}

func TestChangeStatus(t *testing.T) {
	t.Run("LegalTransitionRecordsHistory", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{})

		order, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "operator1", "released", "")
		assert.NoError(t, err)
		assert.Equal(t, models.InProgressOrderStatus, order.Status)
		assert.NotNil(t, order.StartedAt)

		history, err := svc.ListStatusHistory(id)
		assert.NoError(t, err)
		assert.Len(t, history, 1)
		assert.Equal(t, models.PendingOrderStatus, history[0].FromStatus)
		assert.Equal(t, models.InProgressOrderStatus, history[0].ToStatus)
		assert.Equal(t, "operator1", history[0].Actor)
	})

	t.Run("IllegalTransitionRejected", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{})

		_, err := svc.ChangeStatus(id, models.CompletedOrderStatus, "operator1", "", "")
		var it *engine.InvalidTransitionError
		assert.ErrorAs(t, err, &it)
		assert.Equal(t, models.PendingOrderStatus, it.From)
		assert.Equal(t, models.CompletedOrderStatus, it.To)

		// The rejected transition leaves no trace.
		order, err := svc.GetOrder(id)
		assert.NoError(t, err)
		assert.Equal(t, models.PendingOrderStatus, order.Status)
		history, err := svc.ListStatusHistory(id)
		assert.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("StartedAtSetExactlyOnce", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{})

		first, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)
		assert.NotNil(t, first.StartedAt)

		_, err = svc.ChangeStatus(id, models.PausedOrderStatus, "op", "", "")
		assert.NoError(t, err)
		resumed, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)
		assert.Equal(t, *first.StartedAt, *resumed.StartedAt)
	})

	t.Run("CompletedAtSetOnCompletion", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{})

		_, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)
		order, err := svc.ChangeStatus(id, models.CompletedOrderStatus, "op", "", "")
		assert.NoError(t, err)
		assert.NotNil(t, order.CompletedAt)
	})

	t.Run("UnknownOrder", func(t *testing.T) {
		svc, _ := newOrderService(t)
		_, err := svc.ChangeStatus(999, models.InProgressOrderStatus, "op", "", "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestUpdateProgress(t *testing.T) {
	t.Run("ClampsToQuantity", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{Quantity: 5})
		_, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)

		qty := 12
		order, err := svc.UpdateProgress(id, &qty, nil, nil, "op")
		assert.NoError(t, err)
		assert.Equal(t, 5, order.CompletedQuantity)
	})

	t.Run("AutoCompletesOnTargetQuantity", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{Quantity: 3})
		_, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)

		qty := 3
		order, err := svc.UpdateProgress(id, &qty, nil, nil, "op")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedOrderStatus, order.Status)
		assert.NotNil(t, order.CompletedAt)

		history, err := svc.ListStatusHistory(id)
		assert.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, models.CompletedOrderStatus, history[1].ToStatus)
	})

	t.Run("PartialUpdateKeepsOtherFields", func(t *testing.T) {
		svc, store := newOrderService(t)
		id := seedOrder(t, store, models.Order{Quantity: 5})
		_, err := svc.ChangeStatus(id, models.InProgressOrderStatus, "op", "", "")
		assert.NoError(t, err)

		qty := 2
		_, err = svc.UpdateProgress(id, &qty, nil, nil, "op")
		assert.NoError(t, err)

		stationID := int64(7)
		order, err := svc.UpdateProgress(id, nil, &stationID, nil, "op")
		assert.NoError(t, err)
		assert.Equal(t, 2, order.CompletedQuantity)
		assert.Equal(t, int64(7), *order.CurrentStationID)
	})
}

func TestUpdatePriority(t *testing.T) {
	svc, store := newOrderService(t)
	a := seedOrder(t, store, models.Order{OrderNo: "A", Sequence: 1})
	b := seedOrder(t, store, models.Order{OrderNo: "B", Sequence: 2})
	c := seedOrder(t, store, models.Order{OrderNo: "C", Sequence: 3})

	// Insert C at sequence 1: A and B shift down, C takes the slot.
	seq := 1
	err := svc.UpdatePriority(c, 0, &seq)
	assert.NoError(t, err)

	orderA, _ := svc.GetOrder(a)
	orderB, _ := svc.GetOrder(b)
	orderC, _ := svc.GetOrder(c)
	assert.Equal(t, 2, orderA.Sequence)
	assert.Equal(t, 3, orderB.Sequence)
	assert.Equal(t, 1, orderC.Sequence)

	// Priority alone does not touch sequences.
	err = svc.UpdatePriority(a, 5, nil)
	assert.NoError(t, err)
	orderA, _ = svc.GetOrder(a)
	assert.Equal(t, 5, orderA.Priority)
	assert.Equal(t, 2, orderA.Sequence)
}

func TestBatchChangeStatus(t *testing.T) {
	svc, store := newOrderService(t)
	a := seedOrder(t, store, models.Order{OrderNo: "A"})
	b := seedOrder(t, store, models.Order{OrderNo: "B", Status: models.CompletedOrderStatus})
	c := seedOrder(t, store, models.Order{OrderNo: "C"})

	result, err := svc.BatchChangeStatus([]int64{a, b, c, 999}, models.InProgressOrderStatus, "op", "shift start")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{a, c}, result.Updated)
	assert.Len(t, result.Failed, 2)
	assert.Contains(t, result.Failed, b)
	assert.Contains(t, result.Failed, int64(999))

	orderA, _ := svc.GetOrder(a)
	assert.Equal(t, models.InProgressOrderStatus, orderA.Status)
	orderB, _ := svc.GetOrder(b)
	assert.Equal(t, models.CompletedOrderStatus, orderB.Status)
}

func TestGetStatistics(t *testing.T) {
	svc, store := newOrderService(t)
	seedOrder(t, store, models.Order{OrderNo: "A", Quantity: 10, CompletedQuantity: 5})
	seedOrder(t, store, models.Order{OrderNo: "B", Quantity: 10, CompletedQuantity: 10, Status: models.CompletedOrderStatus})

	stats, err := svc.GetStatistics()
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[models.PendingOrderStatus])
	assert.Equal(t, 1, stats.ByStatus[models.CompletedOrderStatus])
	assert.Equal(t, 20, stats.TotalQuantity)
	assert.Equal(t, 15, stats.CompletedQuantity)
	assert.Equal(t, "75.0%", stats.CompletionRate)
}

func TestGetStatisticsEmpty(t *testing.T) {
	svc, _ := newOrderService(t)
	stats, err := svc.GetStatistics()
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.TotalOrders)
	assert.Equal(t, "0.0%", stats.CompletionRate)
}
