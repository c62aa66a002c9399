package models

import "time"

// OrderStatusHistory is an immutable record of one order status transition.
type OrderStatusHistory struct {
	ID         int64       `json:"id" db:"id"`
	OrderID    int64       `json:"order_id" db:"order_id"`
	FromStatus OrderStatus `json:"from_status" db:"from_status"`
	ToStatus   OrderStatus `json:"to_status" db:"to_status"`
	Actor      string      `json:"actor" db:"actor"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	Notes      string      `json:"notes,omitempty" db:"notes"`
	ChangedAt  time.Time   `json:"changed_at" db:"changed_at"`
}
