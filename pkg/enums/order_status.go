package enums

import "fmt"

// OrderStatus describes the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPaying    OrderStatus = "paying"
	OrderStatusStarted   OrderStatus = "started"
	OrderStatusShipment  OrderStatus = "shipment"
	OrderStatusDone      OrderStatus = "done"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusReturned  OrderStatus = "returned"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPaying,
	OrderStatusStarted,
	OrderStatusShipment,
	OrderStatusDone,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// IsValid reports whether the value matches the canonical order status enum.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDone, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts the raw string to OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
