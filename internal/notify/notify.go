package notify

import (
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/registry"
)

// Notifier fans targeted events out through the connection registry.
// Delivery is best-effort to current connections only.
type Notifier struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Notifier {
	return &Notifier{reg: reg}
}

func (n *Notifier) Driver(driverID, eventType string, payload any) {
	n.reg.Send(driverID, models.RoleDriver, models.OK(eventType, payload))
}

func (n *Notifier) Customer(customerID, eventType string, payload any) {
	n.reg.Send(customerID, models.RoleCustomer, models.OK(eventType, payload))
}

// BroadcastCustomers sends the event to every connected customer, or to
// the subset the predicate selects.
func (n *Notifier) BroadcastCustomers(match func(id string) bool, eventType string, payload any) {
	n.reg.Broadcast(models.RoleCustomer, match, models.OK(eventType, payload))
}

// DriverCountChanged pushes the aggregate online-driver count to all
// customers; called on every driver connect and disconnect.
func (n *Notifier) DriverCountChanged(online int) {
	n.BroadcastCustomers(nil, "online_drivers", map[string]int{"count": online})
}
