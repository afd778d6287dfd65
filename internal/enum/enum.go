package enum

// ── Group A: State machine (CHECK constrained in DB) ──

const (
	OrderStatusNew       = "new"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusServed    = "served"
	OrderStatusClosed    = "closed"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	StationGrill  = "grill"
	StationFryer  = "fryer"
	StationCold   = "cold"
	StationDrinks = "drinks"
	StationHot    = "hot"
)

// ── Group C: Principal roles (issued by the identity service) ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleKitchen = "KITCHEN"
	UserRoleWaiter  = "WAITER"
)

// ── Group D: Event types pushed to displays and the event bus ──

const (
	EventOrdersSnapshot     = "orders.snapshot"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"
	EventRushChanged        = "rush.changed"
)
