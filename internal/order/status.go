package order

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// One-directional: nothing re-enters pending, terminal states are final.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusExpired: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusExpired:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusCancelled
}
