package shop

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:      {StatusRefunded: true},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition is possible. Note that paid
// is not terminal here: an admin refund may still move it.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// RestoresStock reports whether entering this status gives reserved stock
// back. Checkout reserved it while the order was pending (or stayed reserved
// through paid), so any exit that doesn't end in a kept sale must release it.
func (s Status) RestoresStock() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}
