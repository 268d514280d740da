package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusUrgent    Status = "URGENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// validNext is the single source of truth for transition legality.
// SHIPPED and CANCELLED are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusUrgent: true, StatusConfirmed: true, StatusCancelled: true},
	StatusUrgent:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) Known() bool {
	_, ok := validNext[s]
	return ok
}
