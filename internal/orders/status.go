package orders

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusEnRoute   Status = "en-route"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every accepted value in display order.
var Statuses = []Status{StatusPending, StatusEnRoute, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEnRoute, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// TransitionPolicy reports whether an order may move from one status to another.
type TransitionPolicy func(from, to Status) bool

// Unrestricted allows any status to follow any other.
func Unrestricted(from, to Status) bool { return to.Valid() }

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusEnRoute: true, StatusCancelled: true},
	StatusEnRoute:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Strict enforces the fulfilment flow; completed and cancelled are terminal.
func Strict(from, to Status) bool {
	return validNext[from][to]
}

func (p TransitionPolicy) allows(from, to Status) bool {
	if from == to {
		return true
	}
	return p(from, to)
}
