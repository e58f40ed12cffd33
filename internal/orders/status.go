package orders

import "strings"

type Status string

const (
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// Delivered and Cancelled have no way out.
var validNext = map[Status]map[Status]bool{
	StatusProcessing: {StatusProcessing: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusShipped:    {StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if _, ok := validNext[st]; !ok {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}
