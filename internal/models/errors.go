package models

import "errors"

// Domain error taxonomy. Handlers map these onto HTTP status codes;
// services and storage return them wrapped so callers can errors.Is.
var (
	ErrInsufficientCapacity = errors.New("not enough portions remaining")
	ErrCustomerNotFound     = errors.New("customer has no orders in scope")
	ErrNothingOwed          = errors.New("customer has no outstanding balance")
	ErrRequestNotFound      = errors.New("payment request not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDayNotFound          = errors.New("day not found")
	ErrOrderNotFound        = errors.New("order not found")
)
