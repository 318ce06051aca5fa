package model

import "time"

const (
	OrderStatusCreated   = "created"
	OrderStatusComplete  = "complete"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	ID            string // business id, shared across stores
	EventID       string
	TicketID      string
	CustomerEmail string
	Status        string
	AmountCents   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type Ticket struct {
	ID         string
	EventID    string
	Seat       string
	PriceCents int64
	Sold       bool
	CreatedAt  time.Time
	DeletedAt  *time.Time
}
