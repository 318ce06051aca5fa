package model

import "time"

// Event is a bookable happening (concert, show, game). ID is the
// business-assigned identifier used to address the same entity in every
// store; the projection side never sees this service's surrogate keys.
type Event struct {
	ID         string
	Title      string
	Venue      string
	StartsAt   time.Time
	Capacity   int
	PriceCents int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

func (e *Event) Deleted() bool {
	return e.DeletedAt != nil
}
