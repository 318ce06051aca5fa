package email

import (
	"fmt"
	"strings"
)

// Confirmation carries the fields the purchase confirmation mail needs.
type Confirmation struct {
	OrderID     string
	EventID     string
	Seat        string
	AmountCents int64
}

func ComposeConfirmation(c Confirmation) (subject, body string) {
	subject = "Your ticket is confirmed"
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your purchase!\n\n")
	fmt.Fprintf(&b, "Order: %s\n", c.OrderID)
	fmt.Fprintf(&b, "Event: %s\n", c.EventID)
	if c.Seat != "" {
		fmt.Fprintf(&b, "Seat: %s\n", c.Seat)
	}
	if c.AmountCents > 0 {
		fmt.Fprintf(&b, "Total: $%d.%02d\n", c.AmountCents/100, c.AmountCents%100)
	}
	b.WriteString("\nSee you there.\n")
	return subject, b.String()
}

func ComposeCancellation(orderID string) (subject, body string) {
	subject = "Your order was cancelled"
	body = fmt.Sprintf("Order %s has been cancelled. If you did not request this, reply to this email.\n", orderID)
	return subject, body
}
