// Package events holds the wire contracts shared by the user and order
// services. One event type per topic; payloads are plain UTF-8 JSON.
package events

import "github.com/google/uuid"

// UserCreated is emitted by the user service once per successful user
// creation. The order service projects it into its known_users table.
type UserCreated struct {
	UserID uuid.UUID `json:"userId"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
}

// OrderCreated is emitted by the order service once per successful order
// creation. The user service only observes it.
type OrderCreated struct {
	OrderID  uuid.UUID `json:"orderId"`
	UserID   uuid.UUID `json:"userId"`
	Product  string    `json:"product"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
}
