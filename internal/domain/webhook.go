package domain

import "time"

// Webhook is a user-registered URL that receives every published event for
// that user.
type Webhook struct {
	ID          string
	OwnerUserID string
	URL         string
	CreatedAt   time.Time
}
