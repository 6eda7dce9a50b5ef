/**
 * @description
 * This file defines the ClientOrder domain model: a client's one-time or
 * recurring purchase from a coach. Orders are created pending at purchase
 * initiation and resolved later by the gateway webhook.
 */
package domain

import "time"

// Client order types.
const (
	OrderTypeOneTime = "one_time"
	OrderTypeMonthly = "monthly"
	OrderTypeYearly  = "yearly"
)

// ClientOrder represents a client's purchase from a coach.
type ClientOrder struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	CoachID   string    `json:"coach_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CourseID  *string   `json:"course_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
