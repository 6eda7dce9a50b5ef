/**
 * @description
 * This file defines the Profile domain model. The billing engine reads
 * profiles for two things only: server-side role checks (roles are never
 * trusted from request payloads) and payer contact details for the gateway.
 */
package domain

// User roles.
const (
	RoleCoach  = "coach"
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Profile is the slice of a user account the billing engine cares about.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Role          string `json:"role"`
	WalletCredits int64  `json:"wallet_credits"`
}
