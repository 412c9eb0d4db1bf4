package backend

import "time"

// ProfileRecord is the platform's persisted user record, keyed by the
// identity provider's subject id. The gateway relays it without owning it.
type ProfileRecord struct {
	ID           string    `json:"id"`
	SubID        string    `json:"sub_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Mobile       string    `json:"mobile"`
	Country      string    `json:"country"`
	IsActive     bool      `json:"is_active"`
	CreditsUsed  int       `json:"credits_used"`
	CreditsLimit int       `json:"credits_limit"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateProfileRequest is the POST /users/ payload.
type CreateProfileRequest struct {
	SubID     string `json:"sub_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Country   string `json:"country"`
	Mobile    string `json:"mobile"`
}
