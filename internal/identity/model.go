package identity

import "time"

// User represents a registered account keyed by phone number.
type User struct {
	ID           string
	Phone        string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
}

// Record is the candidate account assembled at the end of the registration
// flow. No partial user exists before it is handed to Create.
type Record struct {
	Phone     string
	FirstName string
	LastName  string
	Email     string
	Password  string
}
