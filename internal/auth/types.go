package auth

import "time"

// UserStatus gates authentication.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

// User is a hub account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthToken is the persisted form of a bearer token. The raw value is never stored.
type AuthToken struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Identity is the result of a successful bearer authentication.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	TokenID     string
}

// UserView is the public projection of a user returned to clients.
type UserView struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status,omitempty"`
}

// View projects u for responses.
func (u User) View() UserView {
	return UserView{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Status: string(u.Status)}
}
