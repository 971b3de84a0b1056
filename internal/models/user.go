package models

import "time"

// Role is the kind of member a user is. Messaging eligibility and credit
// metering are keyed by role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePatron Role = "patron"
	RoleSeeker Role = "seeker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePatron, RoleSeeker:
		return true
	}
	return false
}

// User represents a member of the site. Email is the store key; ID is the
// UUID used by messages and URLs.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Age          int       `json:"age,omitempty"`
	Location     string    `json:"location,omitempty"`
	Role         Role      `json:"role"`
	Sex          string    `json:"sex,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Interests    []string  `json:"interests,omitempty"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Credits      *int      `json:"credits,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Version is the store version the record was read at.
	Version string `json:"-"`
}

// Public returns a copy safe to send to clients (no password hash).
func (u User) Public() User {
	u.PasswordHash = ""
	u.Interests = append([]string(nil), u.Interests...)
	return u
}

// CreditBalance returns the credit balance, treating an unset balance as zero.
func (u User) CreditBalance() int {
	if u.Credits == nil {
		return 0
	}
	return *u.Credits
}

// UserSummary is the counterpart shape returned in conversation lists.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	Role  Role   `json:"role"`
	Email string `json:"email"`
}

// Summary projects the user onto a UserSummary.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Image: u.Image, Role: u.Role, Email: u.Email}
}
