package models

// Session is the authenticated principal of a request.
type Session struct {
	UserID string
	Email  string
	Role   Role
}

// Privileged reports whether the session may see every eligible conversation.
func (s Session) Privileged() bool {
	return s.Role == RoleAdmin
}
