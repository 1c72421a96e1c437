package models

// User represents an account from the user directory. This service only reads it.
type User struct {
	ID       string  `json:"id" db:"id"`
	Username string  `json:"username" db:"username"`
	Avatar   *string `json:"avatar,omitempty" db:"avatar"`
}

// UserResponse is what we send to clients
type UserResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Avatar:   u.Avatar,
	}
}
