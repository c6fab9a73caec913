// Package users exposes the profile table maintained by the identity
// service. This core only reads it.
package users

import "time"

// Profile is a user profile row.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
