package domain

import "encoding/json"

// User is the authenticated dashboard user as returned by the identity exchange and /auth/me.
type User struct {
	ID              json.Number `json:"id,omitempty"`
	Email           string      `json:"email"`
	GoogleID        string      `json:"google_id,omitempty"`
	Name            string      `json:"name,omitempty"`
	Picture         string      `json:"picture,omitempty"`
	IsStaff         bool        `json:"is_staff,omitempty"`
	DefaultDeviceID *string     `json:"default_device_id,omitempty"`
}

// DefaultDevice returns the user's designated default device id, or "" when none.
func (u *User) DefaultDevice() string {
	if u == nil || u.DefaultDeviceID == nil {
		return ""
	}
	return *u.DefaultDeviceID
}

// Session pairs the user with the bearer token. A non-empty Token means requests may be attempted.
type Session struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
