package model

import "time"

// Role is the access tier of a user, resolved from their profile.
// Users without a profile are RoleUser.
type Role string

const (
	RoleUser        Role = "user"
	RoleVisaAdmin   Role = "visa_admin"
	RoleMasterAdmin Role = "master_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleVisaAdmin, RoleMasterAdmin:
		return true
	}
	return false
}

// Elevated reports whether r is one of the admin tiers.
func (r Role) Elevated() bool {
	return r == RoleVisaAdmin || r == RoleMasterAdmin
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile assigns a role to a user. Absence of a profile is not an error:
// such users act with RoleUser and receive no mention notifications.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserType  Role      `json:"user_type"`
	CreatedAt time.Time `json:"created_at"`
}
