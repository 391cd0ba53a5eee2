package models

import "time"

// Role is a closed set of organisational roles. Behaviour attached to a
// role lives in the access package's capability table.
type Role string

const (
	RoleClerk      Role = "clerk"
	RoleATM        Role = "atm" // audit team member
	RoleATL        Role = "atl" // audit team leader
	RoleSupervisor Role = "supervisor"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{RoleClerk, RoleATM, RoleATL, RoleSupervisor}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User is the identity behind a principal. Profile management lives
// outside this service; only presence fields are written here.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	Username string     `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email    string     `gorm:"size:254" json:"email,omitempty"`
	Role     Role       `gorm:"size:20;default:clerk;not null" json:"role"`
	Avatar   string     `json:"avatar"`
	IsOnline bool       `gorm:"default:false" json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
