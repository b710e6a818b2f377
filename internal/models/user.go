package models

import "time"

// User is the minimal account record connections reference.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.

	Administrator bool `gorm:"column:is_administrator;not null;default:false"` // Administrator role.
	Owner         bool `gorm:"column:is_owner;not null;default:false"`         // Owner role.
	Manager       bool `gorm:"column:is_manager;not null;default:false"`       // Manager role.

	ActiveOrganizationID *uint64 `gorm:"index"` // Organization the user is working in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

func (u *User) IsAdministrator() bool { return u != nil && u.Administrator }

func (u *User) IsOwner() bool { return u != nil && u.Owner }

func (u *User) IsManager() bool { return u != nil && u.Manager }

// CurrentOrganizationID returns the active organization ID, or nil.
func (u *User) CurrentOrganizationID() *uint64 {
	if u == nil {
		return nil
	}
	return u.ActiveOrganizationID
}
