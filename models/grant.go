package models

import (
	"encoding/json"
	"fmt"
)

// Permission is the kind of access a grant confers. It is a closed set:
// PermissionRead and PermissionUpdate are the only valid values.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionUpdate Permission = "update"
)

func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionUpdate:
		return true
	}
	return false
}

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("permission must be a string: %w", err)
	}
	parsed, err := ParsePermission(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Grant gives one user read or update access to one task they do not own.
type Grant struct {
	ID         int64      `db:"id" gorm:"primaryKey" json:"id"`
	TaskID     int64      `db:"task_id" gorm:"uniqueIndex:idx_task_permissions_task_user;not null" json:"-"`
	UserID     int64      `db:"user_id" gorm:"uniqueIndex:idx_task_permissions_task_user;index;not null" json:"user_id"`
	User       *User      `db:"-" gorm:"foreignKey:UserID" json:"-"`
	Permission Permission `db:"permission" gorm:"type:varchar(16);not null;check:chk_task_permissions_permission,permission IN ('read','update')" json:"permission"`
}

func (Grant) TableName() string { return "task_permissions" }

// GrantRequest names a grantee by username, as submitted by a task owner.
type GrantRequest struct {
	Username   string     `json:"username"`
	Permission Permission `json:"permission"`
}
