package models

import "time"

type Task struct {
	ID          int64     `db:"id" gorm:"primaryKey" json:"id"`
	Title       string    `db:"title" gorm:"size:225;not null" json:"title"`
	Description *string   `db:"description" gorm:"size:225" json:"description"`
	Done        bool      `db:"done" gorm:"not null;default:false" json:"done"`
	OwnerID     int64     `db:"owner_id" gorm:"index;not null" json:"owner_id"`
	Owner       *User     `db:"-" gorm:"foreignKey:OwnerID" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Permissions holds the full grant set when loaded from storage. Responses
	// must be scoped with authz.ScopePermissions before they leave the service.
	Permissions []Grant `db:"-" gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"permissions"`
}

func (Task) TableName() string { return "todos" }

// TaskInput is the body accepted by task create and update.
type TaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Done        bool    `json:"done"`

	// Permissions is nil when the field is absent or null, which leaves the
	// grant set untouched on update. An empty list clears it.
	Permissions []GrantRequest `json:"permissions"`
}
