package models

type User struct {
	ID           int64  `db:"id" gorm:"primaryKey" json:"id"`
	Username     string `db:"username" gorm:"size:200;uniqueIndex;not null" json:"username"`
	PasswordHash string `db:"hashed_password" gorm:"column:hashed_password;size:225;not null" json:"-"`
}

func (User) TableName() string { return "users" }

// Identity is the authenticated caller as carried by a bearer token.
type Identity struct {
	Username string `json:"username"`
	UserID   int64  `json:"id"`
}
