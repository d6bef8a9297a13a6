package models

// Account is a registered marketplace user. Identity is immutable after registration.
type Account struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string  `gorm:"size:255;not null" json:"name"`
	Phone        *string `gorm:"size:20" json:"phone,omitempty"`
	PasswordHash string  `gorm:"size:255;not null" json:"-"`

	Timestamps
}
