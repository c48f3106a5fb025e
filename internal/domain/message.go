package domain

import "time"

// Message is a persisted chat message. Immutable after creation except the
// read flag.
type Message struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Sender    string    `json:"sender" gorm:"index;size:64;not null"`
	Recipient string    `json:"recipient" gorm:"index;size:64;not null"`
	Room      string    `json:"room" gorm:"index;size:160;not null"`
	Content   string    `json:"content" gorm:"not null"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	Read      bool      `json:"is_read" gorm:"default:false"`
}

// User is the account record this service reads (never writes). The SID is
// the stable identity used for presence, rooms and signaling; the display
// name is mutable and never used for addressing.
type User struct {
	SID      string `json:"sid" gorm:"primaryKey;size:64"`
	Username string `json:"username" gorm:"size:64"`
	Email    string `json:"email" gorm:"size:128"`
}
